package raft

// campaign starts a new election (§4.3). When preVote is true this sends
// a straw-poll RequestVote with pre=true that never bumps current_term;
// a quorum of positive pre-vote replies triggers a real candidacy via
// handleRequestVoteResult, or directly here when the self-vote alone is
// a quorum.
func (s *Server) campaign(now int64, preVote bool) {
	s.becomeCandidate(now, preVote)

	if s.configuration.Quorum() == 1 {
		grants, _ := s.progress.recordVote(s.id, true)
		if grants >= s.quorum() {
			if preVote {
				s.campaign(now, false)
			} else {
				s.becomeLeader(now)
				s.bcastAppend()
			}
			return
		}
	} else {
		s.progress.recordVote(s.id, true)
	}

	term := s.currentTerm
	if preVote {
		term++
	}
	for _, srv := range s.configuration.Servers {
		if srv.ID == s.id || srv.Role != Voter {
			continue
		}
		s.send(Message{
			Type:         MsgRequestVote,
			To:           srv.ID,
			Term:         term,
			PreVote:      preVote,
			LastLogIndex: s.log.LastIndex(),
			LastLogTerm:  s.log.LastTerm(),
		})
	}
}

// handleRequestVote implements the grant rules of §4.3: grant iff the
// candidate's term is at least ours, we haven't voted for someone else
// this term (and, if we haven't voted, know of no leader this term), and
// the candidate's log is at least as up to date as ours.
// Pre-vote requests are answered without ever recording a vote or
// resetting the election timer, so a pre-vote round never disrupts a
// healthy leader.
func (s *Server) handleRequestVote(now int64, m Message) error {
	if m.PreVote {
		// A server still hearing from a live leader refuses the straw
		// poll, which is the whole point of pre-vote: a partitioned
		// returnee cannot disrupt a healthy cluster.
		noLeaderContact := s.leaderID == 0 || s.pastElectionTimeout(now)
		granted := noLeaderContact && m.Term >= s.currentTerm && s.log.IsUpToDate(m.LastLogIndex, m.LastLogTerm)
		s.send(Message{Type: MsgRequestVoteResult, To: m.From, Term: m.Term, PreVote: true, VoteGranted: granted})
		return nil
	}

	canVote := s.votedFor == m.From || (s.votedFor == 0 && s.leaderID == 0)
	granted := canVote && m.Term >= s.currentTerm && s.log.IsUpToDate(m.LastLogIndex, m.LastLogTerm)
	if granted {
		s.votedFor = m.From
		s.resetElectionTimer(now)
		s.updates |= UpdateState
		s.logger.Infof("%d voted for %d at term %d", s.id, m.From, m.Term)
	} else {
		s.logger.Infof("%d rejected vote for %d at term %d", s.id, m.From, m.Term)
	}
	s.send(Message{Type: MsgRequestVoteResult, To: m.From, Term: s.currentTerm, VoteGranted: granted})
	return nil
}

// handleRequestVoteResult tallies a vote reply. A pre-vote quorum starts
// a real candidacy; a real-vote quorum becomes leader; a rejection
// quorum steps back down to follower (§4.3, §4.8).
func (s *Server) handleRequestVoteResult(now int64, m Message) error {
	if s.state != Candidate || s.progress == nil {
		return nil
	}
	if !s.isVoter(m.From) {
		return nil
	}
	grants, rejections := s.progress.recordVote(m.From, m.VoteGranted)
	quorum := s.quorum()
	switch {
	case grants >= quorum:
		if m.PreVote {
			s.campaign(now, false)
			return nil
		}
		s.becomeLeader(now)
		s.bcastAppend()
	case rejections >= quorum:
		s.becomeFollower(s.currentTerm, 0, now)
	}
	return nil
}
