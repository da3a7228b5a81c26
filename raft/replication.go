package raft

// bcastAppend asks every follower's Progress to decide what to send
// (§4.4): in Probe/Pipeline state an AppendEntries, in Snapshot state
// nothing here (the snapshot chunk stream is driven separately by
// snapshot.go).
func (s *Server) bcastAppend() {
	if s.progress == nil {
		return
	}
	s.progress.forEach(func(id ServerID, p *Progress) {
		if id == s.id {
			return
		}
		s.sendAppend(id, p)
	})
}

// sendAppend sends an AppendEntries to a single follower if the leader's
// log still has the entry it needs; otherwise it switches that follower
// into Snapshot state (§4.4 "If the needed prev entry is already
// compacted below the log's first_index, the leader switches to
// Snapshot state").
func (s *Server) sendAppend(id ServerID, p *Progress) bool {
	if p.State == ProgressSnapshot {
		return false
	}
	prevIndex := p.Next - 1
	prevTerm, haveTerm := s.log.TermOf(prevIndex)
	if p.Next < s.log.FirstIndex() || (!haveTerm && prevIndex != 0) {
		s.startSnapshotInstall(id, p)
		return false
	}
	entries := s.log.EntriesFrom(p.Next, 0)
	p.LastSendTime = s.now
	s.send(Message{
		Type:         MsgAppendEntries,
		To:           id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: s.commitIndex,
	})
	return true
}

// bcastHeartbeat sends an empty AppendEntries to every follower whose
// LastSendTime is older than heartbeat_timeout (§4.4).
func (s *Server) bcastHeartbeat(now int64) {
	if s.progress == nil {
		return
	}
	s.progress.forEach(func(id ServerID, p *Progress) {
		if id == s.id {
			return
		}
		if now-p.LastSendTime < s.cfg.HeartbeatTimeout {
			return
		}
		if p.State == ProgressSnapshot {
			return
		}
		prevIndex := p.Next - 1
		prevTerm, haveTerm := s.log.TermOf(prevIndex)
		if p.Next < s.log.FirstIndex() || (!haveTerm && prevIndex != 0) {
			s.startSnapshotInstall(id, p)
			return
		}
		p.LastSendTime = now
		s.send(Message{
			Type:         MsgAppendEntries,
			To:           id,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			LeaderCommit: s.commitIndex,
		})
	})
}

// handleAppendEntries is the follower side of §4.4: accept iff term is at
// least current and (prev_log_index, prev_log_term) matches; on match,
// truncate any conflicting suffix, append new entries, and advance commit
// to min(leader_commit, last new entry). On mismatch, reject with our own
// last_index as a hint.
func (s *Server) handleAppendEntries(now int64, m Message) error {
	if s.state != Follower {
		// A candidate (or a stale leader at the same term, which cannot
		// happen under election safety but costs nothing to cover)
		// recognizes the current term's leader by its append traffic
		// (§4.8 "Candidate -> Follower on new leader's heartbeat").
		s.becomeFollower(m.Term, m.From, now)
	}
	s.leaderID = m.From
	s.resetElectionTimer(now)
	s.updates |= UpdateState

	if m.PrevLogIndex < s.commitIndex {
		// Already committed this span; ack at our commit index so the
		// leader's Progress advances without re-deriving a prev match.
		s.send(Message{Type: MsgAppendEntriesResult, To: m.From, Success: true, PrevLogIndex: s.commitIndex})
		return nil
	}

	last, ok := s.log.MaybeAppend(m.PrevLogIndex, m.PrevLogTerm, m.Entries)
	if !ok {
		s.logger.Debugf("%d rejected AppendEntries [index: %d, term: %d] from %d", s.id, m.PrevLogIndex, m.PrevLogTerm, m.From)
		s.send(Message{Type: MsgAppendEntriesResult, To: m.From, Success: false, PrevLogIndex: m.PrevLogIndex, RejectHint: s.log.LastIndex()})
		return nil
	}
	if len(m.Entries) > 0 {
		s.updates |= UpdateEntries
		if s.entriesOut == nil {
			s.entriesIndex = m.PrevLogIndex + 1
		}
		s.entriesOut = append(s.entriesOut, m.Entries...)
		for _, e := range m.Entries {
			if e.Kind == EntryConfiguration {
				if conf, err := DecodeConfiguration(e.Data); err == nil {
					// Effective immediately on append, per §4.4; commit
					// bookkeeping (configurationCommittedIndex) only
					// advances once the entry is actually applied, in
					// applyCommitted below.
					s.configuration = conf
					s.configurationUncommittedIndex = e.Index
				}
			}
		}
	}
	if m.LeaderCommit > s.commitIndex {
		newCommit := m.LeaderCommit
		if last < newCommit {
			newCommit = last
		}
		s.setCommitIndex(newCommit)
	}
	s.send(Message{Type: MsgAppendEntriesResult, To: m.From, Success: true, PrevLogIndex: last})
	return nil
}

// handleAppendEntriesResult is the leader side of a follower's reply.
// On reject, narrow Next per §4.4's clamp and retry immediately; on
// accept, advance Match/Next and promote Probe->Pipeline.
func (s *Server) handleAppendEntriesResult(now int64, m Message) error {
	if s.state != Leader || s.progress == nil {
		return nil
	}
	p := s.progress.get(m.From)
	if p == nil {
		return nil
	}
	p.LastRecvTime = now
	if !m.Success {
		if p.State == ProgressSnapshot {
			return nil
		}
		if p.maybeDecrTo(m.RejectHint) {
			s.sendAppend(m.From, p)
		}
		return nil
	}
	if p.State == ProgressSnapshot && m.PrevLogIndex >= p.SnapshotIndex {
		// The follower has confirmed the install; resume normal
		// replication right after the snapshot boundary (§4.5).
		p.State = ProgressPipeline
		p.SnapshotIndex = 0
	}
	p.maybeUpdate(m.PrevLogIndex)
	// Every ack from an up-to-date transfer target re-sends TimeoutNow, so
	// a lost TimeoutNow is retried on the next heartbeat round.
	if m.From == s.transferTargetID() && p.Match == s.log.LastIndex() {
		s.sendTimeoutNow(m.From)
	}
	// An ack below the leader's tail means the follower is still
	// missing a suffix; ship it now rather than waiting for the next
	// submission to trigger a broadcast.
	if p.State != ProgressSnapshot && p.Next <= s.log.LastIndex() {
		s.sendAppend(m.From, p)
	}
	return nil
}

func (s *Server) handleAppendEntriesSent(event Event) error {
	// Transient send failures are swallowed and retried via the normal
	// heartbeat/probe timers (§7 "transient send/receive failures are
	// swallowed and retried").
	return nil
}

func (s *Server) transferTargetID() ServerID {
	if s.transfer == nil {
		return 0
	}
	return *s.transfer
}

func (s *Server) setCommitIndex(index uint64) {
	if index > s.commitIndex {
		s.commitIndex = index
	}
}

// advanceCommit finds the highest index N such that a majority of voters
// have match_index >= N and the entry at N is in the current term, then
// applies every newly committed entry in order (§4.4). Followers never
// call this with a voter quorum check; their commit_index only advances
// from AppendEntries' leader_commit field (handled in handleAppendEntries
// above), matching the Raft rule that only the leader originates commit
// advancement from its own term.
func (s *Server) advanceCommit() {
	if s.state == Leader && s.progress != nil {
		voters := s.configuration.Voters()
		quorum := s.quorum()
		n := s.progress.matchIndexQuorum(voters, quorum)
		if n > s.commitIndex {
			if term, ok := s.log.TermOf(n); ok && term == s.currentTerm {
				s.setCommitIndex(n)
				s.bcastAppend()
			}
		}
	}
	s.applyCommitted()
}

// applyCommitted stages (last_applied, commit_index] for the caller to
// hand to the FSM, in order. A configuration entry's content already took
// effect on append (§4.4); what advances here is the bookkeeping marker
// configurationCommittedIndex, once that entry is durably committed.
func (s *Server) applyCommitted() {
	if s.commitIndex <= s.lastApplied {
		return
	}
	for idx := s.lastApplied + 1; idx <= s.commitIndex; idx++ {
		e, ok := s.log.Get(idx)
		if !ok {
			break
		}
		s.applyOut = append(s.applyOut, e)
		s.lastApplied = idx
		if e.Kind == EntryConfiguration {
			s.configurationCommittedIndex = idx
			if s.configurationUncommittedIndex == idx {
				s.configurationUncommittedIndex = 0
			}
		}
	}
	if len(s.applyOut) > 0 {
		s.updates |= UpdateApply
	}
}
