package raft

// tick handles a Timeout event, dispatching on role exactly as an
// etcd-style raft core's tickElection/tickHeartbeat do, but expressed as
// deadline comparisons against caller-supplied timestamps instead of a
// per-tick counter, since this core has no built-in clock.
func (s *Server) tick(now int64) error {
	switch s.state {
	case Follower, Candidate:
		s.tickElection(now)
	case Leader:
		s.tickLeader(now)
	}
	return nil
}

func (s *Server) tickElection(now int64) {
	if !s.isVoter(s.id) {
		return
	}
	if !s.pastElectionTimeout(now) {
		return
	}
	s.logger.Infof("%d election timeout elapsed at term %d", s.id, s.currentTerm)
	s.campaign(now, s.cfg.PreVote)
}

// tickLeader sends heartbeats to stale followers, retries any in-flight
// snapshot install that has gone quiet, advances catch-up rounds,
// expires a stalled leadership transfer, and steps down if a majority of
// voters haven't been heard from within election_timeout (check-quorum,
// §4.4).
func (s *Server) tickLeader(now int64) {
	s.bcastHeartbeat(now)
	s.retrySnapshotInstalls(now)
	s.checkCatchUps(now)
	s.abortTransferIfExpired(now)

	if !s.hasRecentQuorum(now) {
		s.logger.Warningf("%d lost quorum contact, stepping down at term %d", s.id, s.currentTerm)
		s.becomeFollower(s.currentTerm, 0, now)
	}
}

// retrySnapshotInstalls re-requests a chunk for any follower whose
// Snapshot-state install has not heard back within
// install_snapshot_timeout (§4.5).
func (s *Server) retrySnapshotInstalls(now int64) {
	if s.progress == nil {
		return
	}
	s.progress.forEach(func(id ServerID, p *Progress) {
		if p.State != ProgressSnapshot {
			return
		}
		if now-p.LastSendTime < s.cfg.InstallSnapshotTimeout {
			return
		}
		s.startSnapshotInstall(id, p)
	})
}

// hasRecentQuorum reports whether a majority of voters (including self)
// have been heard from within the last election_timeout.
func (s *Server) hasRecentQuorum(now int64) bool {
	if s.progress == nil {
		return true
	}
	fresh := 0
	for _, id := range s.configuration.Voters() {
		if id == s.id {
			fresh++
			continue
		}
		if p := s.progress.get(id); p != nil && now-p.LastRecvTime < s.cfg.ElectionTimeout {
			fresh++
		}
	}
	return fresh >= s.quorum()
}

// stepSubmit appends caller-supplied entries as a batch, rejecting the
// request if this Server is not the leader or a leadership transfer is
// in flight (§4.1, §4.7).
func (s *Server) stepSubmit(event Event) error {
	if s.state != Leader {
		return ErrNotLeader
	}
	if s.transfer != nil {
		return ErrLeadershipLost
	}
	if len(event.SubmitEntries) == 0 {
		return ErrBadParam
	}
	s.appendEntries(event.SubmitEntries...)
	s.bcastAppend()
	return nil
}

// stepPersistedEntries advances last_stored on a successful completion.
// A failure is an IoFault that propagates to the caller; if it occurred
// while this Server was leading, it steps down to a safe state rather
// than continuing to advertise entries it could not durably store (§7).
func (s *Server) stepPersistedEntries(event Event) error {
	if event.PersistStatus != nil {
		if s.state == Leader {
			s.becomeFollower(s.currentTerm, 0, event.Time)
		}
		return ErrIOFault
	}
	last := event.PersistFirstIndex + event.PersistCount - 1
	if last > s.lastStored {
		s.lastStored = last
	}
	return nil
}
