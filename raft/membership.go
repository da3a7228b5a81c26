package raft

// stepCatchUp begins (or restarts) catch-up round tracking for a server
// that must replicate up to the leader's current last_index before the
// promotion entry naming TargetRole can be appended (§4.6). It fails
// synchronously only when this Server is not the leader (ErrNotLeader)
// or the target is not in the configuration (ErrBadParam); a server
// that cannot keep up is reported via Cancelled once max_catch_up_rounds
// is exhausted (checked in tick.go).
func (s *Server) stepCatchUp(event Event) error {
	if s.state != Leader {
		return ErrNotLeader
	}
	if _, ok := s.configuration.Get(event.TargetID); !ok {
		return ErrBadParam
	}
	p := s.progress.get(event.TargetID)
	if p == nil {
		p = newProgress(1)
		s.progress.set(event.TargetID, p)
	}
	s.catchUps[event.TargetID] = &catchUpState{
		round:      1,
		roundStart: event.Time,
		roundIndex: s.log.LastIndex(),
		target: ConfigurationServer{
			ID:      event.TargetID,
			Address: event.TargetAddress,
			Role:    event.TargetRole,
		},
	}
	s.logger.Infof("%d starting catch-up round 1/%d for %d", s.id, s.cfg.MaxCatchUpRounds, event.TargetID)
	s.sendAppend(event.TargetID, p)
	return nil
}

// checkCatchUps is called on every tick (§4.1 Tick). A round ends once
// the follower's match_index reaches the leader's last_index as of the
// round's start. If the round completed within election_timeout, the
// server is caught up and its promotion entry is appended; otherwise a
// new round starts, up to max_catch_up_rounds, after which the promotion
// is aborted with Cancelled and the configuration is left unchanged
// (§4.6, scenario 6).
func (s *Server) checkCatchUps(now int64) {
	if s.state != Leader || len(s.catchUps) == 0 {
		return
	}
	for id, cu := range s.catchUps {
		p := s.progress.get(id)
		if p == nil {
			delete(s.catchUps, id)
			continue
		}
		if p.Match < cu.roundIndex {
			if now-cu.roundStart > s.cfg.MaxCatchUpRoundDuration {
				if cu.round >= s.cfg.MaxCatchUpRounds {
					s.abortCatchUp(id, "exhausted max catch-up rounds")
					continue
				}
				cu.round++
				cu.roundStart = now
				cu.roundIndex = s.log.LastIndex()
				s.logger.Infof("%d starting catch-up round %d/%d for %d", s.id, cu.round, s.cfg.MaxCatchUpRounds, id)
			} else if p.State != ProgressSnapshot && now-p.LastSendTime >= s.cfg.HeartbeatTimeout {
				s.sendAppend(id, p)
			}
			continue
		}

		roundDuration := now - cu.roundStart
		if roundDuration <= s.cfg.ElectionTimeout {
			s.promoteCaughtUp(id, cu)
			delete(s.catchUps, id)
			continue
		}
		if cu.round >= s.cfg.MaxCatchUpRounds {
			s.abortCatchUp(id, "exhausted max catch-up rounds")
			continue
		}
		cu.round++
		cu.roundStart = now
		cu.roundIndex = s.log.LastIndex()
		s.logger.Infof("%d starting catch-up round %d/%d for %d", s.id, cu.round, s.cfg.MaxCatchUpRounds, id)
	}
}

func (s *Server) abortCatchUp(id ServerID, reason string) {
	s.logger.Warningf("%d aborting catch-up for %d: %s", s.id, id, reason)
	delete(s.catchUps, id)
	s.outcomes = append(s.outcomes, RequestOutcome{Kind: RequestCatchUp, Target: id, Err: ErrCancelled})
}

// promoteCaughtUp appends the configuration change entry now that the
// target has demonstrated it can keep pace within one election_timeout.
func (s *Server) promoteCaughtUp(id ServerID, cu *catchUpState) {
	next, err := s.configuration.Apply(ConfigurationChange{Server: cu.target})
	if err != nil {
		s.logger.Warningf("%d failed to apply promotion for %d: %v", s.id, id, err)
		return
	}
	s.configuration = next
	s.configurationUncommittedIndex = s.log.LastIndex() + 1
	s.appendEntries(Entry{Kind: EntryConfiguration, Data: next.Encode()})
	s.bcastAppend()
	s.outcomes = append(s.outcomes, RequestOutcome{Kind: RequestCatchUp, Target: id})
	s.logger.Infof("%d appended promotion of %d to %s", s.id, id, cu.target.Role)
}

// ProposeConfigurationChange is the client-facing entry point for a
// single-server membership edit (§4.6 "A change entry proposes one role
// edit"). New servers and Spares being promoted to Voter must catch up
// first (see stepCatchUp/checkCatchUps); every other edit is appended
// immediately as an uncommitted configuration entry. Like Step, it
// returns an Update the caller must drain (the configuration entry to
// persist plus the AppendEntries fan-out carrying it).
func (s *Server) ProposeConfigurationChange(chg ConfigurationChange) (Update, error) {
	if s.closed {
		return Update{}, ErrShutdown
	}
	if s.state != Leader {
		return Update{}, ErrNotLeader
	}
	if s.configurationUncommittedIndex > s.configurationCommittedIndex {
		return Update{}, ErrBusy
	}
	existing, existed := s.configuration.Get(chg.Server.ID)
	needsCatchUp := !chg.Remove && chg.Server.Role == Voter && (!existed || existing.Role == Spare)
	if needsCatchUp && !existed {
		// The caller must first add the server as a Spare, then drive
		// promotion via EventCatchUp once it exists.
		return Update{}, ErrBadParam
	}
	s.resetScratch(s.now)
	if needsCatchUp {
		// Promotion of an existing Spare to Voter goes through the
		// catch-up rounds; the configuration entry is appended by
		// promoteCaughtUp once the target keeps pace (§4.6).
		return s.buildUpdate(), nil
	}
	next, err := s.configuration.Apply(chg)
	if err != nil {
		return Update{}, err
	}
	s.configuration = next
	if s.progress != nil {
		if chg.Remove {
			s.progress.remove(chg.Server.ID)
		} else if chg.Server.ID != s.id && chg.Server.Role != Spare && s.progress.get(chg.Server.ID) == nil {
			s.progress.set(chg.Server.ID, newProgress(s.log.LastIndex()+1))
		}
	}
	s.configurationUncommittedIndex = s.log.LastIndex() + 1
	s.appendEntries(Entry{Kind: EntryConfiguration, Data: next.Encode()})
	s.bcastAppend()
	return s.buildUpdate(), nil
}
