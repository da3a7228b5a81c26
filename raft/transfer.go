package raft

// stepTransfer starts a leadership transfer (§4.7): the leader stops
// accepting new submissions (enforced in stepSubmit), ensures the target
// has all entries up to the leader's own last_index, and sends
// TimeoutNow once it does.
func (s *Server) stepTransfer(event Event) error {
	if s.state != Leader {
		return ErrNotLeader
	}
	if !s.isVoter(event.TargetID) {
		return ErrBadParam
	}
	target := event.TargetID
	s.transfer = &target
	s.transferStart = event.Time

	p := s.progress.get(target)
	if p == nil {
		return ErrBadParam
	}
	if p.Match == s.log.LastIndex() {
		s.sendTimeoutNow(target)
		return nil
	}
	s.sendAppend(target, p)
	return nil
}

func (s *Server) sendTimeoutNow(to ServerID) {
	s.send(Message{Type: MsgTimeoutNow, To: to})
	s.logger.Infof("%d sent TimeoutNow to %d", s.id, to)
}

// handleTimeoutNow is the transfer target's side (§4.7): if it is a
// voter, campaign immediately for a real vote (bypassing pre-vote, since
// the outgoing leader has already vouched for this target being
// up to date).
func (s *Server) handleTimeoutNow(now int64, m Message) error {
	if !s.isVoter(s.id) {
		return nil
	}
	s.campaign(now, false)
	return nil
}

// abortTransferIfExpired cancels an in-flight transfer that has not
// produced a term change within election_timeout (§4.7).
func (s *Server) abortTransferIfExpired(now int64) {
	if s.transfer == nil {
		return
	}
	if now-s.transferStart >= s.cfg.ElectionTimeout {
		s.logger.Warningf("%d aborting leadership transfer to %d: timed out", s.id, *s.transfer)
		s.outcomes = append(s.outcomes, RequestOutcome{Kind: RequestTransfer, Target: *s.transfer, Err: ErrCancelled})
		s.transfer = nil
	}
}
