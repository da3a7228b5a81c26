package raft

const snapshotChunkSize = 4096

// startSnapshotInstall switches a follower's Progress into Snapshot state
// and requests the first chunk from the collaborator via Update.LoadSnapshot.
// Chunk completions for a load-to-send come back through the same
// EventPersistedSnapshot kind as a follower's persist-received-chunk
// completion; there is no separate "chunk loaded" event, so the two
// directions share one completion kind, disambiguated by Server.state.
func (s *Server) startSnapshotInstall(id ServerID, p *Progress) {
	p.becomeSnapshot(s.log.SnapshotIndex())
	p.LastSendTime = s.now
	s.loadSnapOut = SnapshotTransfer{
		Metadata: SnapshotMetadata{
			Index:         s.log.SnapshotIndex(),
			Term:          s.log.SnapshotTerm(),
			Configuration: s.configuration.Copy(),
		},
		Offset: 0,
	}
	s.updates |= UpdateSnapshot
}

// handleInstallSnapshot is the follower side (§4.5): stage the chunk for
// persistence. Restoration happens only once done=true and the caller
// reports the persist completion via EventPersistedSnapshot.
func (s *Server) handleInstallSnapshot(now int64, m Message) error {
	if s.state != Follower {
		s.becomeFollower(m.Term, m.From, now)
	}
	s.leaderID = m.From
	s.resetElectionTimer(now)
	s.updates |= UpdateState

	if m.LastIncludedIndex <= s.log.SnapshotIndex() {
		// Already at or past this snapshot; ack without restoring.
		s.send(Message{Type: MsgAppendEntriesResult, To: m.From, Success: true, PrevLogIndex: s.log.LastIndex()})
		return nil
	}

	s.pendingSnapOut = SnapshotTransfer{
		Metadata: SnapshotMetadata{
			Index:         m.LastIncludedIndex,
			Term:          m.LastIncludedTerm,
			Configuration: m.Configuration,
		},
		Offset: m.Offset,
		Chunk:  m.Data,
		Last:   m.Done,
	}
	s.updates |= UpdateSnapshot
	return nil
}

// stepPersistedSnapshot handles completion of a chunk operation. On the
// follower side (persisting a received chunk) it acks the leader once
// Last is true, restoring the log and configuration. On the leader side
// (loading a chunk to send) it sends the chunk as an InstallSnapshot
// message and, unless Last, requests the next offset.
func (s *Server) stepPersistedSnapshot(event Event) error {
	if event.SnapshotStatus != nil {
		s.logger.Warningf("%d snapshot chunk operation at offset %d failed: %v", s.id, event.SnapshotOffset, event.SnapshotStatus)
		return nil
	}

	if s.state == Leader {
		return s.sendSnapshotChunk(event)
	}

	if !event.SnapshotLast {
		return nil
	}
	s.log.Restore(event.SnapshotMetadata.Index, event.SnapshotMetadata.Term)
	s.configuration = event.SnapshotMetadata.Configuration.Copy()
	s.configurationLastSnapshotIndex = event.SnapshotMetadata.Index
	s.configurationCommittedIndex = event.SnapshotMetadata.Index
	s.commitIndex = event.SnapshotMetadata.Index
	s.lastApplied = event.SnapshotMetadata.Index
	s.lastStored = event.SnapshotMetadata.Index
	s.send(Message{Type: MsgAppendEntriesResult, To: s.leaderID, Success: true, PrevLogIndex: s.log.LastIndex()})
	return nil
}

// sendSnapshotChunk is the leader driving its own chunk stream: having
// loaded a chunk, ship it to the follower and, unless it was the last
// chunk, request the next offset.
func (s *Server) sendSnapshotChunk(event Event) error {
	id := s.leaderTargetForSnapshot(event.SnapshotMetadata.Index)
	if id == 0 {
		return nil
	}
	p := s.progress.get(id)
	if p == nil || p.State != ProgressSnapshot {
		return nil
	}
	p.LastSendTime = event.Time
	s.send(Message{
		Type:              MsgInstallSnapshot,
		To:                id,
		LastIncludedIndex: event.SnapshotMetadata.Index,
		LastIncludedTerm:  event.SnapshotMetadata.Term,
		Configuration:     event.SnapshotMetadata.Configuration,
		Offset:            event.SnapshotOffset,
		Data:              event.SnapshotChunk,
		Done:              event.SnapshotLast,
	})
	if event.SnapshotLast {
		return nil
	}
	s.loadSnapOut = SnapshotTransfer{
		Metadata: event.SnapshotMetadata,
		Offset:   event.SnapshotOffset + snapshotChunkSize,
	}
	s.updates |= UpdateSnapshot
	return nil
}

// leaderTargetForSnapshot finds the follower currently in Snapshot state
// for the given snapshot index, since the completion event carries no
// destination id of its own.
func (s *Server) leaderTargetForSnapshot(index uint64) ServerID {
	var target ServerID
	if s.progress == nil {
		return 0
	}
	s.progress.forEach(func(id ServerID, p *Progress) {
		if target == 0 && p.State == ProgressSnapshot && p.SnapshotIndex == index {
			target = id
		}
	})
	return target
}

func (s *Server) handleInstallSnapshotSent(event Event) error {
	// Transient send failure; the install_snapshot_timeout retry in
	// tick.go resends if nothing is heard back (§4.5).
	return nil
}

// maybeTriggerSnapshot requests a new snapshot when last_applied has
// pulled far enough ahead of the log's first index and no snapshot is
// already in progress (§4.5).
func (s *Server) maybeTriggerSnapshot() {
	if s.snapshotTaking {
		return
	}
	if s.lastApplied < s.log.FirstIndex() {
		return
	}
	if s.lastApplied-s.log.FirstIndex() < s.cfg.SnapshotThreshold {
		return
	}
	s.snapshotTaking = true
	s.takeSnapshot = true
}

// stepSnapshotTaken handles the application reporting that it finished
// taking a snapshot (§4.5): compact the log up to the snapshot's index,
// keeping the event's SnapshotTrailing entries.
func (s *Server) stepSnapshotTaken(event Event) error {
	s.snapshotTaking = false
	if err := s.log.Snapshot(event.TakenSnapshot.Index, event.TakenSnapshot.Term, event.SnapshotTrailing); err != nil {
		return err
	}
	if event.TakenSnapshot.Index >= s.configurationCommittedIndex {
		s.configurationLastSnapshotIndex = event.TakenSnapshot.Index
	}
	return nil
}
