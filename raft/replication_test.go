package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFollowerAppendsAndCommits(t *testing.T) {
	s := newTestServer(t, 1, nil)
	update := mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 100, Message: Message{
		Type: MsgAppendEntries, From: 2, Term: 1,
		PrevLogIndex: 1, PrevLogTerm: 1,
		Entries:      []Entry{{Index: 2, Term: 1, Kind: EntryCommand, Data: []byte("a")}},
		LeaderCommit: 2,
	}})

	require.NotZero(t, update.Flags&UpdateEntries)
	require.Equal(t, uint64(2), update.PersistEntries.FirstIndex)
	require.Len(t, update.Messages, 1)
	require.True(t, update.Messages[0].Success)
	require.Equal(t, uint64(2), update.Messages[0].PrevLogIndex)
	require.Equal(t, uint64(2), s.CommitIndex())
	require.Len(t, update.Apply, 2)
}

func TestFollowerRejectsPrevMismatch(t *testing.T) {
	s := newTestServer(t, 1, nil)
	update := mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 100, Message: Message{
		Type: MsgAppendEntries, From: 2, Term: 1,
		PrevLogIndex: 5, PrevLogTerm: 1,
		Entries: []Entry{{Index: 6, Term: 1, Kind: EntryCommand}},
	}})

	require.Len(t, update.Messages, 1)
	require.False(t, update.Messages[0].Success)
	require.Equal(t, uint64(1), update.Messages[0].RejectHint)
	require.Equal(t, uint64(1), s.log.LastIndex())
}

// The follower truncates a conflicting suffix and accepts the newer
// leader's entry in its place.
func TestFollowerTruncatesConflictingSuffix(t *testing.T) {
	s := newTestServer(t, 1, nil)
	mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 100, Message: Message{
		Type: MsgAppendEntries, From: 2, Term: 2,
		PrevLogIndex: 1, PrevLogTerm: 1,
		Entries: []Entry{
			{Index: 2, Term: 1, Kind: EntryCommand, Data: []byte("b")},
			{Index: 3, Term: 2, Kind: EntryCommand, Data: []byte("c")},
		},
	}})
	require.Equal(t, uint64(3), s.log.LastIndex())

	update := mustStep(t, s, Event{Type: EventReceive, FromID: 3, Time: 200, Message: Message{
		Type: MsgAppendEntries, From: 3, Term: 3,
		PrevLogIndex: 2, PrevLogTerm: 1,
		Entries:      []Entry{{Index: 3, Term: 3, Kind: EntryCommand, Data: []byte("d")}},
		LeaderCommit: 3,
	}})

	require.True(t, update.Messages[len(update.Messages)-1].Success)
	term, ok := s.log.TermOf(3)
	require.True(t, ok)
	require.Equal(t, uint64(3), term)
	require.Equal(t, uint64(3), s.CommitIndex())
}

func TestFollowerAcksBelowCommitWithoutRewinding(t *testing.T) {
	s := newTestServer(t, 1, nil)
	mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 100, Message: Message{
		Type: MsgAppendEntries, From: 2, Term: 1,
		PrevLogIndex: 1, PrevLogTerm: 1,
		Entries:      []Entry{{Index: 2, Term: 1, Kind: EntryCommand}},
		LeaderCommit: 2,
	}})
	require.Equal(t, uint64(2), s.CommitIndex())

	// A duplicate delivery whose prev is below commit gets acked at the
	// commit index instead of re-running conflict resolution.
	update := mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 150, Message: Message{
		Type: MsgAppendEntries, From: 2, Term: 1,
		PrevLogIndex: 1, PrevLogTerm: 1,
		Entries: []Entry{{Index: 2, Term: 1, Kind: EntryCommand}},
	}})
	require.True(t, update.Messages[0].Success)
	require.Equal(t, uint64(2), update.Messages[0].PrevLogIndex)
}

func TestLeaderCommitsOnQuorumAck(t *testing.T) {
	s := newTestServer(t, 1, nil)
	makeLeader(t, s)

	mustStep(t, s, Event{Type: EventSubmit, Time: 3100, SubmitEntries: []Entry{
		{Kind: EntryCommand, Data: []byte("cmd")},
	}})
	require.Equal(t, uint64(3), s.log.LastIndex())
	require.Equal(t, uint64(0), s.CommitIndex())

	update := mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 3200, Message: Message{
		Type: MsgAppendEntriesResult, From: 2, Term: 2, Success: true, PrevLogIndex: 3,
	}})

	require.Equal(t, uint64(3), s.CommitIndex())
	require.Len(t, update.Apply, 3)

	// A second identical ack must not re-apply anything.
	update = mustStep(t, s, Event{Type: EventReceive, FromID: 3, Time: 3250, Message: Message{
		Type: MsgAppendEntriesResult, From: 3, Term: 2, Success: true, PrevLogIndex: 3,
	}})
	require.Empty(t, update.Apply)
	require.Equal(t, uint64(3), s.CommitIndex())
}

func TestLeaderProbesBackwardOnReject(t *testing.T) {
	s := newTestServer(t, 1, nil)
	makeLeader(t, s)

	update := mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 3100, Message: Message{
		Type: MsgAppendEntriesResult, From: 2, Term: 2, Success: false, RejectHint: 0,
	}})

	p := s.progress.get(2)
	require.Equal(t, uint64(1), p.Next)
	require.Equal(t, ProgressProbe, p.State)
	require.Len(t, update.Messages, 1)
	require.Equal(t, MsgAppendEntries, update.Messages[0].Type)
	require.Equal(t, uint64(0), update.Messages[0].PrevLogIndex)
	require.Len(t, update.Messages[0].Entries, 2)
}

func TestLeaderResendsSuffixOnPartialAck(t *testing.T) {
	s := newTestServer(t, 1, nil)
	makeLeader(t, s)
	mustStep(t, s, Event{Type: EventSubmit, Time: 3100, SubmitEntries: []Entry{
		{Kind: EntryCommand, Data: []byte("cmd")},
	}})

	// An ack at index 2 (the barrier) leaves index 3 outstanding; the
	// leader ships the suffix without waiting for the next submission.
	update := mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 3200, Message: Message{
		Type: MsgAppendEntriesResult, From: 2, Term: 2, Success: true, PrevLogIndex: 2,
	}})

	var resent *Message
	for i := range update.Messages {
		if update.Messages[i].Type == MsgAppendEntries && update.Messages[i].To == 2 {
			resent = &update.Messages[i]
		}
	}
	require.NotNil(t, resent)
	require.Equal(t, uint64(2), resent.PrevLogIndex)
	require.Len(t, resent.Entries, 1)
	require.Equal(t, uint64(3), resent.Entries[0].Index)
}

func TestLeaderStepsDownWithoutQuorumContact(t *testing.T) {
	s := newTestServer(t, 1, nil)
	makeLeader(t, s)

	mustStep(t, s, Event{Type: EventTimeout, Time: 3000 + 1500})
	require.Equal(t, Follower, s.State())
}

func TestLeaderSwitchesToSnapshotWhenPrevCompacted(t *testing.T) {
	s := newTestServer(t, 1, nil)
	makeLeader(t, s)
	require.NoError(t, s.log.Snapshot(2, 2, 0))

	update := mustStep(t, s, Event{Type: EventTimeout, Time: 3150})

	p := s.progress.get(2)
	require.Equal(t, ProgressSnapshot, p.State)
	require.NotZero(t, update.Flags&UpdateSnapshot)
	require.Equal(t, uint64(2), update.LoadSnapshot.Metadata.Index)
	require.Equal(t, uint64(0), update.LoadSnapshot.Offset)
}

func TestLeaderResumesReplicationAfterSnapshotAck(t *testing.T) {
	s := newTestServer(t, 1, nil)
	makeLeader(t, s)
	require.NoError(t, s.log.Snapshot(2, 2, 0))
	mustStep(t, s, Event{Type: EventTimeout, Time: 3150})
	require.Equal(t, ProgressSnapshot, s.progress.get(2).State)

	// The follower confirms the install by acking at the snapshot index.
	mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 3300, Message: Message{
		Type: MsgAppendEntriesResult, From: 2, Term: 2, Success: true, PrevLogIndex: 2,
	}})

	p := s.progress.get(2)
	require.Equal(t, ProgressPipeline, p.State)
	require.Equal(t, uint64(2), p.Match)
	require.Equal(t, uint64(3), p.Next)
}

func TestSnapshotTriggerAndCompaction(t *testing.T) {
	s := newTestServer(t, 1, func(cfg *Config) { cfg.SnapshotThreshold = 2 })
	makeLeader(t, s)
	mustStep(t, s, Event{Type: EventSubmit, Time: 3100, SubmitEntries: []Entry{
		{Kind: EntryCommand, Data: []byte("cmd")},
	}})

	update := mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 3200, Message: Message{
		Type: MsgAppendEntriesResult, From: 2, Term: 2, Success: true, PrevLogIndex: 3,
	}})
	require.True(t, update.TakeSnapshot)

	// A second Step while the snapshot is in progress must not ask again.
	again := mustStep(t, s, Event{Type: EventReceive, FromID: 3, Time: 3250, Message: Message{
		Type: MsgAppendEntriesResult, From: 3, Term: 2, Success: true, PrevLogIndex: 3,
	}})
	require.False(t, again.TakeSnapshot)

	mustStep(t, s, Event{Type: EventSnapshot, Time: 3300,
		TakenSnapshot:    SnapshotMetadata{Index: 3, Term: 2, Configuration: s.Configuration()},
		SnapshotTrailing: 1,
	})
	require.Equal(t, uint64(3), s.log.SnapshotIndex())
	require.Equal(t, uint64(3), s.log.FirstIndex())
}

func TestLeaderSendsTimeoutNowOnceTransferTargetIsCurrent(t *testing.T) {
	s := newTestServer(t, 1, nil)
	makeLeader(t, s)

	update := mustStep(t, s, Event{Type: EventTransfer, Time: 3100, TargetID: 2})
	// Target is behind; the leader first ships the missing entries.
	var sawTimeoutNow bool
	for _, m := range update.Messages {
		if m.Type == MsgTimeoutNow {
			sawTimeoutNow = true
		}
	}
	require.False(t, sawTimeoutNow)

	// Submissions are refused while the transfer is in flight.
	_, err := s.Step(Event{Type: EventSubmit, Time: 3150, SubmitEntries: []Entry{{Kind: EntryCommand}}})
	require.ErrorIs(t, err, ErrLeadershipLost)

	update = mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 3200, Message: Message{
		Type: MsgAppendEntriesResult, From: 2, Term: 2, Success: true, PrevLogIndex: s.log.LastIndex(),
	}})
	for _, m := range update.Messages {
		if m.Type == MsgTimeoutNow {
			sawTimeoutNow = true
			require.Equal(t, ServerID(2), m.To)
		}
	}
	require.True(t, sawTimeoutNow)
}

func TestTransferAbortsAfterElectionTimeout(t *testing.T) {
	s := newTestServer(t, 1, nil)
	makeLeader(t, s)
	mustStep(t, s, Event{Type: EventTransfer, Time: 3100, TargetID: 2})

	update := mustStep(t, s, Event{Type: EventTimeout, Time: 3100 + 1000})
	require.Len(t, update.Outcomes, 1)
	require.Equal(t, RequestTransfer, update.Outcomes[0].Kind)
	require.ErrorIs(t, update.Outcomes[0].Err, ErrCancelled)
}
