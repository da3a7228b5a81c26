package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfiguration() Configuration {
	return Configuration{Servers: []ConfigurationServer{
		{ID: 1, Address: "node-1", Role: Voter},
		{ID: 2, Address: "node-2", Role: Voter},
		{ID: 3, Address: "node-3", Role: Voter},
	}}
}

func newTestServer(t *testing.T, id ServerID, tune func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		ID:               id,
		ElectionTimeout:  1000,
		HeartbeatTimeout: 100,
		Seed:             int64(id),
		Logger:           NewDiscardLogger(),
	}
	if tune != nil {
		tune(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Bootstrap(testConfiguration()))
	require.NoError(t, srv.Start(PersistedState{CurrentTerm: 1}, nil, nil))
	return srv
}

func mustStep(t *testing.T, s *Server, ev Event) Update {
	t.Helper()
	update, err := s.Step(ev)
	require.NoError(t, err)
	return update
}

// makeLeader drives a server through a real election: timeout, then a
// vote grant from server 2.
func makeLeader(t *testing.T, s *Server) {
	t.Helper()
	mustStep(t, s, Event{Type: EventTimeout, Time: 3000})
	require.Equal(t, Candidate, s.State())
	mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 3000, Message: Message{
		Type: MsgRequestVoteResult, From: 2, Term: s.CurrentTerm(), VoteGranted: true,
	}})
	require.Equal(t, Leader, s.State())
}

func TestElectionTimeoutStartsRealCampaign(t *testing.T) {
	s := newTestServer(t, 1, nil)
	update := mustStep(t, s, Event{Type: EventTimeout, Time: 3000})

	require.Equal(t, Candidate, s.State())
	require.Equal(t, uint64(2), s.CurrentTerm())
	require.Equal(t, ServerID(1), s.VotedFor())
	require.Len(t, update.Messages, 2)
	for _, m := range update.Messages {
		require.Equal(t, MsgRequestVote, m.Type)
		require.False(t, m.PreVote)
		require.Equal(t, uint64(2), m.Term)
		require.Equal(t, uint64(1), m.LastLogIndex)
		require.Equal(t, uint64(1), m.LastLogTerm)
	}
}

func TestPreVoteCampaignDoesNotBumpTerm(t *testing.T) {
	s := newTestServer(t, 1, func(cfg *Config) { cfg.PreVote = true })
	update := mustStep(t, s, Event{Type: EventTimeout, Time: 3000})

	require.Equal(t, Candidate, s.State())
	require.Equal(t, uint64(1), s.CurrentTerm())
	require.Equal(t, ServerID(0), s.VotedFor())
	require.Equal(t, uint64(1), update.Term)
	require.Len(t, update.Messages, 2)
	for _, m := range update.Messages {
		require.True(t, m.PreVote)
		require.Equal(t, uint64(2), m.Term)
	}
}

func TestPreVoteQuorumStartsRealCandidacy(t *testing.T) {
	s := newTestServer(t, 1, func(cfg *Config) { cfg.PreVote = true })
	mustStep(t, s, Event{Type: EventTimeout, Time: 3000})

	update := mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 3000, Message: Message{
		Type: MsgRequestVoteResult, From: 2, Term: 2, PreVote: true, VoteGranted: true,
	}})

	require.Equal(t, Candidate, s.State())
	require.Equal(t, uint64(2), s.CurrentTerm())
	require.Equal(t, ServerID(1), s.VotedFor())
	var real int
	for _, m := range update.Messages {
		if m.Type == MsgRequestVote && !m.PreVote {
			real++
			require.Equal(t, uint64(2), m.Term)
		}
	}
	require.Equal(t, 2, real)
}

func TestFollowerGrantsVoteToUpToDateCandidate(t *testing.T) {
	s := newTestServer(t, 1, nil)
	update := mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 100, Message: Message{
		Type: MsgRequestVote, From: 2, Term: 2, LastLogIndex: 1, LastLogTerm: 1,
	}})

	require.Equal(t, uint64(2), s.CurrentTerm())
	require.Equal(t, ServerID(2), s.VotedFor())
	require.Equal(t, uint64(2), update.Term)
	require.Equal(t, ServerID(2), update.VotedFor)
	require.Len(t, update.Messages, 1)
	require.True(t, update.Messages[0].VoteGranted)
}

func TestFollowerVotesOnceAtSameTerm(t *testing.T) {
	s := newTestServer(t, 1, nil)
	mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 100, Message: Message{
		Type: MsgRequestVote, From: 2, Term: 2, LastLogIndex: 1, LastLogTerm: 1,
	}})
	update := mustStep(t, s, Event{Type: EventReceive, FromID: 3, Time: 150, Message: Message{
		Type: MsgRequestVote, From: 3, Term: 2, LastLogIndex: 1, LastLogTerm: 1,
	}})

	require.Equal(t, ServerID(2), s.VotedFor())
	require.Len(t, update.Messages, 1)
	require.False(t, update.Messages[0].VoteGranted)
}

func TestFollowerRejectsStaleLogCandidate(t *testing.T) {
	s := newTestServer(t, 1, nil)
	update := mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 100, Message: Message{
		Type: MsgRequestVote, From: 2, Term: 2, LastLogIndex: 0, LastLogTerm: 0,
	}})

	require.Equal(t, ServerID(0), s.VotedFor())
	require.Len(t, update.Messages, 1)
	require.False(t, update.Messages[0].VoteGranted)
}

func TestPreVoteRejectedWhileLeaderIsLive(t *testing.T) {
	s := newTestServer(t, 1, nil)
	// Hear from a leader first, then field a straw poll shortly after.
	mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 100, Message: Message{
		Type: MsgAppendEntries, From: 2, Term: 1, PrevLogIndex: 1, PrevLogTerm: 1,
	}})
	update := mustStep(t, s, Event{Type: EventReceive, FromID: 3, Time: 200, Message: Message{
		Type: MsgRequestVote, From: 3, Term: 2, PreVote: true, LastLogIndex: 1, LastLogTerm: 1,
	}})

	require.Equal(t, uint64(1), s.CurrentTerm())
	require.Len(t, update.Messages, 1)
	require.False(t, update.Messages[0].VoteGranted)
}

func TestCandidateBecomesLeaderOnVoteQuorum(t *testing.T) {
	s := newTestServer(t, 1, nil)
	mustStep(t, s, Event{Type: EventTimeout, Time: 3000})
	update := mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 3000, Message: Message{
		Type: MsgRequestVoteResult, From: 2, Term: 2, VoteGranted: true,
	}})

	require.Equal(t, Leader, s.State())
	// The barrier entry in the new term is staged for persistence and
	// broadcast right away.
	require.NotZero(t, update.Flags&UpdateEntries)
	require.Equal(t, uint64(2), update.PersistEntries.FirstIndex)
	require.Len(t, update.PersistEntries.Entries, 1)
	require.Equal(t, EntryBarrier, update.PersistEntries.Entries[0].Kind)
	var appends int
	for _, m := range update.Messages {
		if m.Type == MsgAppendEntries {
			appends++
		}
	}
	require.Equal(t, 2, appends)
}

func TestCandidateStepsDownOnRejectionQuorum(t *testing.T) {
	s := newTestServer(t, 1, nil)
	mustStep(t, s, Event{Type: EventTimeout, Time: 3000})
	mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 3000, Message: Message{
		Type: MsgRequestVoteResult, From: 2, Term: 2, VoteGranted: false,
	}})
	require.Equal(t, Candidate, s.State())
	mustStep(t, s, Event{Type: EventReceive, FromID: 3, Time: 3000, Message: Message{
		Type: MsgRequestVoteResult, From: 3, Term: 2, VoteGranted: false,
	}})
	require.Equal(t, Follower, s.State())
}

func TestCandidateRevertsOnCurrentTermLeader(t *testing.T) {
	s := newTestServer(t, 1, nil)
	mustStep(t, s, Event{Type: EventTimeout, Time: 3000})
	require.Equal(t, Candidate, s.State())

	// Another candidate won term 2 and is already heartbeating.
	mustStep(t, s, Event{Type: EventReceive, FromID: 2, Time: 3100, Message: Message{
		Type: MsgAppendEntries, From: 2, Term: 2, PrevLogIndex: 1, PrevLogTerm: 1,
	}})
	require.Equal(t, Follower, s.State())
	require.Equal(t, ServerID(2), s.LeaderID())
}

func TestHigherTermStepsDownAnyState(t *testing.T) {
	s := newTestServer(t, 1, nil)
	makeLeader(t, s)
	mustStep(t, s, Event{Type: EventReceive, FromID: 3, Time: 4000, Message: Message{
		Type: MsgAppendEntriesResult, From: 3, Term: 9, Success: false,
	}})
	require.Equal(t, Follower, s.State())
	require.Equal(t, uint64(9), s.CurrentTerm())
}

func TestNonVoterNeverCampaigns(t *testing.T) {
	conf := testConfiguration()
	conf.Servers[0].Role = Standby
	srv, err := New(Config{ID: 1, ElectionTimeout: 1000, HeartbeatTimeout: 100, Seed: 1, Logger: NewDiscardLogger()})
	require.NoError(t, err)
	require.NoError(t, srv.Bootstrap(conf))
	require.NoError(t, srv.Start(PersistedState{CurrentTerm: 1}, nil, nil))

	update := mustStep(t, srv, Event{Type: EventTimeout, Time: 10000})
	require.Equal(t, Follower, srv.State())
	require.Empty(t, update.Messages)
}
