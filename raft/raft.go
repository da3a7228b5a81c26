// Package raft implements the deterministic, I/O-free core of a Raft
// consensus library: term/vote/log invariants, leader election (with
// optional pre-vote), log replication, snapshot install, joint-free
// single-server membership changes, leadership transfer, and commit
// advancement. The core is a pure step function — Server.Step consumes
// one Event and returns one Update — so it never performs I/O and is
// directly property-testable.
package raft

import (
	"math/rand"

	"github.com/juju/errors"
)

// StateType is a Server's role in the cluster.
type StateType int

const (
	Unavailable StateType = iota
	Follower
	Candidate
	Leader
)

func (s StateType) String() string {
	switch s {
	case Unavailable:
		return "unavailable"
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Config carries the tunables a caller sets per server, defaulted the
// way etcd-style raft cores default ElectionTick/HeartbeatTick.
type Config struct {
	ID      ServerID
	Address string

	ElectionTimeout         int64 // ms
	HeartbeatTimeout        int64 // ms
	InstallSnapshotTimeout  int64 // ms
	SnapshotThreshold       uint64
	SnapshotTrailing        uint64
	MaxCatchUpRounds        int
	MaxCatchUpRoundDuration int64 // ms
	PreVote                 bool

	// Seed is drawn once by the caller from its random collaborator and
	// handed to the core at construction time; the core then derives
	// every randomized election timeout internally so that Step itself
	// never performs I/O.
	Seed int64

	Logger Logger
}

// Validate fills in defaults and rejects nonsensical tunables.
func (c *Config) Validate() error {
	if c.ID == 0 {
		return errors.Annotate(ErrBadParam, "id cannot be zero")
	}
	if c.ElectionTimeout == 0 {
		c.ElectionTimeout = 1000
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 100
	}
	if c.InstallSnapshotTimeout == 0 {
		c.InstallSnapshotTimeout = 30000
	}
	if c.SnapshotThreshold == 0 {
		c.SnapshotThreshold = 1024
	}
	if c.SnapshotTrailing == 0 {
		c.SnapshotTrailing = 2048
	}
	if c.MaxCatchUpRounds == 0 {
		c.MaxCatchUpRounds = 10
	}
	if c.MaxCatchUpRoundDuration == 0 {
		c.MaxCatchUpRoundDuration = 5000
	}
	if c.HeartbeatTimeout >= c.ElectionTimeout {
		return errors.Annotate(ErrBadParam, "election timeout must exceed heartbeat timeout")
	}
	if c.Logger == nil {
		c.Logger = NewLogger(c.ID)
	}
	// 150/15ms is a known downstream test fixture that some ports of this
	// core silently triple to dodge flaky timing. That's a workaround,
	// not a contract; this core logs instead of replicating it.
	if c.ElectionTimeout == 150 && c.HeartbeatTimeout == 15 {
		c.Logger.Warningf("election_timeout=150/heartbeat_timeout=15 matches a known test-timing workaround elsewhere; this core does not triple it")
	}
	return nil
}

// Server is the long-lived Raft core object (§2, §3).
type Server struct {
	id      ServerID
	address string
	cfg     Config
	logger  Logger
	rand    *rand.Rand

	// Persistent state (§3)
	currentTerm uint64
	votedFor    ServerID
	log         *Log

	// Configuration state (§3)
	configuration                  Configuration
	configurationCommittedIndex    uint64
	configurationUncommittedIndex  uint64
	configurationLastSnapshotIndex uint64

	// Volatile state (§3)
	state       StateType
	commitIndex uint64
	lastApplied uint64
	lastStored  uint64
	leaderID    ServerID

	electionElapsedSince      int64 // ms timestamp of last reset
	randomizedElectionTimeout int64 // ms duration

	transfer      *ServerID
	transferStart int64

	// leader/candidate-only
	progress *ProgressTracker

	snapshotTaking bool

	catchUps map[ServerID]*catchUpState

	closed bool

	// per-Step scratch, reset at the top of every Step call, mirroring
	// r->msgs/r->n_messages in the C original. now is the current
	// event's caller-supplied timestamp, valid for the duration of one
	// Step call.
	now            int64
	msgs           []Message
	entriesOut     []Entry
	entriesIndex   uint64
	applyOut       []Entry
	outcomes       []RequestOutcome
	takeSnapshot   bool
	updates        UpdateFlags
	pendingSnapOut SnapshotTransfer
	loadSnapOut    SnapshotTransfer
}

type catchUpState struct {
	round      int
	roundStart int64
	roundIndex uint64
	target     ConfigurationServer
}

// New constructs a Server in the Unavailable state. Callers must then
// call Bootstrap (new cluster) or Recover (existing on-disk state) and
// then Start before issuing any other Event, mirroring
// raft_init/raft_bootstrap/raft_start in the original.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		id:       cfg.ID,
		address:  cfg.Address,
		cfg:      cfg,
		logger:   cfg.Logger,
		rand:     rand.New(rand.NewSource(cfg.Seed)),
		log:      newLog(),
		state:    Unavailable,
		catchUps: make(map[ServerID]*catchUpState),
	}
	return s, nil
}

// Bootstrap initializes a brand-new cluster with the given configuration.
// It fails with ErrBusy unless the Server is Unavailable, matching
// raft_bootstrap's state check in the original.
func (s *Server) Bootstrap(conf Configuration) error {
	if s.state != Unavailable {
		return errors.Trace(ErrBusy)
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	s.configuration = conf.Copy()
	s.configurationCommittedIndex = 1
	s.currentTerm = 1
	entry := Entry{Index: 1, Term: 1, Kind: EntryConfiguration, Data: conf.Encode()}
	s.log.Append(entry)
	s.lastStored = 1
	return nil
}

// Recover validates a configuration the caller's own storage layer is
// about to use to initialize an existing on-disk cluster record. It
// fails with ErrBusy unless the Server is Unavailable.
func (s *Server) Recover(conf Configuration) error {
	if s.state != Unavailable {
		return errors.Trace(ErrBusy)
	}
	return conf.Validate()
}

// Start moves a freshly bootstrapped/recovered Server to Follower at the
// persisted term, per §3 "A successful start (after load) moves it to
// Follower at the persisted term." io and fsm collaborator version
// fields must be non-zero (original_source ioFsmVersionCheck).
func (s *Server) Start(loaded PersistedState, io IOBackend, fsm FSM) error {
	if s.state != Unavailable {
		return errors.Trace(ErrBusy)
	}
	if io != nil && io.Version() == 0 {
		return errors.Annotate(ErrBadParam, "io.Version() must be non-zero")
	}
	if fsm != nil && fsm.Version() == 0 {
		return errors.Annotate(ErrBadParam, "fsm.Version() must be non-zero")
	}
	s.currentTerm = loaded.CurrentTerm
	s.votedFor = loaded.VotedFor
	if loaded.Snapshot != nil {
		s.log.Restore(loaded.Snapshot.Index, loaded.Snapshot.Term)
		s.configuration = loaded.Snapshot.Configuration.Copy()
		s.configurationLastSnapshotIndex = loaded.Snapshot.Index
		s.configurationCommittedIndex = loaded.Snapshot.Index
		s.commitIndex = loaded.Snapshot.Index
		s.lastApplied = loaded.Snapshot.Index
		s.lastStored = loaded.Snapshot.Index
	}
	if len(loaded.Entries) > 0 {
		s.log.Append(loaded.Entries...)
		s.lastStored = s.log.LastIndex()
		for _, e := range loaded.Entries {
			if e.Kind == EntryConfiguration {
				if conf, err := DecodeConfiguration(e.Data); err == nil {
					s.configuration = conf
					s.configurationCommittedIndex = e.Index
				}
			}
		}
	}
	s.becomeFollower(s.currentTerm, 0, 0)
	return nil
}

// Close transitions to Unavailable, dropping every pending catch-up and
// leadership transfer first. No RequestOutcome is reported for the
// dropped requests, since Close returns no Update. It is idempotent.
func (s *Server) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for id := range s.catchUps {
		s.logger.Infof("%d cancelling in-flight catch-up of %d on close", s.id, id)
		delete(s.catchUps, id)
	}
	s.transfer = nil
	s.state = Unavailable
	s.leaderID = 0
}

// CurrentTerm, VotedFor, State, LeaderID, CommitIndex, LastApplied and ID
// expose Server state for callers and tests; the core never observes
// Progress outside Leader/Candidate state, per §3.
func (s *Server) CurrentTerm() uint64 { return s.currentTerm }
func (s *Server) VotedFor() ServerID  { return s.votedFor }
func (s *Server) State() StateType    { return s.state }
func (s *Server) LeaderID() ServerID  { return s.leaderID }
func (s *Server) CommitIndex() uint64 { return s.commitIndex }
func (s *Server) LastApplied() uint64 { return s.lastApplied }
func (s *Server) ID() ServerID        { return s.id }

// Configuration returns a copy of the cluster configuration currently in
// effect, for a collaborator building a snapshot's metadata (§4.5).
func (s *Server) Configuration() Configuration { return s.configuration.Copy() }

// send queues an outbound message for the current Step call, filling in
// From/Term the way an etcd-style raft core's send does.
func (s *Server) send(m Message) {
	m.From = s.id
	if m.Type != MsgRequestVote && m.Type != MsgRequestVoteResult {
		m.Term = s.currentTerm
	}
	s.msgs = append(s.msgs, m)
	s.updates |= UpdateMessages
}

func (s *Server) quorum() int {
	return s.configuration.Quorum()
}

func (s *Server) isVoter(id ServerID) bool {
	srv, ok := s.configuration.Get(id)
	return ok && srv.Role == Voter
}

// resetElectionTimer draws a fresh randomized duration uniformly in
// [election_timeout, 2*election_timeout) and marks "now" as the epoch the
// next timeout is measured from (§4.3).
func (s *Server) resetElectionTimer(now int64) {
	s.electionElapsedSince = now
	if s.cfg.ElectionTimeout <= 0 {
		s.randomizedElectionTimeout = s.cfg.ElectionTimeout
		return
	}
	s.randomizedElectionTimeout = s.cfg.ElectionTimeout + s.rand.Int63n(s.cfg.ElectionTimeout)
}

func (s *Server) pastElectionTimeout(now int64) bool {
	return now-s.electionElapsedSince >= s.randomizedElectionTimeout
}

// becomeFollower is the "Any -> Follower" transition (§4.8): on seeing a
// higher term it updates term and clears voted_for; the caller observes
// the term change via the returned Update/CurrentTerm() and is expected
// to persist it before any dependent message is sent (§5).
func (s *Server) becomeFollower(term uint64, lead ServerID, now int64) {
	if term > s.currentTerm {
		s.currentTerm = term
		s.votedFor = 0
	}
	s.state = Follower
	s.leaderID = lead
	s.progress = nil
	s.transfer = nil
	s.resetElectionTimer(now)
	s.updates |= UpdateState
	s.logger.Infof("%d became follower at term %d", s.id, s.currentTerm)
}

func (s *Server) becomeCandidate(now int64, preVote bool) {
	if !preVote {
		s.currentTerm++
		s.votedFor = s.id
	}
	s.state = Candidate
	s.leaderID = 0
	s.progress = newProgressTracker()
	s.resetElectionTimer(now)
	s.updates |= UpdateState
	kind := "real"
	if preVote {
		kind = "pre-vote"
	}
	s.logger.Infof("%d became candidate (%s) at term %d", s.id, kind, s.currentTerm)
}

func (s *Server) becomeLeader(now int64) {
	s.state = Leader
	s.leaderID = s.id
	s.progress = newProgressTracker()
	for _, srv := range s.configuration.Servers {
		// Spares receive nothing until a catch-up begins (§3); their
		// Progress is created by stepCatchUp when promotion tracking
		// starts.
		if srv.Role == Spare && srv.ID != s.id {
			continue
		}
		p := newProgress(s.log.LastIndex() + 1)
		if srv.ID == s.id {
			p.Match = s.log.LastIndex()
			p.State = ProgressPipeline
		}
		p.LastSendTime = now
		p.LastRecvTime = now
		s.progress.set(srv.ID, p)
	}
	s.updates |= UpdateState
	s.logger.Infof("%d became leader at term %d", s.id, s.currentTerm)

	// A new leader immediately appends a zero-payload barrier entry in
	// its own term, so commit can advance past prior-term entries (§4.3).
	s.appendEntries(Entry{Kind: EntryBarrier})
}

// appendEntries assigns Index/Term, appends to the log, updates the
// leader's own progress, and stages the range for persistence.
func (s *Server) appendEntries(entries ...Entry) {
	first := s.log.LastIndex() + 1
	batch := newBatch(len(entries))
	for i := range entries {
		entries[i].Index = first + uint64(i)
		entries[i].Term = s.currentTerm
		entries[i].batch = batch
	}
	s.log.Append(entries...)
	if s.progress != nil {
		if p := s.progress.get(s.id); p != nil {
			p.maybeUpdate(s.log.LastIndex())
		}
	}
	if s.entriesOut == nil {
		s.entriesIndex = first
	}
	s.entriesOut = append(s.entriesOut, entries...)
	s.updates |= UpdateEntries
}

// resetScratch clears the per-call output staging area at the top of
// every Step (and every client call that produces an Update of its own).
func (s *Server) resetScratch(now int64) {
	s.now = now
	s.msgs = nil
	s.entriesOut = nil
	s.entriesIndex = 0
	s.applyOut = nil
	s.outcomes = nil
	s.takeSnapshot = false
	s.updates = 0
	s.pendingSnapOut = SnapshotTransfer{}
	s.loadSnapOut = SnapshotTransfer{}
}

// buildUpdate snapshots the scratch area into the Update handed back to
// the caller.
func (s *Server) buildUpdate() Update {
	update := Update{Flags: s.updates, State: s.state, Term: s.currentTerm, VotedFor: s.votedFor}
	if s.updates.has(UpdateEntries) {
		update.PersistEntries = EntriesToPersist{FirstIndex: s.entriesIndex, Entries: s.entriesOut}
	}
	if s.updates.has(UpdateMessages) {
		update.Messages = s.msgs
	}
	if s.updates.has(UpdateApply) {
		update.Apply = s.applyOut
	}
	if len(s.outcomes) > 0 {
		update.Outcomes = s.outcomes
		s.updates |= UpdateOutcomes
	}
	if s.pendingSnapOut.Chunk != nil || s.pendingSnapOut.Metadata.Index != 0 {
		update.PersistSnapshot = s.pendingSnapOut
		s.updates |= UpdateSnapshot
	}
	if s.loadSnapOut.Metadata.Index != 0 {
		update.LoadSnapshot = s.loadSnapOut
		s.updates |= UpdateSnapshot
	}
	update.Flags = s.updates
	update.TakeSnapshot = s.takeSnapshot
	return update
}

// Step is the single entry point: it consumes one Event and produces one
// Update (§4.1). Exactly one Step call is outstanding at a time; the
// implementation never re-enters itself.
func (s *Server) Step(event Event) (Update, error) {
	if s.closed {
		return Update{}, errors.Trace(ErrShutdown)
	}
	s.resetScratch(event.Time)

	var err error
	switch event.Type {
	case EventTimeout:
		err = s.tick(event.Time)
	case EventReceive:
		err = s.stepReceive(event)
	case EventSent:
		err = s.stepSent(event)
	case EventPersistedEntries:
		err = s.stepPersistedEntries(event)
	case EventPersistedSnapshot:
		err = s.stepPersistedSnapshot(event)
	case EventSnapshot:
		err = s.stepSnapshotTaken(event)
	case EventSubmit:
		err = s.stepSubmit(event)
	case EventCatchUp:
		err = s.stepCatchUp(event)
	case EventTransfer:
		err = s.stepTransfer(event)
	}
	if err != nil {
		return Update{}, err
	}

	s.advanceCommit()
	s.maybeTriggerSnapshot()

	return s.buildUpdate(), nil
}

// stepReceive handles the higher-term stepdown rule (§4.8 "Any -> Follower
// on seeing a message with strictly higher term") before dispatching to
// the per-message-type handler. Pre-vote requests and their replies never
// bump the receiver's term (§4.3) — a granted pre-vote reply echoes the
// candidate's prospective term, which is always one ahead — so both are
// excluded from the stepdown.
func (s *Server) stepReceive(event Event) error {
	m := event.Message
	preVoteTraffic := m.PreVote && (m.Type == MsgRequestVote || m.Type == MsgRequestVoteResult)
	if m.Term > s.currentTerm && !preVoteTraffic {
		s.logger.Infof("%d [term: %d] received %s with higher term from %d [term: %d]", s.id, s.currentTerm, m.Type, m.From, m.Term)
		if m.Type == MsgAppendEntries || m.Type == MsgInstallSnapshot {
			s.becomeFollower(m.Term, m.From, event.Time)
		} else {
			s.becomeFollower(m.Term, 0, event.Time)
		}
	} else if m.Term != 0 && m.Term < s.currentTerm && m.Type != MsgRequestVote {
		if m.Type == MsgAppendEntries || m.Type == MsgInstallSnapshot {
			// Reject with our term so a deposed leader learns about it
			// immediately instead of waiting out check-quorum.
			s.send(Message{Type: MsgAppendEntriesResult, To: m.From, Success: false, RejectHint: s.log.LastIndex()})
			return nil
		}
		s.logger.Debugf("%d ignored stale %s from %d at term %d", s.id, m.Type, m.From, m.Term)
		return nil
	}

	switch m.Type {
	case MsgRequestVote:
		return s.handleRequestVote(event.Time, m)
	case MsgRequestVoteResult:
		return s.handleRequestVoteResult(event.Time, m)
	case MsgAppendEntries:
		return s.handleAppendEntries(event.Time, m)
	case MsgAppendEntriesResult:
		return s.handleAppendEntriesResult(event.Time, m)
	case MsgInstallSnapshot:
		return s.handleInstallSnapshot(event.Time, m)
	case MsgTimeoutNow:
		return s.handleTimeoutNow(event.Time, m)
	}
	return nil
}

func (s *Server) stepSent(event Event) error {
	switch event.SentMessage.Type {
	case MsgAppendEntries:
		return s.handleAppendEntriesSent(event)
	case MsgInstallSnapshot:
		return s.handleInstallSnapshotSent(event)
	}
	return nil
}
