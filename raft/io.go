package raft

// SnapshotMetadata describes a snapshot without its data: the log
// position it covers and the configuration pinned at that point (§3).
type SnapshotMetadata struct {
	Index         uint64
	Term          uint64
	Configuration Configuration
}

// PersistedState is what the caller's storage layer loads and hands to
// Start: everything a Server needs to resume after a restart (§3
// "Persistent state").
type PersistedState struct {
	CurrentTerm  uint64
	VotedFor     ServerID
	Snapshot     *SnapshotMetadata
	SnapshotData []byte
	Entries      []Entry
}

// IOBackend is the storage/transport/clock/random collaborator a caller
// provides around the core. The core never calls these synchronously
// from inside Step; instead Step's Update return value tells the caller
// what persistence and sends are needed, and the caller invokes
// IOBackend itself, feeding completions back as later Events. The
// interface declares only Version, which Start checks; Server never
// holds a reference to one. Time arrives as Event.Time and randomness
// as Config.Seed.
type IOBackend interface {
	// Version must be non-zero; Start checks this (§6, original_source
	// ioFsmVersionCheck).
	Version() int
}

// FSM is the user-supplied application state machine collaborator (§6).
// The interface declares only Version, which Start checks. The core
// never calls into the state machine: Update.Apply lists entries the
// caller must apply, Update.TakeSnapshot asks it to take a snapshot, and
// Update.PersistSnapshot/Update.LoadSnapshot name snapshot chunks to
// store or to read.
type FSM interface {
	Version() int
}
