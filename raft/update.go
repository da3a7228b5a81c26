package raft

// UpdateFlags marks which optional payloads an Update carries, mirroring
// the r->updates dirty-bitmask in the C original so a caller can drain
// only what changed instead of inspecting every field on every Step call.
type UpdateFlags uint32

const (
	UpdateEntries UpdateFlags = 1 << iota
	UpdateSnapshot
	UpdateMessages
	UpdateApply
	UpdateState
	UpdateOutcomes
)

func (f UpdateFlags) has(bit UpdateFlags) bool { return f&bit != 0 }

// EntriesToPersist names a contiguous range of entries the caller must
// durably persist, starting at FirstIndex, before it may send any message
// whose correctness depends on them (§5 ordering guarantees).
type EntriesToPersist struct {
	FirstIndex uint64
	Entries    []Entry
}

// SnapshotTransfer describes one snapshot chunk. It is used for both
// directions a chunk can flow: a leader asks the caller to load a chunk
// to send (Update.LoadSnapshot), a follower asks the caller to persist a
// received chunk (Update.PersistSnapshot, §4.5).
type SnapshotTransfer struct {
	Metadata SnapshotMetadata
	Offset   uint64
	Chunk    []byte
	Last     bool
}

// RequestKind names the client-initiated request a RequestOutcome reports
// on (§7: "Client requests are reported via completion events with a
// terminal status").
type RequestKind int

const (
	RequestCatchUp RequestKind = iota
	RequestTransfer
)

// RequestOutcome is the terminal status of a client request that
// completed or aborted during this Step call. Err is nil on success and
// ErrCancelled when the request was aborted (e.g. a promotion whose
// target exhausted its catch-up rounds, §4.6).
type RequestOutcome struct {
	Kind   RequestKind
	Target ServerID
	Err    error
}

// Update is the single output of Step: everything the caller must do
// before issuing the next Event (§4.1, §5). Exactly one Step call is ever
// outstanding; the caller drains Update fully (persist, send, apply)
// before calling Step again.
type Update struct {
	Flags UpdateFlags

	// Term and VotedFor mirror the Server's persistent term/vote record
	// after this Step call. When UpdateState is set the caller must
	// persist them before dispatching Messages, per §5's "persist
	// term/vote before any outgoing message that depends on them".
	Term     uint64
	VotedFor ServerID

	PersistEntries  EntriesToPersist
	PersistSnapshot SnapshotTransfer
	LoadSnapshot    SnapshotTransfer
	Messages        []Message

	// Outcomes reports client requests (catch-up promotions, leadership
	// transfers) that reached a terminal status during this Step call.
	Outcomes []RequestOutcome

	// Apply lists entries newly eligible for application to the FSM,
	// i.e. (last_applied, commit_index] at the time of this Step call.
	Apply []Entry

	// TakeSnapshot is set when last_applied - log.FirstIndex() has
	// crossed snapshot_threshold and no snapshot is in progress (§4.5):
	// the caller should ask the FSM for a snapshot and feed the result
	// back as an EventSnapshot.
	TakeSnapshot bool

	// State mirrors the Server's volatile state after this Step call,
	// useful for caller-side observability without re-locking.
	State StateType
}
