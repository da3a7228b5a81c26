package raft

import "github.com/juju/errors"

// Sentinel error kinds the core returns from Step and its lifecycle
// methods. Callers unwrap with errors.Cause
// (github.com/juju/errors) since internal call sites wrap these with
// context via errors.Annotatef as they propagate up to Step's return.
var (
	// ErrNoMem indicates the collaborator or core ran out of memory
	// while assembling an Update.
	ErrNoMem = errors.New("raft: out of memory")

	// ErrBadParam indicates an Event or Submit carried invalid data
	// (e.g. empty entries, zero server id).
	ErrBadParam = errors.New("raft: bad parameter")

	// ErrBusy indicates the requested operation is not allowed in the
	// Server's current state (e.g. Bootstrap on an already-started Server).
	ErrBusy = errors.New("raft: busy")

	// ErrNotLeader indicates a Submit/Transfer/CatchUp was issued against
	// a Server that is not currently the leader.
	ErrNotLeader = errors.New("raft: not leader")

	// ErrLeadershipLost indicates a Server lost leadership while a client
	// request (submit, transfer, catch-up) was outstanding. Submit also
	// returns it while a leadership transfer is in flight.
	ErrLeadershipLost = errors.New("raft: leadership lost")

	// ErrShutdown indicates the Server was closed while a request was
	// outstanding.
	ErrShutdown = errors.New("raft: shutdown")

	// ErrCancelled indicates a client request (e.g. a promotion pending
	// catch-up) was aborted before completion.
	ErrCancelled = errors.New("raft: cancelled")

	// ErrNoConnect indicates a transient send/receive failure. The core
	// swallows this internally and retries via the normal timers; it is
	// exported so collaborators can report it through Sent/Receive events
	// uniformly.
	ErrNoConnect = errors.New("raft: no connection")

	// ErrIOFault indicates a collaborator-reported persistence error.
	// It propagates to the caller of Step.
	ErrIOFault = errors.New("raft: io fault")

	// ErrCorrupt indicates persistent state violates a core invariant.
	// This is fatal: it indicates a collaborator bug, not a recoverable
	// condition.
	ErrCorrupt = errors.New("raft: corrupt persistent state")

	// ErrConfigurationInvalid indicates a Configuration failed validation
	// (zero or duplicate id, empty address on Add, no voters, truncated
	// encoding). Role values are not checked.
	ErrConfigurationInvalid = errors.New("raft: invalid configuration")
)
