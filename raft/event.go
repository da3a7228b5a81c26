package raft

// EventType discriminates the kinds of input Step accepts.
type EventType int

const (
	EventTimeout EventType = iota
	EventReceive
	EventSent
	EventPersistedEntries
	EventPersistedSnapshot
	EventSnapshot
	EventSubmit
	EventCatchUp
	EventTransfer
)

func (t EventType) String() string {
	switch t {
	case EventTimeout:
		return "Timeout"
	case EventReceive:
		return "Receive"
	case EventSent:
		return "Sent"
	case EventPersistedEntries:
		return "PersistedEntries"
	case EventPersistedSnapshot:
		return "PersistedSnapshot"
	case EventSnapshot:
		return "Snapshot"
	case EventSubmit:
		return "Submit"
	case EventCatchUp:
		return "CatchUp"
	case EventTransfer:
		return "Transfer"
	default:
		return "Unknown"
	}
}

// Event is the single input to Step. Time is the caller-supplied
// monotonic millisecond timestamp (§1: "no built-in clock"); every timer
// comparison inside the core is against this value, never a wall clock
// read internally.
type Event struct {
	Type EventType
	Time int64

	// EventReceive
	FromID      ServerID
	FromAddress string
	Message     Message

	// EventSent
	SentMessage Message
	SentStatus  error

	// EventPersistedEntries
	PersistFirstIndex uint64
	PersistCount      uint64
	PersistStatus     error

	// EventPersistedSnapshot
	SnapshotMetadata SnapshotMetadata
	SnapshotOffset   uint64
	SnapshotChunk    []byte
	SnapshotLast     bool
	SnapshotStatus   error

	// EventSnapshot (application signalled snapshot-taken)
	TakenSnapshot    SnapshotMetadata
	SnapshotTrailing uint64

	// EventSubmit
	SubmitEntries []Entry

	// EventCatchUp / EventTransfer. TargetRole/TargetAddress are only
	// meaningful for EventCatchUp: they name the role the server should
	// be promoted to once it has caught up (§4.6). The distilled spec
	// names only the target id for this event; the role/address fields
	// fill that gap the way ConfigurationChange carries a full
	// ConfigurationServer, since a bare id is not enough to know what
	// configuration entry to append on success.
	TargetID      ServerID
	TargetRole    Role
	TargetAddress string
}
