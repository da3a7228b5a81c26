package nettest

import "github.com/cedalo/raftcowsql/raft"

// MemoryStore is a trivial stand-in for the durable IOBackend a real
// deployment would supply: it keeps entries/snapshot state in a plain
// slice, never touching disk, so scenario tests stay fast and
// deterministic.
type MemoryStore struct {
	entries  []raft.Entry
	snapshot *raft.SnapshotMetadata
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Version() int { return 1 }

// Append stores entries starting at first, overwriting any conflicting
// suffix already held, mirroring what a real log store's write-ahead
// append does once the core has already resolved conflicts itself.
func (m *MemoryStore) Append(first uint64, entries []raft.Entry) {
	if len(entries) == 0 {
		return
	}
	idx := int(first) - 1
	if idx < len(m.entries) {
		m.entries = m.entries[:idx]
	}
	for len(m.entries) < idx {
		m.entries = append(m.entries, raft.Entry{})
	}
	m.entries = append(m.entries, entries...)
}

// Entries returns every stored entry, for test assertions.
func (m *MemoryStore) Entries() []raft.Entry {
	return m.entries
}
