package raft

import "github.com/juju/errors"

// Log holds the contiguous range [firstIndex, lastIndex] of in-memory
// entries plus the metadata of the snapshot covering everything at or
// below snapshotIndex (§4.2). Entries live in a growable ring slice
// indexed by index-firstIndex; discarding a prefix (on snapshot) or a
// suffix (on truncate) never needs to move more than the dropped span.
type Log struct {
	entries       []Entry
	firstIndex    uint64
	snapshotIndex uint64
	snapshotTerm  uint64
}

// newLog returns an empty log whose snapshot metadata is (0, 0): nothing
// has ever been compacted.
func newLog() *Log {
	return &Log{firstIndex: 1}
}

// LastIndex is the highest index held, in memory or snapshotted.
func (l *Log) LastIndex() uint64 {
	return l.firstIndex + uint64(len(l.entries)) - 1
}

// LastTerm is the term of LastIndex, or the snapshot term if the log is
// entirely empty with no in-memory entries past the snapshot.
func (l *Log) LastTerm() uint64 {
	if len(l.entries) == 0 {
		return l.snapshotTerm
	}
	return l.entries[len(l.entries)-1].Term
}

// FirstIndex is the lowest index with an in-memory entry.
func (l *Log) FirstIndex() uint64 {
	return l.firstIndex
}

// SnapshotIndex/SnapshotTerm describe the most recent compaction point.
func (l *Log) SnapshotIndex() uint64 { return l.snapshotIndex }
func (l *Log) SnapshotTerm() uint64  { return l.snapshotTerm }

func (l *Log) slot(index uint64) int {
	if index < l.firstIndex {
		return -1
	}
	i := int(index - l.firstIndex)
	if i >= len(l.entries) {
		return -1
	}
	return i
}

// Get returns the entry at index and whether it is present in memory.
// An index below FirstIndex, or above LastIndex, returns false; trailing
// entries kept behind the snapshot index are still returned.
func (l *Log) Get(index uint64) (Entry, bool) {
	i := l.slot(index)
	if i < 0 {
		return Entry{}, false
	}
	return l.entries[i], true
}

// TermOf returns the term of index, consulting snapshot metadata if the
// entry itself has been compacted away.
func (l *Log) TermOf(index uint64) (uint64, bool) {
	if index == l.snapshotIndex {
		return l.snapshotTerm, true
	}
	if e, ok := l.Get(index); ok {
		return e.Term, true
	}
	return 0, false
}

// Append adds entries to the tail of the log. Entries must be contiguous
// and start at LastIndex()+1; the caller (replication.go / election.go)
// is responsible for assigning Index/Term before calling Append.
func (l *Log) Append(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	l.entries = append(l.entries, entries...)
}

// Truncate drops every entry with Index >= fromIndex. It is forbidden to
// truncate an already-committed entry; callers must check against
// commit_index themselves (the log has no notion of commit_index), per
// §4.2.
func (l *Log) Truncate(fromIndex uint64) {
	i := l.slot(fromIndex)
	if i < 0 {
		if fromIndex > l.LastIndex() {
			return
		}
		// fromIndex <= snapshotIndex: truncating compacted history is a
		// contradiction the caller should never trigger.
		return
	}
	releaseEntries(l.entries[i:])
	l.entries = l.entries[:i]
}

// releaseEntries drops each entry's reference to its owning Batch,
// freeing the batch's payload once every entry sharing it has gone
// (§4.2, §9 Design Note).
func releaseEntries(entries []Entry) {
	for i := range entries {
		if entries[i].batch != nil {
			entries[i].batch.release()
			entries[i].batch = nil
		}
	}
}

// MaybeAppend implements the follower side of AppendEntries acceptance:
// given (prevIndex, prevTerm) and a batch of new entries, it verifies the
// log-matching property, truncates any conflicting suffix, appends the
// new entries, and returns the resulting last index. ok is false if
// (prevIndex, prevTerm) does not match this log.
func (l *Log) MaybeAppend(prevIndex, prevTerm uint64, entries []Entry) (lastIndex uint64, ok bool) {
	if prevIndex > 0 {
		t, present := l.TermOf(prevIndex)
		if !present || t != prevTerm {
			return 0, false
		}
	}
	for i, e := range entries {
		idx := prevIndex + uint64(i) + 1
		if existing, present := l.Get(idx); present {
			if existing.Term == e.Term {
				continue
			}
			l.Truncate(idx)
			l.Append(entries[i:]...)
			return l.LastIndex(), true
		}
		l.Append(entries[i:]...)
		return l.LastIndex(), true
	}
	if len(entries) > 0 {
		return prevIndex + uint64(len(entries)), true
	}
	return prevIndex, true
}

// Snapshot discards every entry at or below index-trailing, pinning
// snapshot metadata at (index, term). trailing entries are kept behind
// index to let a slightly-behind follower resync without a snapshot
// install (§4.5, §4.2).
func (l *Log) Snapshot(index, term, trailing uint64) error {
	if index < l.snapshotIndex {
		return errors.Annotatef(ErrCorrupt, "snapshot index %d below current snapshot index %d", index, l.snapshotIndex)
	}
	snapTerm := term
	if e, ok := l.Get(index); ok {
		snapTerm = e.Term
	}
	keepFrom := index
	if trailing < index {
		keepFrom = index - trailing + 1
	} else {
		keepFrom = 0
	}
	if keepFrom < l.firstIndex {
		keepFrom = l.firstIndex
	}
	if i := l.slot(keepFrom); i >= 0 {
		releaseEntries(l.entries[:i])
		l.entries = l.entries[i:]
		l.firstIndex = keepFrom
	} else if keepFrom > l.LastIndex() {
		releaseEntries(l.entries)
		l.entries = nil
		l.firstIndex = keepFrom
	}
	l.snapshotIndex = index
	l.snapshotTerm = snapTerm
	return nil
}

// Restore resets the log to an empty log whose snapshot metadata is
// (index, term) — used when a follower finishes an InstallSnapshot.
func (l *Log) Restore(index, term uint64) {
	releaseEntries(l.entries)
	l.entries = nil
	l.firstIndex = index + 1
	l.snapshotIndex = index
	l.snapshotTerm = term
}

// IsUpToDate compares (lastTerm, lastIndex) of a candidate against this
// log, per the Raft log-completeness comparison used in vote grants.
func (l *Log) IsUpToDate(lastIndex, lastTerm uint64) bool {
	myTerm := l.LastTerm()
	if lastTerm != myTerm {
		return lastTerm > myTerm
	}
	return lastIndex >= l.LastIndex()
}

// EntriesFrom returns a copy of every in-memory entry with Index >= from,
// up to maxBytes of payload (0 means unlimited). Used to build an
// AppendEntries batch.
func (l *Log) EntriesFrom(from uint64, maxBytes uint64) []Entry {
	i := l.slot(from)
	if i < 0 {
		return nil
	}
	var size uint64
	out := make([]Entry, 0, len(l.entries)-i)
	for _, e := range l.entries[i:] {
		if maxBytes > 0 && size > 0 && size+e.size() > maxBytes {
			break
		}
		out = append(out, e)
		size += e.size()
	}
	return out
}
