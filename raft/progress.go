package raft

// ProgressState is the leader's replication mode for one follower (§3, §4.4).
type ProgressState int

const (
	// ProgressProbe: one AppendEntries outstanding at a time.
	ProgressProbe ProgressState = iota
	// ProgressPipeline: multiple AppendEntries may be in flight.
	ProgressPipeline
	// ProgressSnapshot: an InstallSnapshot chunk stream is in progress.
	ProgressSnapshot
)

func (s ProgressState) String() string {
	switch s {
	case ProgressProbe:
		return "probe"
	case ProgressPipeline:
		return "pipeline"
	case ProgressSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Progress is the leader's replication bookkeeping for one follower
// (including itself). maybeUpdate keeps Match < Next; maybeDecrTo applies
// the reject clamp to Next without consulting Match.
type Progress struct {
	Next  uint64
	Match uint64

	State ProgressState

	LastSendTime int64
	LastRecvTime int64

	// SnapshotIndex is the snapshot currently being installed on this
	// follower, valid only while State == ProgressSnapshot.
	SnapshotIndex uint64
}

func newProgress(next uint64) *Progress {
	return &Progress{Next: next, State: ProgressProbe}
}

// maybeUpdate records a successful AppendEntries reply. It returns true
// if Match advanced, in which case the caller should re-check commit
// advancement.
func (p *Progress) maybeUpdate(index uint64) bool {
	updated := false
	if p.Match < index {
		p.Match = index
		updated = true
	}
	if p.Next < index+1 {
		p.Next = index + 1
	}
	if p.State == ProgressProbe {
		p.State = ProgressPipeline
	}
	return updated
}

// maybeDecrTo handles a rejected AppendEntries: next_index = max(1,
// min(next_index-1, hint_last_index+1)), and the follower reverts to
// Probe (§4.4). Returns true if Next changed, so the caller should retry
// immediately instead of waiting for the next heartbeat.
func (p *Progress) maybeDecrTo(hintLastIndex uint64) bool {
	candidate := p.Next - 1
	if candidate > hintLastIndex+1 {
		candidate = hintLastIndex + 1
	}
	if candidate < 1 {
		candidate = 1
	}
	changed := candidate != p.Next
	p.Next = candidate
	p.State = ProgressProbe
	return changed
}

// becomeSnapshot switches this follower into Snapshot state because the
// entry the leader needs to send has already been compacted away.
func (p *Progress) becomeSnapshot(index uint64) {
	p.State = ProgressSnapshot
	p.SnapshotIndex = index
}

// ProgressTracker holds one Progress per configured server, plus vote
// tallies while a candidacy is outstanding. It is only meaningful while
// the owning Server is Leader (progress) or Candidate (votes); per §3 its
// contents "must not be observed" outside those states.
type ProgressTracker struct {
	progress map[ServerID]*Progress
	votes    map[ServerID]bool
}

func newProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		progress: make(map[ServerID]*Progress),
		votes:    make(map[ServerID]bool),
	}
}

func (t *ProgressTracker) get(id ServerID) *Progress {
	return t.progress[id]
}

func (t *ProgressTracker) set(id ServerID, p *Progress) {
	t.progress[id] = p
}

func (t *ProgressTracker) remove(id ServerID) {
	delete(t.progress, id)
}

func (t *ProgressTracker) resetVotes() {
	t.votes = make(map[ServerID]bool)
}

// recordVote records id's vote grant/rejection for the current candidacy
// and returns the number of grants and rejections seen so far among
// voters, for quorum comparison against Configuration.Quorum().
func (t *ProgressTracker) recordVote(id ServerID, granted bool) (grants, rejections int) {
	if _, ok := t.votes[id]; !ok {
		t.votes[id] = granted
	}
	for _, v := range t.votes {
		if v {
			grants++
		} else {
			rejections++
		}
	}
	return grants, rejections
}

func (t *ProgressTracker) forEach(f func(id ServerID, p *Progress)) {
	for id, p := range t.progress {
		f(id, p)
	}
}

// matchIndexQuorum returns the highest index N such that at least quorum
// voters (from ids) have Match >= N.
func (t *ProgressTracker) matchIndexQuorum(ids []ServerID, quorum int) uint64 {
	if len(ids) == 0 || quorum > len(ids) {
		return 0
	}
	matches := make([]uint64, len(ids))
	for i, id := range ids {
		if p := t.progress[id]; p != nil {
			matches[i] = p.Match
		}
	}
	// Selection for the quorum-th highest value; n is small (cluster
	// size) so an insertion-style pass is simpler than a full sort import
	// here and avoids mutating a shared slice type.
	for i := 0; i < quorum; i++ {
		maxIdx := i
		for j := i + 1; j < len(matches); j++ {
			if matches[j] > matches[maxIdx] {
				maxIdx = j
			}
		}
		matches[i], matches[maxIdx] = matches[maxIdx], matches[i]
	}
	return matches[quorum-1]
}
