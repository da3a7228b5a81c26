// Package nettest is an in-memory transport and storage harness for
// driving a cluster of raft.Server values through Step without any real
// I/O: one collaborator plays router, another plays disk, and the
// harness only ever calls the public Step/Update contract.
package nettest

import (
	"github.com/juju/errors"

	"github.com/cedalo/raftcowsql/raft"
)

// inflightMessage is a Message in transit, released once deliverAll
// hands it to its target; the harness never delivers a message the same
// tick it was sent, so Step's "exactly one outstanding call" invariant
// holds for every node even with multiple nodes stepping in one Tick.
type inflightMessage struct {
	msg raft.Message
}

// Node pairs a Server with the in-memory store and FSM sink a real
// IOBackend/FSM pair would back it with.
type Node struct {
	ID      raft.ServerID
	Server  *raft.Server
	Store   *MemoryStore
	Applied []raft.Entry

	// Outcomes collects terminal client-request statuses (catch-up
	// promotions, transfers) the Server reported while being driven.
	Outcomes []raft.RequestOutcome
}

// Network routes messages between Nodes and feeds persistence/apply
// completions back in, so a test can drive a cluster purely through
// Tick/Submit calls and assert on committed entries.
type Network struct {
	nodes      map[raft.ServerID]*Node
	inflight   map[raft.ServerID][]inflightMessage
	partitions map[raft.ServerID]map[raft.ServerID]bool
	now        int64
}

// NewNetwork returns an empty Network with no partitions.
func NewNetwork() *Network {
	return &Network{
		nodes:      make(map[raft.ServerID]*Node),
		inflight:   make(map[raft.ServerID][]inflightMessage),
		partitions: make(map[raft.ServerID]map[raft.ServerID]bool),
	}
}

// Add registers a Node. Its Server must already be started.
func (n *Network) Add(node *Node) {
	n.nodes[node.ID] = node
}

// Remove stops ticking/delivering to id, simulating a crash.
func (n *Network) Remove(id raft.ServerID) {
	delete(n.nodes, id)
	delete(n.inflight, id)
}

// Node returns the registered Node for id, or nil.
func (n *Network) Node(id raft.ServerID) *Node {
	return n.nodes[id]
}

// Partition drops every message between a and b in both directions
// until Heal is called.
func (n *Network) Partition(a, b raft.ServerID) {
	if n.partitions[a] == nil {
		n.partitions[a] = make(map[raft.ServerID]bool)
	}
	if n.partitions[b] == nil {
		n.partitions[b] = make(map[raft.ServerID]bool)
	}
	n.partitions[a][b] = true
	n.partitions[b][a] = true
}

// Heal clears every partition.
func (n *Network) Heal() {
	n.partitions = make(map[raft.ServerID]map[raft.ServerID]bool)
}

func (n *Network) connected(a, b raft.ServerID) bool {
	return !n.partitions[a][b]
}

// Now returns the harness's current virtual clock, in milliseconds.
func (n *Network) Now() int64 { return n.now }

// Tick advances the virtual clock by dt milliseconds, delivers every
// message queued from the previous round, and steps every node's
// election/heartbeat timers, draining each node's Update the way a real
// caller would (persist, send, apply).
func (n *Network) Tick(dt int64) error {
	n.now += dt
	if err := n.deliverAll(); err != nil {
		return err
	}
	for id, node := range n.nodes {
		update, err := node.Server.Step(raft.Event{Type: raft.EventTimeout, Time: n.now})
		if err != nil {
			return errors.Annotatef(err, "node %d tick", id)
		}
		if err := n.drain(node, update); err != nil {
			return err
		}
	}
	return nil
}

// Submit proposes entries on the given node, failing if it is not the
// leader, and drains the resulting Update.
func (n *Network) Submit(id raft.ServerID, entries ...raft.Entry) error {
	node, ok := n.nodes[id]
	if !ok {
		return errors.Annotatef(ErrUnknownNode, "node %d", id)
	}
	update, err := node.Server.Step(raft.Event{Type: raft.EventSubmit, Time: n.now, SubmitEntries: entries})
	if err != nil {
		return err
	}
	return n.drain(node, update)
}

// Propose issues a configuration change on the given node and drains the
// resulting Update.
func (n *Network) Propose(id raft.ServerID, chg raft.ConfigurationChange) error {
	node, ok := n.nodes[id]
	if !ok {
		return errors.Annotatef(ErrUnknownNode, "node %d", id)
	}
	update, err := node.Server.ProposeConfigurationChange(chg)
	if err != nil {
		return err
	}
	return n.drain(node, update)
}

// deliverAll hands every message queued by the previous round's drain to
// its destination node via EventReceive, honoring partitions by
// silently dropping (as a real transport failure would, retried by the
// sender's own timers).
func (n *Network) deliverAll() error {
	pending := n.inflight
	n.inflight = make(map[raft.ServerID][]inflightMessage)
	for to, msgs := range pending {
		node, ok := n.nodes[to]
		if !ok {
			continue
		}
		for _, im := range msgs {
			if !n.connected(im.msg.From, to) {
				continue
			}
			update, err := node.Server.Step(raft.Event{Type: raft.EventReceive, Time: n.now, FromID: im.msg.From, Message: im.msg})
			if err != nil {
				return errors.Annotatef(err, "node %d receive", to)
			}
			if err := n.drain(node, update); err != nil {
				return err
			}
		}
	}
	return nil
}

// drain applies an Update the way a real collaborator would: append
// entries to the node's MemoryStore and immediately ack persistence
// (the harness has no real disk latency), queue snapshot chunks,
// enqueue messages for next Tick's delivery, and apply committed
// entries to the in-memory sink.
func (n *Network) drain(node *Node, update raft.Update) error {
	if update.Flags&raft.UpdateEntries != 0 {
		node.Store.Append(update.PersistEntries.FirstIndex, update.PersistEntries.Entries)
		ackUpdate, err := node.Server.Step(raft.Event{
			Type:              raft.EventPersistedEntries,
			Time:              n.now,
			PersistFirstIndex: update.PersistEntries.FirstIndex,
			PersistCount:      uint64(len(update.PersistEntries.Entries)),
		})
		if err != nil {
			return err
		}
		if err := n.drain(node, ackUpdate); err != nil {
			return err
		}
	}
	for _, m := range update.Messages {
		n.inflight[m.To] = append(n.inflight[m.To], inflightMessage{msg: m})
	}
	if len(update.Apply) > 0 {
		node.Applied = append(node.Applied, update.Apply...)
	}
	if len(update.Outcomes) > 0 {
		node.Outcomes = append(node.Outcomes, update.Outcomes...)
	}

	if update.Flags&raft.UpdateSnapshot != 0 {
		if update.LoadSnapshot.Metadata.Index != 0 {
			// The harness always hands back a single chunk covering the
			// whole snapshot; a real IOBackend would page through
			// snapshotChunkSize-sized reads instead.
			ackUpdate, err := node.Server.Step(raft.Event{
				Type:             raft.EventPersistedSnapshot,
				Time:             n.now,
				SnapshotMetadata: update.LoadSnapshot.Metadata,
				SnapshotOffset:   update.LoadSnapshot.Offset,
				SnapshotChunk:    []byte("snapshot"),
				SnapshotLast:     true,
			})
			if err != nil {
				return err
			}
			if err := n.drain(node, ackUpdate); err != nil {
				return err
			}
		}
		if update.PersistSnapshot.Metadata.Index != 0 {
			ackUpdate, err := node.Server.Step(raft.Event{
				Type:             raft.EventPersistedSnapshot,
				Time:             n.now,
				SnapshotMetadata: update.PersistSnapshot.Metadata,
				SnapshotOffset:   update.PersistSnapshot.Offset,
				SnapshotLast:     update.PersistSnapshot.Last,
			})
			if err != nil {
				return err
			}
			if err := n.drain(node, ackUpdate); err != nil {
				return err
			}
		}
	}

	if update.TakeSnapshot {
		srv := node.Server
		taken := raft.SnapshotMetadata{
			Index:         srv.LastApplied(),
			Term:          srv.CurrentTerm(),
			Configuration: srv.Configuration(),
		}
		ackUpdate, err := srv.Step(raft.Event{
			Type:             raft.EventSnapshot,
			Time:             n.now,
			TakenSnapshot:    taken,
			SnapshotTrailing: 8,
		})
		if err != nil {
			return err
		}
		if err := n.drain(node, ackUpdate); err != nil {
			return err
		}
	}
	return nil
}

var ErrUnknownNode = errors.New("nettest: unknown node")
