package main

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cedalo/raftcowsql/internal/nettest"
	"github.com/cedalo/raftcowsql/raft"
)

// demoCluster wraps an in-memory nettest.Network with the server ids
// raftctl commands operate against, standing in for a real deployment's
// collection of long-lived Server processes talking over a real
// transport.
type demoCluster struct {
	net *nettest.Network
	ids []raft.ServerID
}

func newDemoCluster(n int) (*demoCluster, error) {
	if n <= 0 {
		n = 3
	}
	conf := raft.Configuration{}
	ids := make([]raft.ServerID, 0, n)
	for i := 1; i <= n; i++ {
		id := raft.ServerID(i)
		if err := conf.Add(id, fmt.Sprintf("127.0.0.1:%d", 7000+i), raft.Voter); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	net := nettest.NewNetwork()
	for i, id := range ids {
		node, err := nettest.NewNode(raft.Config{
			ID:               id,
			ElectionTimeout:  1000,
			HeartbeatTimeout: 100,
			PreVote:          true,
			Seed:             int64(i + 1),
		}, conf)
		if err != nil {
			return nil, err
		}
		net.Add(node)
	}
	return &demoCluster{net: net, ids: ids}, nil
}

// runUntilLeader ticks the cluster forward until a leader emerges or the
// tick budget is exhausted.
func (c *demoCluster) runUntilLeader(maxTicks int) (raft.ServerID, error) {
	for i := 0; i < maxTicks; i++ {
		if err := c.net.Tick(100); err != nil {
			return 0, err
		}
		for _, id := range c.ids {
			if node := c.net.Node(id); node != nil && node.Server.State() == raft.Leader {
				return id, nil
			}
		}
	}
	return 0, fmt.Errorf("no leader elected within %d ticks", maxTicks)
}

// submit proposes a command against the leader, tagging its payload with
// a fresh request id the way a client library would, and derives a short
// digest of that id for log correlation (mirroring raft.Digest's role in
// the original as a stable id derived from a human-facing name).
func (c *demoCluster) submit(leader raft.ServerID, command string) (uuid.UUID, uint64, error) {
	reqID := uuid.New()
	digest := raft.Digest(reqID.String(), uint64(leader))
	payload := fmt.Sprintf("%s|%s", reqID, command)
	if err := c.net.Submit(leader, raft.Entry{Kind: raft.EntryCommand, Data: []byte(payload)}); err != nil {
		return uuid.Nil, 0, err
	}
	for i := 0; i < 20; i++ {
		if err := c.net.Tick(50); err != nil {
			return uuid.Nil, 0, err
		}
	}
	return reqID, digest, nil
}

func (c *demoCluster) status() []string {
	lines := make([]string, 0, len(c.ids))
	for _, id := range c.ids {
		node := c.net.Node(id)
		if node == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf(
			"server %d: state=%s term=%d commit=%d applied=%d",
			id, node.Server.State(), node.Server.CurrentTerm(), node.Server.CommitIndex(), node.Server.LastApplied(),
		))
	}
	return lines
}
