package nettest

import (
	"github.com/cedalo/raftcowsql/raft"
)

// NewNode constructs a Server from cfg, bootstraps it against conf, and
// starts it from an empty MemoryStore, wrapping the result as a Node
// ready to Add to a Network. Callers fill in at least cfg.ID/cfg.Seed;
// zero-valued tunables default the way Config.Validate defaults them.
func NewNode(cfg raft.Config, conf raft.Configuration) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = raft.NewDiscardLogger()
	}
	if srv, ok := conf.Get(cfg.ID); ok && cfg.Address == "" {
		cfg.Address = srv.Address
	}
	server, err := raft.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := server.Bootstrap(conf); err != nil {
		return nil, err
	}
	store := NewMemoryStore()
	if err := server.Start(raft.PersistedState{CurrentTerm: 1}, store, store); err != nil {
		return nil, err
	}
	return &Node{ID: cfg.ID, Server: server, Store: store}, nil
}
