package harness

import (
	"os"

	"go.uber.org/zap"

	"github.com/xlpha/xraft/pkg/kv"
	"github.com/xlpha/xraft/pkg/localconn"
	"github.com/xlpha/xraft/pkg/raft"
	"github.com/xlpha/xraft/pkg/walstore"
)

// ClusterNode bundles one node's raft core with the pieces a test wants
// direct access to.
type ClusterNode struct {
	Id        raft.NodeId
	Node      *raft.NodeImpl
	Store     *kv.Store
	Connector *localconn.Connector
	walstore  *walstore.Store
}

// Cluster is a deterministic, single-process raft cluster: every node
// shares one raft.ManualScheduler so a test advances virtual time
// explicitly instead of racing real timers, and nodes talk to each
// other over in-process localconn.Connectors rather than a real
// transport. Grounded on the teacher's pkg/testing.DeterministicTransport,
// generalized from a single shared transport to per-node
// localconn.Connectors against one shared localconn.Registry.
type Cluster struct {
	Nodes     map[raft.NodeId]*ClusterNode
	Registry  *localconn.Registry
	Scheduler *raft.ManualScheduler
	Logger    *zap.Logger
}

// NewCluster builds a Cluster of len(endpoints) nodes, all starting with
// each other as initial peers, each backed by a walstore.Store rooted at
// a fresh temp directory.
func NewCluster(endpoints []raft.NodeEndpoint) (*Cluster, error) {
	logger := zap.NewNop()
	scheduler := raft.NewManualScheduler()
	registry := localconn.NewRegistry()

	c := &Cluster{
		Nodes:     make(map[raft.NodeId]*ClusterNode),
		Registry:  registry,
		Scheduler: scheduler,
		Logger:    logger,
	}

	for _, self := range endpoints {
		peers := make([]raft.NodeEndpoint, 0, len(endpoints)-1)
		for _, e := range endpoints {
			if e.Id != self.Id {
				peers = append(peers, e)
			}
		}

		dir, err := os.MkdirTemp("", "xraft-harness-"+string(self.Id)+"-")
		if err != nil {
			return nil, err
		}
		store, err := walstore.Open(dir)
		if err != nil {
			return nil, err
		}

		sm := kv.New()
		connector := localconn.NewConnector(self.Id, registry)
		cfg := raft.DefaultConfig(self)

		node := raft.New(cfg, peers, store, store, connector, scheduler, sm, logger)
		registry.Register(self.Id, node)

		c.Nodes[self.Id] = &ClusterNode{
			Id:        self.Id,
			Node:      node,
			Store:     sm,
			Connector: connector,
			walstore:  store,
		}
	}
	return c, nil
}

// StartAll starts every node's executor and election timer.
func (c *Cluster) StartAll() {
	for _, n := range c.Nodes {
		n.Node.Start()
	}
}

// StopAll stops every node and closes its walstore file.
func (c *Cluster) StopAll() {
	for _, n := range c.Nodes {
		n.Node.Stop()
		n.walstore.Close()
	}
}

// Leader returns the first node observed to be in the Leader role, or
// nil if none currently is.
func (c *Cluster) Leader() *ClusterNode {
	for _, n := range c.Nodes {
		if n.Node.GetRoleState().Tag == raft.RoleLeader {
			return n
		}
	}
	return nil
}

// Partition disconnects id from every other node in both directions,
// simulating a network partition.
func (c *Cluster) Partition(id raft.NodeId) {
	for _, n := range c.Nodes {
		if n.Id == id {
			continue
		}
		n.Connector.Disconnect(id)
		c.Nodes[id].Connector.Disconnect(n.Id)
	}
}

// Heal reverses a prior Partition(id).
func (c *Cluster) Heal(id raft.NodeId) {
	for _, n := range c.Nodes {
		if n.Id == id {
			continue
		}
		n.Connector.Reconnect(id)
		c.Nodes[id].Connector.Reconnect(n.Id)
	}
}
