// Package localconn is an in-process raft.Connector that dispatches
// directly to other nodes' raft.InboundHandler in the same process. It is
// grounded on the teacher's pkg/rpc.LocalTransport: a registry keyed by
// node id, with injectable per-link latency and the ability to simulate
// disconnects/partitions for tests.
package localconn

import (
	"context"
	"sync"
	"time"

	"github.com/xlpha/xraft/pkg/raft"
)

// Registry maps node ids to the InboundHandler that should receive
// messages addressed to them -- normally a *raft.NodeImpl, one per
// process-local simulated node.
type Registry struct {
	mu       sync.RWMutex
	handlers map[raft.NodeId]raft.InboundHandler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[raft.NodeId]raft.InboundHandler)}
}

// Register associates id with h, replacing any previous registration.
func (r *Registry) Register(id raft.NodeId, h raft.InboundHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = h
}

func (r *Registry) lookup(id raft.NodeId) raft.InboundHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[id]
}

// Connector is a raft.Connector that calls straight through to a
// Registry-resolved InboundHandler on its own goroutine, then delivers the
// reply back to the origin's OnReceive*Result -- never blocking the
// caller's goroutine waiting on that round trip.
type Connector struct {
	self     raft.NodeId
	registry *Registry

	mu       sync.RWMutex
	latency  time.Duration
	disabled map[raft.NodeId]map[raft.NodeId]bool
}

// NewConnector returns a Connector for self, routing through registry.
func NewConnector(self raft.NodeId, registry *Registry) *Connector {
	return &Connector{self: self, registry: registry, disabled: make(map[raft.NodeId]map[raft.NodeId]bool)}
}

// SetLatency injects an artificial per-message delay, useful for exercising
// the replication back-off and skip-on-recent-send paths in tests.
func (c *Connector) SetLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = d
}

// Disconnect drops messages from this connector's node to to.
func (c *Connector) Disconnect(to raft.NodeId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled[c.self] == nil {
		c.disabled[c.self] = make(map[raft.NodeId]bool)
	}
	c.disabled[c.self][to] = true
}

// Reconnect restores delivery from this connector's node to to.
func (c *Connector) Reconnect(to raft.NodeId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled[c.self] != nil {
		delete(c.disabled[c.self], to)
	}
}

func (c *Connector) blocked(to raft.NodeId) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled[c.self][to]
}

func (c *Connector) delay() {
	c.mu.RLock()
	d := c.latency
	c.mu.RUnlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (c *Connector) SendRequestVote(ctx context.Context, to raft.NodeEndpoint, args raft.RequestVoteArgs) {
	if c.blocked(to.Id) {
		return
	}
	target := c.registry.lookup(to.Id)
	if target == nil {
		return
	}
	go func() {
		c.delay()
		result := target.OnReceiveRequestVote(ctx, c.self, args)
		if origin := c.registry.lookup(c.self); origin != nil {
			origin.OnReceiveRequestVoteResult(ctx, to.Id, result)
		}
	}()
}

func (c *Connector) SendAppendEntries(ctx context.Context, to raft.NodeEndpoint, args raft.AppendEntriesArgs) {
	if c.blocked(to.Id) {
		return
	}
	target := c.registry.lookup(to.Id)
	if target == nil {
		return
	}
	go func() {
		c.delay()
		result := target.OnReceiveAppendEntries(ctx, c.self, args)
		if origin := c.registry.lookup(c.self); origin != nil {
			origin.OnReceiveAppendEntriesResult(ctx, to.Id, result)
		}
	}()
}

func (c *Connector) SendInstallSnapshot(ctx context.Context, to raft.NodeEndpoint, args raft.InstallSnapshotArgs) {
	if c.blocked(to.Id) {
		return
	}
	target := c.registry.lookup(to.Id)
	if target == nil {
		return
	}
	go func() {
		c.delay()
		result := target.OnReceiveInstallSnapshot(ctx, c.self, args)
		if origin := c.registry.lookup(c.self); origin != nil {
			origin.OnReceiveInstallSnapshotResult(ctx, to.Id, result)
		}
	}()
}
