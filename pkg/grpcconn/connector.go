package grpcconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xlpha/xraft/pkg/raft"
)

// Connector is a raft.Connector that dials peers over grpc and delivers
// replies back into self's raft.InboundHandler asynchronously, so callers
// (the consensus core) never block on the network round trip. Grounded on
// the teacher's pkg/grpc.GRPCTransport connection-pooling shape.
type Connector struct {
	self    raft.NodeId
	handler raft.InboundHandler
	timeout time.Duration

	mu    sync.Mutex
	conns map[raft.NodeId]*grpc.ClientConn
}

// NewConnector returns a Connector that delivers inbound RPC results to
// handler (the local node) and dials peers with the given per-call
// timeout.
func NewConnector(self raft.NodeId, handler raft.InboundHandler, timeout time.Duration) *Connector {
	return &Connector{
		self:    self,
		handler: handler,
		timeout: timeout,
		conns:   make(map[raft.NodeId]*grpc.ClientConn),
	}
}

// SetHandler binds the handler that receives inbound RPC results. It
// exists because raft.New requires a Connector up front while the node
// it constructs is itself the Connector's handler; callers construct the
// Connector with a nil handler, build the node, then call SetHandler
// before starting it.
func (c *Connector) SetHandler(handler raft.InboundHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *Connector) getHandler() raft.InboundHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *Connector) getConn(to raft.NodeEndpoint) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[to.Id]; ok {
		return cc, nil
	}
	addr := fmt.Sprintf("%s:%d", to.Host, to.Port)
	cc, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	c.conns[to.Id] = cc
	return cc, nil
}

// Close tears down every dialed connection.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cc := range c.conns {
		cc.Close()
	}
}

func (c *Connector) invoke(ctx context.Context, to raft.NodeEndpoint, method string, args, reply interface{}) error {
	cc, err := c.getConn(to)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	fullMethod := fmt.Sprintf("/%s/%s", serviceName, method)
	return cc.Invoke(ctx, fullMethod, args, reply, grpc.CallContentSubtype(codecName))
}

func (c *Connector) SendRequestVote(ctx context.Context, to raft.NodeEndpoint, args raft.RequestVoteArgs) {
	go func() {
		var reply raft.RequestVoteResult
		if err := c.invoke(ctx, to, "RequestVote", &args, &reply); err != nil {
			return // best-effort send; the core tolerates dropped RPCs
		}
		c.getHandler().OnReceiveRequestVoteResult(ctx, to.Id, reply)
	}()
}

func (c *Connector) SendAppendEntries(ctx context.Context, to raft.NodeEndpoint, args raft.AppendEntriesArgs) {
	go func() {
		var reply raft.AppendEntriesResult
		if err := c.invoke(ctx, to, "AppendEntries", &args, &reply); err != nil {
			return
		}
		c.getHandler().OnReceiveAppendEntriesResult(ctx, to.Id, reply)
	}()
}

func (c *Connector) SendInstallSnapshot(ctx context.Context, to raft.NodeEndpoint, args raft.InstallSnapshotArgs) {
	go func() {
		var reply raft.InstallSnapshotResult
		if err := c.invoke(ctx, to, "InstallSnapshot", &args, &reply); err != nil {
			return
		}
		c.getHandler().OnReceiveInstallSnapshotResult(ctx, to.Id, reply)
	}()
}
