package raft

import "context"

// Connector is a thread-safe, send-only sink for outbound RPCs. The core
// never waits synchronously on a Connector call for a protocol response --
// replies arrive later as inbound onReceive*Result events, dispatched back
// onto the main executor by whatever is listening on the other end of the
// Connector (a Local in-process dispatcher or a grpc server).
type Connector interface {
	SendRequestVote(ctx context.Context, to NodeEndpoint, args RequestVoteArgs)
	SendAppendEntries(ctx context.Context, to NodeEndpoint, args AppendEntriesArgs)
	SendInstallSnapshot(ctx context.Context, to NodeEndpoint, args InstallSnapshotArgs)
}

// InboundHandler is implemented by NodeImpl and is what a transport (the
// other side of a Connector) calls when a message arrives from a peer. Each
// method submits the event to the receiving node's executor. The three
// request handlers wait for the executor to run it and return the reply;
// the three *Result handlers return as soon as the event is submitted.
type InboundHandler interface {
	OnReceiveRequestVote(ctx context.Context, from NodeId, args RequestVoteArgs) RequestVoteResult
	OnReceiveRequestVoteResult(ctx context.Context, from NodeId, result RequestVoteResult)
	OnReceiveAppendEntries(ctx context.Context, from NodeId, args AppendEntriesArgs) AppendEntriesResult
	OnReceiveAppendEntriesResult(ctx context.Context, from NodeId, result AppendEntriesResult)
	OnReceiveInstallSnapshot(ctx context.Context, from NodeId, args InstallSnapshotArgs) InstallSnapshotResult
	OnReceiveInstallSnapshotResult(ctx context.Context, from NodeId, result InstallSnapshotResult)
}
