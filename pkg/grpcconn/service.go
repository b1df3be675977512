package grpcconn

import (
	"context"

	"google.golang.org/grpc"

	"github.com/xlpha/xraft/pkg/raft"
)

const serviceName = "xraft.Raft"

// server adapts a raft.InboundHandler to grpc's unary-handler shape. It
// plays the role the teacher's generated UnimplementedRaftServiceServer +
// concrete raftServer pair play, minus the generator.
type server struct {
	handler raft.InboundHandler
}

func requestVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	s := srv.(*server)
	var args raft.RequestVoteArgs
	if err := dec(&args); err != nil {
		return nil, err
	}
	result := s.handler.OnReceiveRequestVote(ctx, args.CandidateId, args)
	return &result, nil
}

func appendEntriesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	s := srv.(*server)
	var args raft.AppendEntriesArgs
	if err := dec(&args); err != nil {
		return nil, err
	}
	result := s.handler.OnReceiveAppendEntries(ctx, args.LeaderId, args)
	return &result, nil
}

func installSnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	s := srv.(*server)
	var args raft.InstallSnapshotArgs
	if err := dec(&args); err != nil {
		return nil, err
	}
	result := s.handler.OnReceiveInstallSnapshot(ctx, args.LeaderId, args)
	return &result, nil
}

// serviceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a service with three unary RPCs.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
		{MethodName: "InstallSnapshot", Handler: installSnapshotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "xraft.proto",
}

// RegisterServer registers handler on s to serve inbound RPCs addressed to
// this node, using result RPCs delivered asynchronously back through the
// sender's own Connector -- the grpc call here only ever returns the
// synchronous reply (RequestVoteResult/AppendEntriesResult/
// InstallSnapshotResult), matching Connector's send-only contract: results
// are handled on the client side by Connector's own goroutines, not by
// blocking this handler.
func RegisterServer(s *grpc.Server, handler raft.InboundHandler) {
	s.RegisterService(&serviceDesc, &server{handler: handler})
}
