package server

import (
	"context"

	"google.golang.org/grpc"

	"github.com/otterlog/otter-raft/internal/raft"
)

// RaftService is the gRPC surface of a node: the two peer RPCs plus the
// client envelope. The service descriptor below is maintained by hand;
// the wire encoding is the registered JSON codec, negotiated through
// the content-subtype, so there is no generated code to keep in sync.
type RaftService interface {
	AppendEntries(ctx context.Context, args *raft.AppendEntriesArgs) (*raft.AppendEntriesReply, error)
	RequestVote(ctx context.Context, args *raft.RequestVoteArgs) (*raft.RequestVoteReply, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ClientReply, error)
	Query(ctx context.Context, req *QueryRequest) (*ClientReply, error)
}

// ApplyRequest is the client write envelope.
type ApplyRequest struct {
	ClientID string `json:"client_id"`
	Command  []byte `json:"command"`
}

// QueryRequest is the client read envelope.
type QueryRequest struct {
	ClientID string `json:"client_id"`
}

// ClientReply is the client response envelope: exactly one of the
// variants per Kind.
type ClientReply struct {
	Kind        ReplyKind `json:"kind"`
	Snapshot    []byte    `json:"snapshot,omitempty"`
	Index       uint64    `json:"index,omitempty"`
	LeaderKnown bool      `json:"leader_known,omitempty"`
	LeaderID    string    `json:"leader_id,omitempty"`
}

// ReplyKind discriminates the ClientReply variants.
type ReplyKind string

const (
	ReplyRead     ReplyKind = "read"
	ReplyWrite    ReplyKind = "write"
	ReplyRedirect ReplyKind = "redirect"
)

// ServiceDesc is the hand-rolled gRPC service descriptor for
// RaftService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "otter.raft.v1.Raft",
	HandlerType: (*RaftService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "Apply", Handler: applyHandler},
		{MethodName: "Query", Handler: queryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "otter/raft/v1/raft.json",
}

func appendEntriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(raft.AppendEntriesArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftService).AppendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/otter.raft.v1.Raft/AppendEntries"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(RaftService).AppendEntries(ctx, req.(*raft.AppendEntriesArgs))
	})
}

func requestVoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(raft.RequestVoteArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftService).RequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/otter.raft.v1.Raft/RequestVote"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(RaftService).RequestVote(ctx, req.(*raft.RequestVoteArgs))
	})
}

func applyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ApplyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftService).Apply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/otter.raft.v1.Raft/Apply"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(RaftService).Apply(ctx, req.(*ApplyRequest))
	})
}

func queryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftService).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/otter.raft.v1.Raft/Query"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(RaftService).Query(ctx, req.(*QueryRequest))
	})
}
