// Package server exposes a node over gRPC: the peer RPCs used by other
// cluster members and the read/write envelope used by clients.
package server

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"

	"github.com/otterlog/otter-raft/internal/node"
	"github.com/otterlog/otter-raft/internal/raft"
	_ "github.com/otterlog/otter-raft/internal/transport" // registers the JSON wire codec
	"github.com/otterlog/otter-raft/pkg/types"
)

// Server adapts a node to the RaftService wire surface.
type Server struct {
	node *node.Node
	grpc *grpc.Server
}

// New creates a Server around a running node.
func New(n *node.Node) *Server {
	s := &Server{node: n, grpc: grpc.NewServer()}
	s.grpc.RegisterService(&ServiceDesc, s)
	return s
}

// Serve listens on addr and serves until Shutdown.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.grpc.Serve(lis)
}

// Shutdown stops the gRPC server gracefully.
func (s *Server) Shutdown() {
	s.grpc.GracefulStop()
}

func (s *Server) AppendEntries(ctx context.Context, args *raft.AppendEntriesArgs) (*raft.AppendEntriesReply, error) {
	reply, err := s.node.DeliverRPC(ctx, args.LeaderID, args)
	if err != nil {
		return nil, err
	}
	return reply.(*raft.AppendEntriesReply), nil
}

func (s *Server) RequestVote(ctx context.Context, args *raft.RequestVoteArgs) (*raft.RequestVoteReply, error) {
	reply, err := s.node.DeliverRPC(ctx, args.CandidateID, args)
	if err != nil {
		return nil, err
	}
	return reply.(*raft.RequestVoteReply), nil
}

func (s *Server) Apply(ctx context.Context, req *ApplyRequest) (*ClientReply, error) {
	resp, err := s.node.Submit(ctx, types.ClientID(req.ClientID), req.Command)
	if err != nil {
		return nil, err
	}
	return toClientReply(resp), nil
}

func (s *Server) Query(ctx context.Context, req *QueryRequest) (*ClientReply, error) {
	resp, err := s.node.Query(ctx, types.ClientID(req.ClientID))
	if err != nil {
		return nil, err
	}
	return toClientReply(resp), nil
}

func toClientReply(resp raft.ClientResponse) *ClientReply {
	switch r := resp.(type) {
	case raft.ReadResponse:
		return &ClientReply{Kind: ReplyRead, Snapshot: r.Snapshot}
	case raft.WriteResponse:
		return &ClientReply{Kind: ReplyWrite, Index: uint64(r.Index)}
	case raft.RedirectResponse:
		return &ClientReply{
			Kind:        ReplyRedirect,
			LeaderKnown: r.Leader.Known,
			LeaderID:    string(r.Leader.ID),
		}
	default:
		return &ClientReply{Kind: ReplyRedirect}
	}
}
