package transport

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/otterlog/otter-raft/internal/raft"
	"github.com/otterlog/otter-raft/pkg/types"
)

// Fully qualified gRPC method names, shared with internal/server.
const (
	MethodAppendEntries = "/otter.raft.v1.Raft/AppendEntries"
	MethodRequestVote   = "/otter.raft.v1.Raft/RequestVote"
)

// GRPC sends peer RPCs over gRPC connections, one cached connection per
// peer address.
type GRPC struct {
	mu    sync.Mutex
	addrs map[types.NodeID]string
	conns map[types.NodeID]*grpc.ClientConn
}

// NewGRPC creates a gRPC transport routing to the given peer addresses.
func NewGRPC(addrs map[types.NodeID]string) *GRPC {
	return &GRPC{
		addrs: addrs,
		conns: make(map[types.NodeID]*grpc.ClientConn),
	}
}

func (t *GRPC) conn(to types.NodeID) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[to]; ok {
		return conn, nil
	}
	addr, ok := t.addrs[to]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("transport: dial peer %s: %w", to, err)
	}
	t.conns[to] = conn
	return conn, nil
}

func (t *GRPC) Send(ctx context.Context, to types.NodeID, rpc raft.RPC) (raft.RPC, error) {
	conn, err := t.conn(to)
	if err != nil {
		return nil, err
	}

	var (
		method string
		reply  raft.RPC
	)
	switch rpc.(type) {
	case *raft.AppendEntriesArgs:
		method, reply = MethodAppendEntries, new(raft.AppendEntriesReply)
	case *raft.RequestVoteArgs:
		method, reply = MethodRequestVote, new(raft.RequestVoteReply)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownRPC, rpc)
	}

	if err := conn.Invoke(ctx, method, rpc, reply, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return reply, nil
}

// Close tears down all cached connections.
func (t *GRPC) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	for id, conn := range t.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.conns, id)
	}
	return firstErr
}
