// Package transport moves RPCs between nodes. The protocol tolerates
// duplicate, reordered and lost messages, so transports only promise
// best-effort request/response delivery.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/otterlog/otter-raft/internal/raft"
	"github.com/otterlog/otter-raft/pkg/types"
)

var (
	// ErrUnknownPeer is returned when no route exists for the target.
	ErrUnknownPeer = errors.New("transport: unknown peer")

	// ErrUnknownRPC is returned for an RPC outside the protocol's
	// message set.
	ErrUnknownRPC = errors.New("transport: unknown rpc type")
)

// Transport delivers one RPC to one peer and returns the peer's reply.
// The driver turns the reply into a Message event, so responses flow
// through the same event pipeline as requests.
type Transport interface {
	Send(ctx context.Context, to types.NodeID, rpc raft.RPC) (raft.RPC, error)
}

// Handler is the receive side a node registers with an in-process
// transport.
type Handler interface {
	DeliverRPC(ctx context.Context, from types.NodeID, rpc raft.RPC) (raft.RPC, error)
}

// InMemory connects nodes within one process, for tests and the demo
// cluster.
type InMemory struct {
	mu    sync.RWMutex
	self  map[types.NodeID]struct{}
	nodes map[types.NodeID]Handler
}

// NewInMemory creates an empty in-process fabric. Each node obtains its
// own sender with Bind.
func NewInMemory() *InMemory {
	return &InMemory{nodes: make(map[types.NodeID]Handler)}
}

// Register attaches a node's receive side to the fabric.
func (t *InMemory) Register(id types.NodeID, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[id] = h
}

// Bind returns the Transport a specific node should send through, so
// deliveries carry the correct sender identity.
func (t *InMemory) Bind(id types.NodeID) Transport {
	return &boundTransport{fabric: t, from: id}
}

type boundTransport struct {
	fabric *InMemory
	from   types.NodeID
}

func (b *boundTransport) Send(ctx context.Context, to types.NodeID, rpc raft.RPC) (raft.RPC, error) {
	b.fabric.mu.RLock()
	h, ok := b.fabric.nodes[to]
	b.fabric.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownPeer
	}
	return h.DeliverRPC(ctx, b.from, rpc)
}
