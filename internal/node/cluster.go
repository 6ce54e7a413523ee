package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/otterlog/otter-raft/internal/raft"
	"github.com/otterlog/otter-raft/internal/raftlog"
	"github.com/otterlog/otter-raft/internal/rsm"
	"github.com/otterlog/otter-raft/internal/transport"
	"github.com/otterlog/otter-raft/pkg/types"
)

// ErrNoLeader is returned by WaitForLeader when the context expires
// before any node wins an election.
var ErrNoLeader = errors.New("node: no leader elected")

// LocalCluster wires several nodes over the in-memory transport, each
// with its own volatile log store and key/value machine. Used by the
// demo command and the integration tests.
type LocalCluster struct {
	ids      []types.NodeID
	nodes    map[types.NodeID]*Node
	machines map[types.NodeID]*rsm.KV
	stores   map[types.NodeID]*raftlog.MemoryStore
}

// NewLocalCluster builds a stopped cluster of the given node ids.
func NewLocalCluster(ids []string) (*LocalCluster, error) {
	peers := make([]types.NodeID, len(ids))
	for i, id := range ids {
		peers[i] = types.NodeID(id)
	}

	fabric := transport.NewInMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := &LocalCluster{
		ids:      peers,
		nodes:    make(map[types.NodeID]*Node, len(peers)),
		machines: make(map[types.NodeID]*rsm.KV, len(peers)),
		stores:   make(map[types.NodeID]*raftlog.MemoryStore, len(peers)),
	}

	for _, id := range peers {
		machine := rsm.NewKV()
		store := raftlog.NewMemoryStore()
		n, err := New(Options{
			Config: raft.Config{
				SelfID:             id,
				Peers:              peers,
				ElectionTimeoutMin: 150 * time.Millisecond,
				ElectionTimeoutMax: 300 * time.Millisecond,
				HeartbeatInterval:  40 * time.Millisecond,
			},
			Store:     store,
			Machine:   machine,
			Transport: fabric.Bind(id),
			States:    &MemoryStateStore{},
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		fabric.Register(id, n)
		c.nodes[id] = n
		c.machines[id] = machine
		c.stores[id] = store
	}
	return c, nil
}

// Start launches every node.
func (c *LocalCluster) Start() {
	for _, id := range c.ids {
		c.nodes[id].Start()
	}
}

// Stop shuts every node down.
func (c *LocalCluster) Stop() {
	for _, id := range c.ids {
		c.nodes[id].Stop()
	}
}

// Node returns one member by id.
func (c *LocalCluster) Node(id types.NodeID) *Node {
	return c.nodes[id]
}

// Machine returns one member's key/value machine.
func (c *LocalCluster) Machine(id types.NodeID) *rsm.KV {
	return c.machines[id]
}

// WaitForLeader polls until some node reports itself leader.
func (c *LocalCluster) WaitForLeader(ctx context.Context) (types.NodeID, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, id := range c.ids {
			st, err := c.nodes[id].Status(ctx)
			if err != nil {
				return "", err
			}
			if st.Role == raft.RoleLeader {
				return id, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrNoLeader, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Submit replicates a command through the named node.
func (c *LocalCluster) Submit(ctx context.Context, id types.NodeID, client types.ClientID, command []byte) (raft.ClientResponse, error) {
	return c.nodes[id].Submit(ctx, client, command)
}

// Read performs a linearizable read through the named node.
func (c *LocalCluster) Read(ctx context.Context, id types.NodeID, client types.ClientID) ([]byte, error) {
	resp, err := c.nodes[id].Query(ctx, client)
	if err != nil {
		return nil, err
	}
	read, ok := resp.(raft.ReadResponse)
	if !ok {
		return nil, fmt.Errorf("node: read answered with %T", resp)
	}
	return read.Snapshot, nil
}
