package node

import (
	"context"

	"github.com/otterlog/otter-raft/internal/raft"
	"github.com/otterlog/otter-raft/pkg/types"
)

// Submit replicates a command through this node. On a follower the
// response is a redirect to the current leader; on the leader it
// resolves once the entry commits.
func (n *Node) Submit(ctx context.Context, client types.ClientID, command []byte) (raft.ClientResponse, error) {
	return n.request(ctx, client, raft.WriteRequest{Command: command})
}

// Query performs a linearizable read through this node. On the leader
// the response is deferred until a heartbeat quorum confirms
// leadership for the read's serial.
func (n *Node) Query(ctx context.Context, client types.ClientID) (raft.ClientResponse, error) {
	return n.request(ctx, client, raft.ReadRequest{})
}

func (n *Node) request(ctx context.Context, client types.ClientID, body raft.RequestBody) (raft.ClientResponse, error) {
	ch := make(chan raft.ClientResponse, 1)
	n.pmu.Lock()
	n.pending[client] = ch
	n.pmu.Unlock()

	if !n.enqueue(envelope{ev: raft.ClientRequest{Client: client, Body: body}}) {
		n.dropPending(client)
		return nil, ErrStopped
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		n.dropPending(client)
		return nil, ctx.Err()
	case <-n.stopCh:
		n.dropPending(client)
		return nil, ErrStopped
	}
}

func (n *Node) dropPending(client types.ClientID) {
	n.pmu.Lock()
	delete(n.pending, client)
	n.pmu.Unlock()
}

// DeliverRPC hands an inbound peer RPC to the event loop and waits for
// the reply addressed back to the sender. Transports and the gRPC
// server use this as the receive path.
func (n *Node) DeliverRPC(ctx context.Context, from types.NodeID, rpc raft.RPC) (raft.RPC, error) {
	env := envelope{
		ev:      raft.Message{From: from, RPC: rpc},
		from:    from,
		replyTo: make(chan raft.RPC, 1),
		done:    make(chan struct{}),
	}
	if !n.enqueue(env) {
		return nil, ErrStopped
	}

	select {
	case <-env.done:
		select {
		case reply := <-env.replyTo:
			return reply, nil
		default:
			return nil, ErrNoReply
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.stopCh:
		return nil, ErrStopped
	}
}

// Status reports the node's protocol position for tests, demos and
// operator commands.
type Status struct {
	ID          types.NodeID
	Term        types.Term
	Role        raft.Role
	Leader      types.LeaderRef
	CommitIndex types.Index
	LastApplied types.Index
}

// Status snapshots the node's position via the event loop, so it is
// consistent with event ordering.
func (n *Node) Status(ctx context.Context) (Status, error) {
	out := make(chan Status, 1)
	env := envelope{probe: out}
	if !n.enqueue(env) {
		return Status{}, ErrStopped
	}
	select {
	case st := <-out:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-n.stopCh:
		return Status{}, ErrStopped
	}
}
