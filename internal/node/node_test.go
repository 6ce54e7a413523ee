package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/otterlog/otter-raft/internal/raft"
	"github.com/otterlog/otter-raft/internal/rsm"
	"github.com/otterlog/otter-raft/pkg/types"
)

func TestSingleNodeClusterServesWritesAndReads(t *testing.T) {
	cluster, err := NewLocalCluster([]string{"n0"})
	require.NoError(t, err)
	cluster.Start()
	defer cluster.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	leader, err := cluster.WaitForLeader(ctx)
	require.NoError(t, err)
	require.Equal(t, types.NodeID("n0"), leader)

	set, err := rsm.EncodeSet("test", 1)
	require.NoError(t, err)
	resp, err := cluster.Submit(ctx, leader, "c0", set)
	require.NoError(t, err)
	write, ok := resp.(raft.WriteResponse)
	require.True(t, ok)
	// Index 1 is the leader's no-op; the write lands at 2.
	require.Equal(t, types.Index(2), write.Index)

	snapshot, err := cluster.Read(ctx, leader, "c0")
	require.NoError(t, err)
	require.JSONEq(t, `{"test":1}`, string(snapshot))

	st, err := cluster.Node(leader).Status(ctx)
	require.NoError(t, err)
	require.Equal(t, raft.RoleLeader, st.Role)
	require.Equal(t, types.Index(2), st.CommitIndex)
	require.Equal(t, types.Index(2), st.LastApplied)
}

func TestThreeNodeClusterReplicates(t *testing.T) {
	cluster, err := NewLocalCluster([]string{"n0", "n1", "n2"})
	require.NoError(t, err)
	cluster.Start()
	defer cluster.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	leader, err := cluster.WaitForLeader(ctx)
	require.NoError(t, err)

	set, err := rsm.EncodeSet("test", 1)
	require.NoError(t, err)
	resp, err := cluster.Submit(ctx, leader, "c0", set)
	require.NoError(t, err)
	_, ok := resp.(raft.WriteResponse)
	require.True(t, ok)

	incr, err := rsm.EncodeIncr("test")
	require.NoError(t, err)
	resp, err = cluster.Submit(ctx, leader, "c0", incr)
	require.NoError(t, err)
	_, ok = resp.(raft.WriteResponse)
	require.True(t, ok)

	// Followers converge on the next heartbeats.
	require.Eventually(t, func() bool {
		for _, id := range []types.NodeID{"n0", "n1", "n2"} {
			if v, _ := cluster.Machine(id).Get("test"); v != 2 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFollowerRedirectsToLeader(t *testing.T) {
	cluster, err := NewLocalCluster([]string{"n0", "n1", "n2"})
	require.NoError(t, err)
	cluster.Start()
	defer cluster.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	leader, err := cluster.WaitForLeader(ctx)
	require.NoError(t, err)

	var follower types.NodeID
	for _, id := range []types.NodeID{"n0", "n1", "n2"} {
		if id != leader {
			follower = id
			break
		}
	}

	set, err := rsm.EncodeSet("test", 1)
	require.NoError(t, err)

	// The follower may take a heartbeat to learn the leader; redirects
	// with an unknown leader are valid until then.
	require.Eventually(t, func() bool {
		resp, err := cluster.Submit(ctx, follower, "c0", set)
		if err != nil {
			return false
		}
		redirect, ok := resp.(raft.RedirectResponse)
		return ok && redirect.Leader == types.KnownLeader(leader)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNodeStopUnblocksClients(t *testing.T) {
	cluster, err := NewLocalCluster([]string{"n0", "n1", "n2"})
	require.NoError(t, err)
	cluster.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = cluster.WaitForLeader(ctx)
	require.NoError(t, err)

	cluster.Stop()

	_, err = cluster.Submit(context.Background(), "n0", "c0", []byte(`{}`))
	require.ErrorIs(t, err, ErrStopped)
}

func TestMemoryStateStoreRoundTrip(t *testing.T) {
	var store MemoryStateStore

	ps, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, raft.PersistentState{}, ps)

	want := raft.PersistentState{CurrentTerm: 3, VotedFor: "n1"}
	require.NoError(t, store.Save(want))
	ps, err = store.Load()
	require.NoError(t, err)
	require.Equal(t, want, ps)
}
