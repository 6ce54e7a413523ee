package raft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otterlog/otter-raft/pkg/types"
)

// testLeader builds a leader at term 2 whose log already holds its
// no-op at (index 2, term 2) on top of a term-1 no-op.
func testLeader() (*Leader, PersistentState, []types.Entry) {
	entries := []types.Entry{
		types.NoOpEntry(1, 1),
		types.NoOpEntry(2, 2),
	}
	ld := &Leader{
		NextIndex:     map[types.NodeID]types.Index{"n1": 3, "n2": 3},
		MatchIndex:    map[types.NodeID]types.Index{"n1": 0, "n2": 0},
		LastLog:       entries[1],
		PendingWrites: map[types.Index]types.ClientID{},
		PendingReads:  map[uint64]*ReadBallot{},
	}
	return ld, PersistentState{CurrentTerm: 2, VotedFor: "n0"}, entries
}

func TestLeaderHeartbeat(t *testing.T) {
	cfg := testConfig("n0", "n1", "n2")
	ld, ps, entries := testLeader()
	env, _ := testEnv(t, cfg, entries...)

	tr, err := HandleEvent(ld, ps, env, Timeout{Kind: HeartbeatTimeout})
	require.NoError(t, err)

	bcasts := broadcastRPCs(tr.Actions)
	require.Len(t, bcasts, 1)
	ae := bcasts[0].RPC.(*AppendEntriesArgs)
	require.Empty(t, ae.Entries)
	require.Equal(t, types.Index(2), ae.PrevLogIndex)
	require.Equal(t, types.Term(2), ae.PrevLogTerm)
	require.Contains(t, timerResets(tr.Actions), HeartbeatTimeout)
}

func TestLeaderWritePipeline(t *testing.T) {
	cfg := testConfig("n0", "n1", "n2")
	ld, ps, entries := testLeader()
	env, store := testEnv(t, cfg, entries...)

	// Write: the entry is assigned the next index at the current term,
	// recorded as pending, appended and fanned out.
	tr, err := HandleEvent(ld, ps, env, ClientRequest{Client: "c0", Body: WriteRequest{Command: []byte(`cmd`)}})
	require.NoError(t, err)

	want := types.CommandEntry(3, 2, "c0", []byte(`cmd`))
	require.Equal(t, []types.Entry{want}, appendedEntries(tr.Actions))
	ld = tr.State.(*Leader)
	require.Equal(t, want, ld.LastLog)
	require.Equal(t, types.ClientID("c0"), ld.PendingWrites[3])

	ae := broadcastRPCs(tr.Actions)[0].RPC.(*AppendEntriesArgs)
	require.Equal(t, types.Index(2), ae.PrevLogIndex)
	require.Equal(t, types.Term(2), ae.PrevLogTerm)
	require.Equal(t, []types.Entry{want}, ae.Entries)

	// Nothing committed yet: no majority.
	require.Equal(t, types.Index(0), ld.Commit)
	require.Empty(t, clientResponses(tr.Actions))
	require.NoError(t, store.Append([]types.Entry{want}))

	// First success reply reaches majority: everything up to the write
	// commits and the client is acknowledged.
	tr, err = HandleEvent(ld, tr.Persistent, env, Message{From: "n1", RPC: &AppendEntriesReply{
		Term:       2,
		Success:    true,
		MatchIndex: 3,
	}})
	require.NoError(t, err)

	ld = tr.State.(*Leader)
	require.Equal(t, types.Index(3), ld.MatchIndex["n1"])
	require.Equal(t, types.Index(4), ld.NextIndex["n1"])
	require.Equal(t, types.Index(3), ld.Commit)

	resps := clientResponses(tr.Actions)
	require.Len(t, resps, 1)
	require.Equal(t, types.ClientID("c0"), resps[0].Client)
	require.Equal(t, WriteResponse{Index: 3}, resps[0].Response)
	require.Empty(t, ld.PendingWrites)
}

func TestLeaderNeverCommitsOlderTermByCount(t *testing.T) {
	cfg := testConfig("n0", "n1", "n2")
	entries := []types.Entry{
		types.CommandEntry(1, 1, "c0", []byte(`old`)),
	}
	env, _ := testEnv(t, cfg, entries...)

	// Leader of term 3 with no entry of its own term in the log yet:
	// entry 1 is on a majority, but it is from term 1.
	ld := &Leader{
		NextIndex:     map[types.NodeID]types.Index{"n1": 2, "n2": 2},
		MatchIndex:    map[types.NodeID]types.Index{"n1": 0, "n2": 0},
		LastLog:       entries[0],
		PendingWrites: map[types.Index]types.ClientID{},
		PendingReads:  map[uint64]*ReadBallot{},
	}
	ps := PersistentState{CurrentTerm: 3, VotedFor: "n0"}

	tr, err := HandleEvent(ld, ps, env, Message{From: "n1", RPC: &AppendEntriesReply{
		Term:       3,
		Success:    true,
		MatchIndex: 1,
	}})
	require.NoError(t, err)

	// A majority holds index 1, but log[1].term != currentTerm: the
	// commit index must not move.
	require.Equal(t, types.Index(0), tr.State.CommitIndex())
}

func TestLeaderFastBacktrackOnRejection(t *testing.T) {
	cfg := testConfig("n0", "n1", "n2")
	entries := []types.Entry{
		types.NoOpEntry(1, 1),
		types.CommandEntry(2, 1, "c0", []byte(`a`)),
		types.CommandEntry(3, 1, "c0", []byte(`b`)),
		types.NoOpEntry(4, 2),
	}
	env, _ := testEnv(t, cfg, entries...)

	ld := &Leader{
		NextIndex:     map[types.NodeID]types.Index{"n1": 5, "n2": 5},
		MatchIndex:    map[types.NodeID]types.Index{"n1": 0, "n2": 0},
		LastLog:       entries[3],
		PendingWrites: map[types.Index]types.ClientID{},
		PendingReads:  map[uint64]*ReadBallot{},
	}
	ps := PersistentState{CurrentTerm: 2, VotedFor: "n0"}

	// The follower's log ends at index 1: the rejection reports that,
	// and the retry resumes from index 2 in a single step.
	tr, err := HandleEvent(ld, ps, env, Message{From: "n1", RPC: &AppendEntriesReply{
		Term:       2,
		Success:    false,
		MatchIndex: 1,
	}})
	require.NoError(t, err)

	ld = tr.State.(*Leader)
	require.Equal(t, types.Index(2), ld.NextIndex["n1"])

	retries := sentTo(t, tr.Actions, "n1")
	require.Len(t, retries, 1)
	ae := retries[0].(*AppendEntriesArgs)
	require.Equal(t, types.Index(1), ae.PrevLogIndex)
	require.Equal(t, types.Term(1), ae.PrevLogTerm)
	require.Equal(t, entries[1:], ae.Entries)
}

func TestLeaderSingleDecrementWhenRejectionReportsNothingLower(t *testing.T) {
	cfg := testConfig("n0", "n1", "n2")
	entries := []types.Entry{
		types.NoOpEntry(1, 1),
		types.NoOpEntry(2, 2),
	}
	env, _ := testEnv(t, cfg, entries...)

	ld := &Leader{
		NextIndex:     map[types.NodeID]types.Index{"n1": 2, "n2": 3},
		MatchIndex:    map[types.NodeID]types.Index{"n1": 0, "n2": 0},
		LastLog:       entries[1],
		PendingWrites: map[types.Index]types.ClientID{},
		PendingReads:  map[uint64]*ReadBallot{},
	}
	ps := PersistentState{CurrentTerm: 2, VotedFor: "n0"}

	// The follower has a long divergent log: its reported last index
	// does not undercut nextIndex, so probe one entry back.
	tr, err := HandleEvent(ld, ps, env, Message{From: "n1", RPC: &AppendEntriesReply{
		Term:       2,
		Success:    false,
		MatchIndex: 7,
	}})
	require.NoError(t, err)
	require.Equal(t, types.Index(1), tr.State.(*Leader).NextIndex["n1"])
}

func TestLeaderLinearizableRead(t *testing.T) {
	cfg := testConfig("n0", "n1", "n2")
	ld, ps, entries := testLeader()
	env, _ := testEnv(t, cfg, entries...)
	env.Machine = staticSnapshot(`{"test":1}`)

	// The read opens a ballot under a fresh serial and rides a
	// heartbeat; no response yet.
	tr, err := HandleEvent(ld, ps, env, ClientRequest{Client: "c0", Body: ReadRequest{}})
	require.NoError(t, err)

	ld = tr.State.(*Leader)
	require.Equal(t, uint64(1), ld.ReadSerial)
	require.Contains(t, ld.PendingReads, uint64(1))
	require.Empty(t, clientResponses(tr.Actions))

	ae := broadcastRPCs(tr.Actions)[0].RPC.(*AppendEntriesArgs)
	require.Equal(t, uint64(1), ae.ReadSerial)
	require.Empty(t, ae.Entries)

	// One ack plus self is the quorum: the response carries the applied
	// snapshot and the ballot closes.
	tr, err = HandleEvent(ld, tr.Persistent, env, Message{From: "n2", RPC: &AppendEntriesReply{
		Term:       2,
		Success:    true,
		MatchIndex: 2,
		ReadSerial: 1,
	}})
	require.NoError(t, err)

	resps := clientResponses(tr.Actions)
	require.Len(t, resps, 1)
	require.Equal(t, ReadResponse{Snapshot: []byte(`{"test":1}`)}, resps[0].Response)
	require.Empty(t, tr.State.(*Leader).PendingReads)
}

func TestLeaderHeartbeatCarriesNewestPendingRead(t *testing.T) {
	cfg := testConfig("n0", "n1", "n2")
	ld, ps, entries := testLeader()
	ld.ReadSerial = 4
	ld.PendingReads[3] = &ReadBallot{Client: "c0", Acks: map[types.NodeID]struct{}{"n0": {}}}
	ld.PendingReads[4] = &ReadBallot{Client: "c1", Acks: map[types.NodeID]struct{}{"n0": {}}}
	env, _ := testEnv(t, cfg, entries...)

	tr, err := HandleEvent(ld, ps, env, Timeout{Kind: HeartbeatTimeout})
	require.NoError(t, err)

	ae := broadcastRPCs(tr.Actions)[0].RPC.(*AppendEntriesArgs)
	require.Equal(t, uint64(4), ae.ReadSerial)
}

func TestLeaderIgnoresStaleAppendReplies(t *testing.T) {
	cfg := testConfig("n0", "n1", "n2")
	ld, ps, entries := testLeader()
	env, _ := testEnv(t, cfg, entries...)

	tr, err := HandleEvent(ld, ps, env, Message{From: "n1", RPC: &AppendEntriesReply{
		Term:       1,
		Success:    true,
		MatchIndex: 2,
	}})
	require.NoError(t, err)
	require.Equal(t, types.Index(0), tr.State.(*Leader).MatchIndex["n1"])
}
