package raft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otterlog/otter-raft/pkg/types"
)

func appendEvent(from types.NodeID, args *AppendEntriesArgs) Message {
	return Message{From: from, RPC: args}
}

func TestFollowerAcceptsAppendOnEmptyLog(t *testing.T) {
	cfg := testConfig("n1", "n0", "n2")
	env, _ := testEnv(t, cfg)
	ps := PersistentState{CurrentTerm: 1}
	entry := types.NoOpEntry(1, 1)

	tr, err := HandleEvent(NewFollower(), ps, env, appendEvent("n0", &AppendEntriesArgs{
		Term:     1,
		LeaderID: "n0",
		// Empty log boundary: prevLogIndex = 0, prevLogTerm = 0.
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		Entries:      []types.Entry{entry},
	}))
	require.NoError(t, err)

	f := tr.State.(*Follower)
	require.Equal(t, types.KnownLeader("n0"), f.Leader)
	require.Equal(t, []types.Entry{entry}, appendedEntries(tr.Actions))
	require.Contains(t, timerResets(tr.Actions), ElectionTimeout)

	replies := sentTo(t, tr.Actions, "n0")
	require.Len(t, replies, 1)
	reply := replies[0].(*AppendEntriesReply)
	require.True(t, reply.Success)
	require.Equal(t, types.Index(1), reply.MatchIndex)
}

func TestFollowerRejectsOnPrevLogMismatch(t *testing.T) {
	cfg := testConfig("n1", "n0", "n2")

	tests := []struct {
		name string
		args *AppendEntriesArgs
	}{
		{
			name: "no entry at prev index",
			args: &AppendEntriesArgs{Term: 2, LeaderID: "n0", PrevLogIndex: 5, PrevLogTerm: 2},
		},
		{
			name: "term differs at prev index",
			args: &AppendEntriesArgs{Term: 2, LeaderID: "n0", PrevLogIndex: 1, PrevLogTerm: 2},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, _ := testEnv(t, cfg, types.NoOpEntry(1, 1))
			tr, err := HandleEvent(NewFollower(), PersistentState{CurrentTerm: 2}, env, appendEvent("n0", tc.args))
			require.NoError(t, err)

			replies := sentTo(t, tr.Actions, "n0")
			require.Len(t, replies, 1)
			reply := replies[0].(*AppendEntriesReply)
			require.False(t, reply.Success)
			// The rejection reports our last index for fast backtrack.
			require.Equal(t, types.Index(1), reply.MatchIndex)
			require.Empty(t, appendedEntries(tr.Actions))
		})
	}
}

func TestFollowerTruncatesConflictingSuffix(t *testing.T) {
	cfg := testConfig("n1", "n0", "n2")
	env, _ := testEnv(t, cfg,
		types.NoOpEntry(1, 1),
		types.CommandEntry(2, 1, "c0", []byte(`a`)),
		types.CommandEntry(3, 1, "c0", []byte(`b`)),
	)

	incoming := []types.Entry{
		types.CommandEntry(2, 2, "c1", []byte(`c`)),
		types.CommandEntry(3, 2, "c1", []byte(`d`)),
	}
	tr, err := HandleEvent(NewFollower(), PersistentState{CurrentTerm: 2}, env, appendEvent("n0", &AppendEntriesArgs{
		Term:         2,
		LeaderID:     "n0",
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries:      incoming,
	}))
	require.NoError(t, err)

	// The overlapping append starts at the first conflicting index; the
	// driver truncates [2, ∞) before appending.
	require.Equal(t, incoming, appendedEntries(tr.Actions))

	replies := sentTo(t, tr.Actions, "n0")
	reply := replies[0].(*AppendEntriesReply)
	require.True(t, reply.Success)
	require.Equal(t, types.Index(3), reply.MatchIndex)
}

func TestFollowerAppendIsIdempotent(t *testing.T) {
	cfg := testConfig("n1", "n0", "n2")
	entry := types.CommandEntry(2, 1, "c0", []byte(`a`))
	args := &AppendEntriesArgs{
		Term:         1,
		LeaderID:     "n0",
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries:      []types.Entry{entry},
		LeaderCommit: 1,
	}

	// First delivery: entry 2 is missing and gets appended.
	env, store := testEnv(t, cfg, types.NoOpEntry(1, 1))
	ps := PersistentState{CurrentTerm: 1}
	tr, err := HandleEvent(NewFollower(), ps, env, appendEvent("n0", args))
	require.NoError(t, err)
	require.Equal(t, []types.Entry{entry}, appendedEntries(tr.Actions))
	require.NoError(t, store.Append([]types.Entry{entry}))
	first := tr.State.(*Follower)
	firstReply := sentTo(t, tr.Actions, "n0")[0].(*AppendEntriesReply)

	// Redelivery: same state, same response, nothing new appended.
	tr2, err := HandleEvent(tr.State, tr.Persistent, env, appendEvent("n0", args))
	require.NoError(t, err)
	require.Empty(t, appendedEntries(tr2.Actions))
	require.Equal(t, first, tr2.State.(*Follower))
	require.Equal(t, firstReply, sentTo(t, tr2.Actions, "n0")[0].(*AppendEntriesReply))
}

func TestFollowerCommitCatchUp(t *testing.T) {
	cfg := testConfig("n1", "n0", "n2")
	env, _ := testEnv(t, cfg,
		types.NoOpEntry(1, 1),
		types.CommandEntry(2, 1, "c0", []byte(`a`)),
	)

	// Heartbeat carrying a leader commit past our last entry: commit is
	// clamped to the index of the last entry covered by this append.
	tr, err := HandleEvent(NewFollower(), PersistentState{CurrentTerm: 1}, env, appendEvent("n0", &AppendEntriesArgs{
		Term:         1,
		LeaderID:     "n0",
		PrevLogIndex: 2,
		PrevLogTerm:  1,
		LeaderCommit: 9,
	}))
	require.NoError(t, err)
	require.Equal(t, types.Index(2), tr.State.CommitIndex())
}

func TestFollowerRedirectsClients(t *testing.T) {
	cfg := testConfig("n1", "n0", "n2")
	env, _ := testEnv(t, cfg)

	t.Run("known leader", func(t *testing.T) {
		f := &Follower{Leader: types.KnownLeader("n0")}
		tr, err := HandleEvent(f, PersistentState{CurrentTerm: 1}, env, ClientRequest{
			Client: "c0",
			Body:   WriteRequest{Command: []byte(`x`)},
		})
		require.NoError(t, err)

		resps := clientResponses(tr.Actions)
		require.Len(t, resps, 1)
		require.Equal(t, RedirectResponse{Leader: types.KnownLeader("n0")}, resps[0].Response)
	})

	t.Run("no leader yet", func(t *testing.T) {
		tr, err := HandleEvent(NewFollower(), PersistentState{}, env, ClientRequest{
			Client: "c0",
			Body:   WriteRequest{Command: []byte(`x`)},
		})
		require.NoError(t, err)

		resps := clientResponses(tr.Actions)
		require.Len(t, resps, 1)
		require.Equal(t, RedirectResponse{Leader: types.NoLeader()}, resps[0].Response)
	})
}
