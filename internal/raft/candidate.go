package raft

import (
	"log/slog"

	"github.com/otterlog/otter-raft/pkg/types"
)

func (fr *frame) candidateHandle(c *Candidate, ev Event) (RoleState, error) {
	switch e := ev.(type) {
	case Timeout:
		if e.Kind == ElectionTimeout {
			// Split vote or unreachable quorum: retry at a higher term.
			return fr.startElection(c.Commit, c.Applied)
		}
		return c, nil

	case Message:
		switch rpc := e.RPC.(type) {
		case *RequestVoteReply:
			return fr.candidateVoteReply(c, e.From, rpc)
		case *AppendEntriesArgs:
			if rpc.Term >= fr.ps.CurrentTerm {
				// A leader established itself for this term. Step down
				// and handle the append as a follower.
				fr.logf(slog.LevelInfo, "leader established, abandoning candidacy",
					"leader", rpc.LeaderID, "term", rpc.Term)
				f := &Follower{Leader: types.NoLeader(), Commit: c.Commit, Applied: c.Applied}
				return fr.followerHandle(f, ev)
			}
			lastIdx, _, err := fr.env.lastLog()
			if err != nil {
				return nil, err
			}
			fr.send(e.From, &AppendEntriesReply{Term: fr.ps.CurrentTerm, MatchIndex: lastIdx})
			return c, nil
		case *RequestVoteArgs:
			// votedFor is self for this term, so the shared logic
			// withholds the vote from rival candidates.
			if err := fr.handleRequestVote(e.From, rpc); err != nil {
				return nil, err
			}
			return c, nil
		default:
			return c, nil
		}

	case ClientRequest:
		// An election is in flight; there is no leader to name.
		fr.respond(e.Client, RedirectResponse{Leader: types.NoLeader()})
		return c, nil
	}
	return c, nil
}

func (fr *frame) candidateVoteReply(c *Candidate, from types.NodeID, reply *RequestVoteReply) (RoleState, error) {
	if !reply.VoteGranted || reply.Term != fr.ps.CurrentTerm {
		fr.logf(slog.LevelDebug, "discarding vote reply",
			"from", from, "granted", reply.VoteGranted, "term", reply.Term)
		return c, nil
	}
	c.Votes[from] = struct{}{}
	fr.logf(slog.LevelDebug, "vote received", "from", from, "votes", len(c.Votes))
	if len(c.Votes) >= fr.env.Config.Quorum() {
		return fr.becomeLeader(c)
	}
	return c, nil
}

// becomeLeader initializes leader bookkeeping, appends the no-value
// entry that anchors this term (committing it also commits every prior
// entry under the current-term rule), and announces leadership with an
// AppendEntries carrying that entry.
func (fr *frame) becomeLeader(c *Candidate) (RoleState, error) {
	lastIdx, lastTerm, err := fr.env.lastLog()
	if err != nil {
		return nil, err
	}

	ld := &Leader{
		NextIndex:     make(map[types.NodeID]types.Index, len(fr.env.Config.Peers)),
		MatchIndex:    make(map[types.NodeID]types.Index, len(fr.env.Config.Peers)),
		Commit:        c.Commit,
		Applied:       c.Applied,
		PendingWrites: make(map[types.Index]types.ClientID),
		PendingReads:  make(map[uint64]*ReadBallot),
	}
	for _, p := range fr.env.Config.Others() {
		ld.NextIndex[p] = lastIdx + 1
		ld.MatchIndex[p] = 0
	}

	noop := types.NoOpEntry(lastIdx+1, fr.ps.CurrentTerm)
	ld.LastLog = noop
	fr.appendEntries(noop)

	fr.logf(slog.LevelInfo, "elected leader", "term", fr.ps.CurrentTerm, "last_log_index", noop.Index)
	fr.broadcast(&AppendEntriesArgs{
		Term:         fr.ps.CurrentTerm,
		LeaderID:     fr.self(),
		PrevLogIndex: lastIdx,
		PrevLogTerm:  lastTerm,
		Entries:      []types.Entry{noop},
		LeaderCommit: ld.Commit,
	})
	fr.resetTimer(HeartbeatTimeout)

	// A single-node cluster has its quorum in itself and commits the
	// no-op immediately.
	if err := fr.advanceCommit(ld); err != nil {
		return nil, err
	}
	return ld, nil
}
