package raft

import (
	"errors"
	"log/slog"

	"github.com/otterlog/otter-raft/internal/raftlog"
	"github.com/otterlog/otter-raft/pkg/types"
)

func (fr *frame) followerHandle(f *Follower, ev Event) (RoleState, error) {
	switch e := ev.(type) {
	case Timeout:
		if e.Kind == ElectionTimeout {
			return fr.startElection(f.Commit, f.Applied)
		}
		// A follower has no heartbeat duty.
		return f, nil

	case Message:
		switch rpc := e.RPC.(type) {
		case *RequestVoteArgs:
			if err := fr.handleRequestVote(e.From, rpc); err != nil {
				return nil, err
			}
			return f, nil
		case *AppendEntriesArgs:
			if err := fr.followerAppendEntries(f, e.From, rpc); err != nil {
				return nil, err
			}
			return f, nil
		default:
			// Vote and append responses can only be addressed to a past
			// candidacy or leadership of this node. Term filtering makes
			// them inert here.
			fr.logf(slog.LevelDebug, "ignoring stale response", "from", e.From)
			return f, nil
		}

	case ClientRequest:
		fr.respond(e.Client, RedirectResponse{Leader: f.Leader})
		return f, nil
	}
	return f, nil
}

// followerAppendEntries is the AppendEntries receiver: consistency
// check against (prevLogIndex, prevLogTerm), conflict truncation,
// idempotent append, commit-index catch-up, and the read-serial echo.
func (fr *frame) followerAppendEntries(f *Follower, from types.NodeID, args *AppendEntriesArgs) error {
	lastIdx, _, err := fr.env.lastLog()
	if err != nil {
		return err
	}
	reply := &AppendEntriesReply{Term: fr.ps.CurrentTerm, ReadSerial: args.ReadSerial}

	if args.Term < fr.ps.CurrentTerm {
		reply.MatchIndex = lastIdx
		fr.logf(slog.LevelDebug, "rejecting append from stale leader",
			"leader", args.LeaderID, "term", args.Term, "current_term", fr.ps.CurrentTerm)
		fr.send(from, reply)
		return nil
	}

	// The sender is the authoritative leader for the current term.
	f.Leader = types.KnownLeader(args.LeaderID)
	fr.resetTimer(ElectionTimeout)

	prevTerm, ok, err := raftlog.TermAt(fr.env.Log, args.PrevLogIndex)
	if err != nil {
		return err
	}
	if !ok || prevTerm != args.PrevLogTerm {
		// The reply reports our last index so the leader can backtrack
		// in one step instead of probing entry by entry.
		reply.MatchIndex = lastIdx
		fr.logf(slog.LevelDebug, "log mismatch at prev index",
			"prev_log_index", args.PrevLogIndex, "prev_log_term", args.PrevLogTerm,
			"last_log_index", lastIdx)
		fr.send(from, reply)
		return nil
	}

	if err := fr.reconcileEntries(args.Entries); err != nil {
		return err
	}

	// Clamp to the last entry covered by this append; a redelivered old
	// message must never move the commit index backwards.
	lastNew := args.PrevLogIndex + types.Index(len(args.Entries))
	if c := min(args.LeaderCommit, lastNew); c > f.Commit {
		f.Commit = c
	}

	reply.Success = true
	reply.MatchIndex = lastNew
	fr.send(from, reply)
	return nil
}

// reconcileEntries finds the first incoming entry that is missing or
// conflicts by term and emits a single append for the remainder.
// Entries already present with matching terms are skipped, which makes
// redelivered AppendEntries idempotent; a term conflict implies
// truncation of the existing suffix, performed by the driver as part of
// the overlapping append.
func (fr *frame) reconcileEntries(entries []types.Entry) error {
	for i, e := range entries {
		existing, err := fr.env.Log.Entry(e.Index)
		if errors.Is(err, raftlog.ErrNotFound) {
			fr.appendEntries(entries[i:]...)
			return nil
		}
		if err != nil {
			return err
		}
		if existing.Term != e.Term {
			fr.logf(slog.LevelInfo, "truncating conflicting log suffix",
				"index", e.Index, "existing_term", existing.Term, "incoming_term", e.Term)
			fr.appendEntries(entries[i:]...)
			return nil
		}
	}
	return nil
}
