// Package raft implements the pure core of the Raft consensus
// algorithm as an event-driven transition function.
//
// The engine accepts one event at a time (a timer expiry, a peer RPC,
// or a client request) and returns the next role state, the updated
// persistent state, the actions the driver must execute, and a stream
// of structured log messages. It performs no I/O itself: log reads are
// injected through TransitionEnv and log writes, sends, client replies
// and timer resets are emitted as actions.
package raft

import (
	"log/slog"

	"github.com/otterlog/otter-raft/pkg/types"
)

// Transition is the result of handling one event.
type Transition struct {
	State      RoleState
	Persistent PersistentState
	Actions    []Action
	Logs       []LogMsg
}

// HandleEvent is the transition function. It dispatches on the concrete
// role state and the event kind, applying the universal term rule to
// every RPC first: a message from a higher term advances currentTerm,
// clears votedFor and demotes the node to Follower before role-specific
// handling, even when the message is otherwise rejected.
//
// The returned error reports a log-store or state-machine capability
// failure; it is fatal to this event only and leaves no actions to
// execute.
func HandleEvent(st RoleState, ps PersistentState, env TransitionEnv, ev Event) (Transition, error) {
	fr := &frame{env: env, ps: ps}

	if msg, ok := ev.(Message); ok {
		if t := msg.RPC.rpcTerm(); t > fr.ps.CurrentTerm {
			fr.logf(slog.LevelInfo, "observed higher term, stepping down",
				"term", t, "previous_term", fr.ps.CurrentTerm, "from", msg.From)
			fr.ps.CurrentTerm = t
			fr.ps.VotedFor = ""
			if st.Role() != RoleFollower {
				// A demoted leader has an idle election timer; rearm it
				// so this node can stand again if the new term stalls.
				fr.resetTimer(ElectionTimeout)
			}
			st = &Follower{
				Leader:  types.NoLeader(),
				Commit:  st.CommitIndex(),
				Applied: st.LastApplied(),
			}
		}
	}

	var (
		next RoleState
		err  error
	)
	switch s := st.(type) {
	case *Follower:
		next, err = fr.followerHandle(s, ev)
	case *Candidate:
		next, err = fr.candidateHandle(s, ev)
	case *Leader:
		next, err = fr.leaderHandle(s, ev)
	}
	if err != nil {
		return Transition{}, err
	}
	return Transition{State: next, Persistent: fr.ps, Actions: fr.acts, Logs: fr.logs}, nil
}

// frame accumulates the outputs of a single transition.
type frame struct {
	env  TransitionEnv
	ps   PersistentState
	acts []Action
	logs []LogMsg
}

func (fr *frame) self() types.NodeID { return fr.env.Config.SelfID }

func (fr *frame) send(to types.NodeID, rpc RPC) {
	fr.acts = append(fr.acts, SendRPC{To: to, RPC: rpc})
}

func (fr *frame) broadcast(rpc RPC) {
	others := fr.env.Config.Others()
	if len(others) == 0 {
		return
	}
	fr.acts = append(fr.acts, BroadcastRPC{To: others, RPC: rpc})
}

func (fr *frame) respond(client types.ClientID, resp ClientResponse) {
	fr.acts = append(fr.acts, RespondToClient{Client: client, Response: resp})
}

func (fr *frame) resetTimer(kind TimeoutKind) {
	fr.acts = append(fr.acts, ResetTimer{Kind: kind})
}

func (fr *frame) appendEntries(entries ...types.Entry) {
	fr.acts = append(fr.acts, AppendLogEntries{Entries: entries})
}

func (fr *frame) logf(level slog.Level, msg string, args ...any) {
	fr.logs = append(fr.logs, LogMsg{Level: level, Msg: msg, Args: args})
}

// startElection runs the Follower/Candidate election-timeout step:
// advance the term, vote for self, solicit votes, rearm the election
// timer. A single-node cluster wins immediately.
func (fr *frame) startElection(commit, applied types.Index) (RoleState, error) {
	fr.ps.CurrentTerm++
	fr.ps.VotedFor = fr.self()

	cand := &Candidate{
		Votes:   map[types.NodeID]struct{}{fr.self(): {}},
		Commit:  commit,
		Applied: applied,
	}

	lastIdx, lastTerm, err := fr.env.lastLog()
	if err != nil {
		return nil, err
	}

	fr.logf(slog.LevelInfo, "starting election", "term", fr.ps.CurrentTerm, "last_log_index", lastIdx)
	fr.broadcast(&RequestVoteArgs{
		Term:         fr.ps.CurrentTerm,
		CandidateID:  fr.self(),
		LastLogIndex: lastIdx,
		LastLogTerm:  lastTerm,
	})
	fr.resetTimer(ElectionTimeout)

	if len(cand.Votes) >= fr.env.Config.Quorum() {
		return fr.becomeLeader(cand)
	}
	return cand, nil
}

// handleRequestVote implements the voter side of elections, shared by
// all roles. Rejections carry the current term; grants persist votedFor
// and rearm the election timer.
func (fr *frame) handleRequestVote(from types.NodeID, args *RequestVoteArgs) error {
	reply := &RequestVoteReply{Term: fr.ps.CurrentTerm}
	if args.Term < fr.ps.CurrentTerm {
		fr.logf(slog.LevelDebug, "rejecting stale vote request",
			"candidate", args.CandidateID, "term", args.Term, "current_term", fr.ps.CurrentTerm)
		fr.send(from, reply)
		return nil
	}

	lastIdx, lastTerm, err := fr.env.lastLog()
	if err != nil {
		return err
	}

	canVote := fr.ps.VotedFor == "" || fr.ps.VotedFor == args.CandidateID
	upToDate := args.LastLogTerm > lastTerm ||
		(args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIdx)

	if canVote && upToDate {
		fr.ps.VotedFor = args.CandidateID
		reply.VoteGranted = true
		fr.resetTimer(ElectionTimeout)
		fr.logf(slog.LevelInfo, "vote granted", "candidate", args.CandidateID, "term", args.Term)
	} else {
		fr.logf(slog.LevelDebug, "vote withheld",
			"candidate", args.CandidateID, "voted_for", fr.ps.VotedFor, "up_to_date", upToDate)
	}
	fr.send(from, reply)
	return nil
}
