package raft

import "github.com/otterlog/otter-raft/pkg/types"

// RPC is the closed set of peer-to-peer messages. Every message carries
// the sender's term, which drives the universal step-down rule.
type RPC interface {
	rpcTerm() types.Term
}

// AppendEntriesArgs is sent by the leader to replicate log entries and
// as a heartbeat. ReadSerial, when non-zero, asks the follower to echo
// the serial back so the leader can confirm leadership for a pending
// linearizable read.
type AppendEntriesArgs struct {
	Term         types.Term    `json:"term"`
	LeaderID     types.NodeID  `json:"leader_id"`
	PrevLogIndex types.Index   `json:"prev_log_index"`
	PrevLogTerm  types.Term    `json:"prev_log_term"`
	Entries      []types.Entry `json:"entries,omitempty"`
	LeaderCommit types.Index   `json:"leader_commit"`
	ReadSerial   uint64        `json:"read_serial,omitempty"`
}

// AppendEntriesReply is the follower's response. On success MatchIndex
// is the index of the last entry known replicated; on rejection it is
// the follower's last log index, which lets the leader fast-backtrack.
type AppendEntriesReply struct {
	Term       types.Term  `json:"term"`
	Success    bool        `json:"success"`
	MatchIndex types.Index `json:"match_index"`
	ReadSerial uint64      `json:"read_serial,omitempty"`
}

// RequestVoteArgs is sent by candidates to gather votes.
type RequestVoteArgs struct {
	Term         types.Term   `json:"term"`
	CandidateID  types.NodeID `json:"candidate_id"`
	LastLogIndex types.Index  `json:"last_log_index"`
	LastLogTerm  types.Term   `json:"last_log_term"`
}

// RequestVoteReply is the voter's response.
type RequestVoteReply struct {
	Term        types.Term `json:"term"`
	VoteGranted bool       `json:"vote_granted"`
}

func (a *AppendEntriesArgs) rpcTerm() types.Term  { return a.Term }
func (a *AppendEntriesReply) rpcTerm() types.Term { return a.Term }
func (a *RequestVoteArgs) rpcTerm() types.Term    { return a.Term }
func (a *RequestVoteReply) rpcTerm() types.Term   { return a.Term }
