package raft

import (
	"log/slog"

	"github.com/otterlog/otter-raft/pkg/types"
)

// Action is the output alphabet of the transition engine. The driver
// executes actions strictly in the order they were emitted; in
// particular AppendLogEntries precedes any send that depends on it.
type Action interface {
	isAction()
}

// SendRPC sends one RPC to one peer.
type SendRPC struct {
	To  types.NodeID
	RPC RPC
}

// BroadcastRPC sends the same RPC to a set of peers.
type BroadcastRPC struct {
	To  []types.NodeID
	RPC RPC
}

// RespondToClient delivers a response to a waiting client.
type RespondToClient struct {
	Client   types.ClientID
	Response ClientResponse
}

// ResetTimer restarts the named timer. For the election timer the
// driver samples a fresh random duration from the configured range.
type ResetTimer struct {
	Kind TimeoutKind
}

// AppendLogEntries appends entries to the durable log. When the first
// entry's index is not past the current tail the driver truncates the
// conflicting suffix first (the Log Matching recovery step).
type AppendLogEntries struct {
	Entries []types.Entry
}

func (SendRPC) isAction()          {}
func (BroadcastRPC) isAction()     {}
func (RespondToClient) isAction()  {}
func (ResetTimer) isAction()       {}
func (AppendLogEntries) isAction() {}

// LogMsg is a structured log record produced by a transition. The
// driver forwards these to its slog logger; the engine itself never
// touches a logger so it stays deterministic.
type LogMsg struct {
	Level slog.Level
	Msg   string
	Args  []any
}
