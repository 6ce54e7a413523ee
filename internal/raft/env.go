package raft

import (
	"errors"
	"time"

	"github.com/otterlog/otter-raft/internal/raftlog"
	"github.com/otterlog/otter-raft/pkg/types"
)

var (
	ErrNoSelf        = errors.New("raft: config peers must include self")
	ErrNoPeers       = errors.New("raft: config has no peers")
	ErrTimeoutRange  = errors.New("raft: election timeout range is inverted")
	ErrHeartbeatRate = errors.New("raft: heartbeat interval must be below the minimum election timeout")
)

// Config is the static per-node configuration of the protocol core.
// Peers includes SelfID.
type Config struct {
	SelfID             types.NodeID
	Peers              []types.NodeID
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
}

// Validate checks the structural constraints the protocol relies on.
func (c Config) Validate() error {
	if len(c.Peers) == 0 {
		return ErrNoPeers
	}
	found := false
	for _, p := range c.Peers {
		if p == c.SelfID {
			found = true
			break
		}
	}
	if !found {
		return ErrNoSelf
	}
	if c.ElectionTimeoutMax < c.ElectionTimeoutMin {
		return ErrTimeoutRange
	}
	if c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return ErrHeartbeatRate
	}
	return nil
}

// Quorum is the majority size: ⌊N/2⌋+1 of the fixed peer set (2 of 3,
// 3 of 5).
func (c Config) Quorum() int {
	return len(c.Peers)/2 + 1
}

// Others returns every peer except self, in configuration order.
func (c Config) Others() []types.NodeID {
	out := make([]types.NodeID, 0, len(c.Peers)-1)
	for _, p := range c.Peers {
		if p != c.SelfID {
			out = append(out, p)
		}
	}
	return out
}

// Snapshotter exposes the applied state machine snapshot needed to
// answer linearizable reads. Implemented by the host RSM.
type Snapshotter interface {
	Snapshot() ([]byte, error)
}

// TransitionEnv carries the read-only context for a single HandleEvent
// call: static configuration plus snapshots of the log and state
// machine. The engine only reads through it, keeping the transition
// deterministic and side-effect free.
type TransitionEnv struct {
	Config  Config
	Log     raftlog.Reader
	Machine Snapshotter
}

// lastLog returns the (index, term) of the log tail, using the zero
// sentinels for an empty log.
func (env TransitionEnv) lastLog() (types.Index, types.Term, error) {
	last, ok, err := env.Log.LastEntry()
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, nil
	}
	return last.Index, last.Term, nil
}
