package raft

import "github.com/otterlog/otter-raft/pkg/types"

// Role names the three node states.
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "Follower"
	case RoleCandidate:
		return "Candidate"
	case RoleLeader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// PersistentState is the durable half of a node's state. It must be
// stably persisted before any action depending on it is externalized.
// The durable log itself lives behind the log-store capability.
type PersistentState struct {
	CurrentTerm types.Term   `json:"current_term"`
	VotedFor    types.NodeID `json:"voted_for,omitempty"` // empty = no vote this term
}

// RoleState is the closed variant over the three volatile role states.
// The total set of states is fixed, so event handling dispatches
// exhaustively on the concrete type.
type RoleState interface {
	Role() Role
	CommitIndex() types.Index
	LastApplied() types.Index

	// AdvanceApplied moves lastApplied forward (never backward). The
	// driver calls this as it feeds committed entries to the state
	// machine.
	AdvanceApplied(to types.Index)

	isRoleState()
}

// Follower is the passive state: respond to leaders and candidates.
type Follower struct {
	Leader  types.LeaderRef
	Commit  types.Index
	Applied types.Index
}

// Candidate is soliciting votes for CurrentTerm.
type Candidate struct {
	Votes   map[types.NodeID]struct{}
	Commit  types.Index
	Applied types.Index
}

// ReadBallot tracks quorum acknowledgements for one pending
// linearizable read.
type ReadBallot struct {
	Client types.ClientID
	Acks   map[types.NodeID]struct{}
}

// Leader is the active state: replicate entries, advance the commit
// index, answer clients.
type Leader struct {
	NextIndex  map[types.NodeID]types.Index
	MatchIndex map[types.NodeID]types.Index
	Commit     types.Index
	Applied    types.Index

	// LastLog caches the (index, term) of the log tail, including
	// entries appended by actions the driver has not executed yet.
	LastLog types.Entry

	// PendingWrites maps a log index to the client waiting for it to
	// commit. Purged on response.
	PendingWrites map[types.Index]types.ClientID

	// PendingReads maps a read serial to its quorum ballot. Purged on
	// response and wholesale on step-down.
	PendingReads map[uint64]*ReadBallot

	// ReadSerial is the last issued read serial, monotonic within this
	// leadership.
	ReadSerial uint64
}

// NewFollower returns the initial state of a freshly booted node.
func NewFollower() *Follower {
	return &Follower{Leader: types.NoLeader()}
}

func (f *Follower) Role() Role                { return RoleFollower }
func (f *Follower) CommitIndex() types.Index  { return f.Commit }
func (f *Follower) LastApplied() types.Index  { return f.Applied }
func (c *Candidate) Role() Role               { return RoleCandidate }
func (c *Candidate) CommitIndex() types.Index { return c.Commit }
func (c *Candidate) LastApplied() types.Index { return c.Applied }
func (l *Leader) Role() Role                  { return RoleLeader }
func (l *Leader) CommitIndex() types.Index    { return l.Commit }
func (l *Leader) LastApplied() types.Index    { return l.Applied }

func (f *Follower) AdvanceApplied(to types.Index) {
	if to > f.Applied {
		f.Applied = to
	}
}

func (c *Candidate) AdvanceApplied(to types.Index) {
	if to > c.Applied {
		c.Applied = to
	}
}

func (l *Leader) AdvanceApplied(to types.Index) {
	if to > l.Applied {
		l.Applied = to
	}
}

func (f *Follower) isRoleState()  {}
func (c *Candidate) isRoleState() {}
func (l *Leader) isRoleState()    {}
