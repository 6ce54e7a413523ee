// Package node is the driver around the pure protocol core: it owns one
// engine instance, feeds it events one at a time, persists state,
// executes the returned actions and runs the commit-and-apply pipeline.
//
// All protocol decisions live in internal/raft; everything here is
// plumbing (timers, channels, capability calls), so the concurrency
// model stays single-threaded at the granularity of one event per node.
package node

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/otterlog/otter-raft/internal/metrics"
	"github.com/otterlog/otter-raft/internal/raft"
	"github.com/otterlog/otter-raft/internal/raftlog"
	"github.com/otterlog/otter-raft/internal/rsm"
	"github.com/otterlog/otter-raft/internal/transport"
	"github.com/otterlog/otter-raft/pkg/types"
)

var (
	// ErrStopped is returned when the node is shut down.
	ErrStopped = errors.New("node: stopped")

	// ErrNoReply is returned by DeliverRPC when the event produced no
	// reply addressed to the sender (responses are one-way).
	ErrNoReply = errors.New("node: rpc produced no reply")
)

// StateStore persists (currentTerm, votedFor). Save must be durable
// before it returns; the driver calls it before externalizing any
// action that depends on the saved values.
type StateStore interface {
	Load() (raft.PersistentState, error)
	Save(raft.PersistentState) error
}

// MemoryStateStore is a volatile StateStore for tests and demos.
type MemoryStateStore struct {
	mu sync.Mutex
	ps raft.PersistentState
}

func (m *MemoryStateStore) Load() (raft.PersistentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ps, nil
}

func (m *MemoryStateStore) Save(ps raft.PersistentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ps = ps
	return nil
}

// Options configures a Node. Config, Store, Machine, Transport and
// States are required; Logger and Metrics are optional.
type Options struct {
	Config    raft.Config
	Store     raftlog.Store
	Machine   rsm.Machine
	Transport transport.Transport
	States    StateStore
	Logger    *slog.Logger
	Metrics   *metrics.Collector
}

// envelope wraps an event with its delivery bookkeeping.
type envelope struct {
	ev      raft.Event
	from    types.NodeID  // sender, for routing the synchronous reply
	replyTo chan raft.RPC // non-nil for inbound peer RPCs
	done    chan struct{} // closed once the event is fully handled
	probe   chan Status   // status probes bypass the engine
}

// Node drives one Raft participant.
type Node struct {
	cfg       raft.Config
	store     raftlog.Store
	machine   rsm.Machine
	transport transport.Transport
	states    StateStore
	logger    *slog.Logger
	metrics   *metrics.Collector

	st raft.RoleState
	ps raft.PersistentState

	events chan envelope
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	electionTimer  *time.Timer
	heartbeatTimer *time.Timer

	pmu     sync.Mutex
	pending map[types.ClientID]chan raft.ClientResponse
}

// New creates a stopped Node. Call Start to begin participating.
func New(opts Options) (*Node, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	ps, err := opts.States.Load()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		cfg:       opts.Config,
		store:     opts.Store,
		machine:   opts.Machine,
		transport: opts.Transport,
		states:    opts.States,
		logger:    logger.With("component", "raft", "id", opts.Config.SelfID),
		metrics:   opts.Metrics,
		st:        raft.NewFollower(),
		ps:        ps,
		events:    make(chan envelope, 256),
		stopCh:    make(chan struct{}),
		pending:   make(map[types.ClientID]chan raft.ClientResponse),
	}
	return n, nil
}

// Start arms the election timer and launches the event loop.
func (n *Node) Start() {
	n.electionTimer = time.NewTimer(n.randomElectionTimeout())
	n.heartbeatTimer = time.NewTimer(n.cfg.HeartbeatInterval)
	if !n.heartbeatTimer.Stop() {
		<-n.heartbeatTimer.C
	}
	n.wg.Add(1)
	go n.run()
}

// Stop shuts the node down and waits for the event loop to exit.
func (n *Node) Stop() {
	n.once.Do(func() {
		close(n.stopCh)
	})
	n.wg.Wait()
}

func (n *Node) run() {
	defer n.wg.Done()
	defer n.electionTimer.Stop()
	defer n.heartbeatTimer.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-n.electionTimer.C:
			n.handle(envelope{ev: raft.Timeout{Kind: raft.ElectionTimeout}})
		case <-n.heartbeatTimer.C:
			n.handle(envelope{ev: raft.Timeout{Kind: raft.HeartbeatTimeout}})
		case env := <-n.events:
			n.handle(env)
		}
	}
}

// handle runs one event through the engine and executes the results.
func (n *Node) handle(env envelope) {
	if env.done != nil {
		defer close(env.done)
	}
	if env.probe != nil {
		env.probe <- n.status()
		return
	}

	if t, ok := env.ev.(raft.Timeout); ok && t.Kind == raft.ElectionTimeout &&
		n.st.Role() != raft.RoleLeader && n.metrics != nil {
		n.metrics.RecordElection()
	}

	tr, err := raft.HandleEvent(n.st, n.ps, n.transitionEnv(), env.ev)
	if err != nil {
		// Capability failure: fatal to this event only.
		n.logger.Error("event handling failed", "error", err)
		n.recoverTimer(env.ev)
		return
	}

	// Persist before any externally visible effect.
	if tr.Persistent != n.ps {
		if err := n.states.Save(tr.Persistent); err != nil {
			n.logger.Error("persisting state failed, discarding transition", "error", err)
			n.recoverTimer(env.ev)
			return
		}
	}
	n.ps = tr.Persistent
	n.st = tr.State

	for _, msg := range tr.Logs {
		n.logger.Log(context.Background(), msg.Level, msg.Msg, msg.Args...)
	}

	replied := false
	for _, act := range tr.Actions {
		if !n.execute(act, env, &replied) {
			break
		}
	}

	n.applyCommitted()

	if n.metrics != nil {
		n.metrics.SetPosition(uint64(n.ps.CurrentTerm), int(n.st.Role()),
			uint64(n.st.CommitIndex()), uint64(n.st.LastApplied()))
	}
}

// execute performs one action. Returns false when a log write failed
// and the remaining actions must not be externalized.
func (n *Node) execute(act raft.Action, env envelope, replied *bool) bool {
	switch a := act.(type) {
	case raft.AppendLogEntries:
		if len(a.Entries) == 0 {
			return true
		}
		first := a.Entries[0].Index
		last, ok, err := n.store.LastEntry()
		if err == nil && ok && first <= last.Index {
			err = n.store.DeleteFrom(first)
		}
		if err == nil {
			err = n.store.Append(a.Entries)
		}
		if err != nil {
			n.logger.Error("log write failed, aborting remaining actions", "error", err)
			return false
		}
		if n.metrics != nil {
			n.metrics.RecordAppended(len(a.Entries))
		}

	case raft.SendRPC:
		n.dispatch(a.To, a.RPC, env, replied)

	case raft.BroadcastRPC:
		for _, to := range a.To {
			n.dispatch(to, a.RPC, env, replied)
		}

	case raft.RespondToClient:
		n.respond(a.Client, a.Response)

	case raft.ResetTimer:
		switch a.Kind {
		case raft.ElectionTimeout:
			resetTimer(n.electionTimer, n.randomElectionTimeout())
		case raft.HeartbeatTimeout:
			resetTimer(n.heartbeatTimer, n.cfg.HeartbeatInterval)
		}
	}
	return true
}

// dispatch routes one outgoing RPC: back through the inbound reply
// channel when it answers the RPC being handled, otherwise out through
// the transport with the peer's response re-entering as an event.
func (n *Node) dispatch(to types.NodeID, rpc raft.RPC, env envelope, replied *bool) {
	if n.metrics != nil {
		if r, ok := rpc.(*raft.RequestVoteReply); ok && r.VoteGranted {
			n.metrics.RecordVoteGranted()
		}
	}
	if env.replyTo != nil && !*replied && to == env.from {
		env.replyTo <- rpc
		*replied = true
		return
	}
	if n.metrics != nil {
		n.metrics.RecordRPCSent(1)
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*n.cfg.HeartbeatInterval)
		defer cancel()
		reply, err := n.transport.Send(ctx, to, rpc)
		if err != nil {
			n.logger.Debug("rpc send failed", "to", to, "error", err)
			return
		}
		n.enqueue(envelope{ev: raft.Message{From: to, RPC: reply}})
	}()
}

func (n *Node) enqueue(env envelope) bool {
	select {
	case n.events <- env:
		return true
	case <-n.stopCh:
		return false
	}
}

// applyCommitted feeds committed entries to the state machine in order.
// No-value entries only advance lastApplied. An apply error halts
// application; being deterministic it will recur on replay, so it is
// surfaced loudly rather than skipped.
func (n *Node) applyCommitted() {
	for n.st.CommitIndex() > n.st.LastApplied() {
		idx := n.st.LastApplied() + 1
		e, err := n.store.Entry(idx)
		if err != nil {
			n.logger.Error("reading committed entry failed", "index", idx, "error", err)
			return
		}
		if !e.IsNoOp() {
			start := time.Now()
			if err := n.machine.Apply(context.Background(), e.Command); err != nil {
				n.logger.Error("state machine apply failed, halting application",
					"index", idx, "error", err)
				return
			}
			if n.metrics != nil {
				n.metrics.ObserveApply(time.Since(start).Seconds())
			}
		}
		n.st.AdvanceApplied(idx)
	}
}

func (n *Node) respond(client types.ClientID, resp raft.ClientResponse) {
	n.pmu.Lock()
	ch, ok := n.pending[client]
	if ok {
		delete(n.pending, client)
	}
	n.pmu.Unlock()
	if ok {
		ch <- resp
	}
	if n.metrics == nil {
		return
	}
	switch resp.(type) {
	case raft.ReadResponse:
		n.metrics.RecordReadServed()
	case raft.WriteResponse:
		n.metrics.RecordWriteCommitted()
	case raft.RedirectResponse:
		n.metrics.RecordRedirect()
	}
}

// recoverTimer rearms the timer behind a discarded timeout event so a
// transient capability failure cannot leave the node without a timer.
func (n *Node) recoverTimer(ev raft.Event) {
	t, ok := ev.(raft.Timeout)
	if !ok {
		return
	}
	switch t.Kind {
	case raft.ElectionTimeout:
		resetTimer(n.electionTimer, n.randomElectionTimeout())
	case raft.HeartbeatTimeout:
		resetTimer(n.heartbeatTimer, n.cfg.HeartbeatInterval)
	}
}

func (n *Node) status() Status {
	st := Status{
		ID:          n.cfg.SelfID,
		Term:        n.ps.CurrentTerm,
		Role:        n.st.Role(),
		Leader:      types.NoLeader(),
		CommitIndex: n.st.CommitIndex(),
		LastApplied: n.st.LastApplied(),
	}
	switch s := n.st.(type) {
	case *raft.Follower:
		st.Leader = s.Leader
	case *raft.Leader:
		st.Leader = types.KnownLeader(n.cfg.SelfID)
	}
	return st
}

func (n *Node) transitionEnv() raft.TransitionEnv {
	return raft.TransitionEnv{Config: n.cfg, Log: n.store, Machine: n.machine}
}

func (n *Node) randomElectionTimeout() time.Duration {
	spread := n.cfg.ElectionTimeoutMax - n.cfg.ElectionTimeoutMin
	if spread <= 0 {
		return n.cfg.ElectionTimeoutMin
	}
	return n.cfg.ElectionTimeoutMin + time.Duration(rand.Int63n(int64(spread)+1))
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
