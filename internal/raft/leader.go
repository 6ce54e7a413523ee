package raft

import (
	"log/slog"

	"github.com/otterlog/otter-raft/internal/raftlog"
	"github.com/otterlog/otter-raft/pkg/types"
)

func (fr *frame) leaderHandle(ld *Leader, ev Event) (RoleState, error) {
	switch e := ev.(type) {
	case Timeout:
		if e.Kind == HeartbeatTimeout {
			fr.heartbeat(ld, fr.newestPendingRead(ld))
			fr.resetTimer(HeartbeatTimeout)
		}
		// The election timer is idle while leading.
		return ld, nil

	case Message:
		switch rpc := e.RPC.(type) {
		case *AppendEntriesReply:
			if err := fr.leaderAppendReply(ld, e.From, rpc); err != nil {
				return nil, err
			}
			return ld, nil
		case *RequestVoteArgs:
			// votedFor is self (or a granted rival that then lost); the
			// shared logic rejects same-term solicitations.
			if err := fr.handleRequestVote(e.From, rpc); err != nil {
				return nil, err
			}
			return ld, nil
		case *AppendEntriesArgs:
			// Same-term rival leader would violate election safety; a
			// stale one just gets the current term back.
			if rpc.Term == fr.ps.CurrentTerm {
				fr.logf(slog.LevelWarn, "append entries from rival leader in own term",
					"from", e.From, "term", rpc.Term)
			}
			fr.send(e.From, &AppendEntriesReply{Term: fr.ps.CurrentTerm, MatchIndex: ld.LastLog.Index})
			return ld, nil
		default:
			return ld, nil
		}

	case ClientRequest:
		switch body := e.Body.(type) {
		case WriteRequest:
			return ld, fr.leaderWrite(ld, e.Client, body.Command)
		case ReadRequest:
			return ld, fr.leaderRead(ld, e.Client)
		}
		return ld, nil
	}
	return ld, nil
}

// leaderWrite assigns the next index to the client command, records the
// pending acknowledgement, persists the entry and fans it out.
func (fr *frame) leaderWrite(ld *Leader, client types.ClientID, command []byte) error {
	prev := ld.LastLog
	entry := types.CommandEntry(prev.Index+1, fr.ps.CurrentTerm, client, command)

	ld.PendingWrites[entry.Index] = client
	ld.LastLog = entry
	fr.appendEntries(entry)

	fr.logf(slog.LevelDebug, "accepted client write", "client", client, "index", entry.Index)
	fr.broadcast(&AppendEntriesArgs{
		Term:         fr.ps.CurrentTerm,
		LeaderID:     fr.self(),
		PrevLogIndex: prev.Index,
		PrevLogTerm:  prev.Term,
		Entries:      []types.Entry{entry},
		LeaderCommit: ld.Commit,
	})

	// Single-node clusters reach majority on the local append alone.
	return fr.advanceCommit(ld)
}

// leaderRead opens a quorum ballot under a fresh serial and rides it on
// a heartbeat. The response is deferred until a majority acknowledges
// the serial, proving this node was still leader when the read began.
func (fr *frame) leaderRead(ld *Leader, client types.ClientID) error {
	ld.ReadSerial++
	serial := ld.ReadSerial
	ld.PendingReads[serial] = &ReadBallot{
		Client: client,
		Acks:   map[types.NodeID]struct{}{fr.self(): {}},
	}

	fr.logf(slog.LevelDebug, "accepted client read", "client", client, "serial", serial)
	fr.heartbeat(ld, serial)

	if len(ld.PendingReads[serial].Acks) >= fr.env.Config.Quorum() {
		return fr.serveRead(ld, serial)
	}
	return nil
}

// leaderAppendReply folds a follower's response into the replication
// bookkeeping: advance match/next on success, backtrack and retry on
// rejection, then try to move the commit index and settle read ballots.
func (fr *frame) leaderAppendReply(ld *Leader, from types.NodeID, reply *AppendEntriesReply) error {
	if reply.Term < fr.ps.CurrentTerm {
		return nil
	}
	if _, tracked := ld.NextIndex[from]; !tracked {
		return nil
	}

	if !reply.Success {
		// Fast backtrack: the rejection reports the follower's last log
		// index; jump straight past it when that undercuts nextIndex,
		// otherwise probe one entry back.
		next := ld.NextIndex[from]
		if reply.MatchIndex+1 < next {
			next = reply.MatchIndex + 1
		} else if next > 1 {
			next--
		}
		ld.NextIndex[from] = next
		fr.logf(slog.LevelDebug, "append rejected, backtracking", "peer", from, "next_index", next)
		return fr.retryAppend(ld, from)
	}

	if reply.MatchIndex > ld.MatchIndex[from] {
		ld.MatchIndex[from] = reply.MatchIndex
	}
	ld.NextIndex[from] = ld.MatchIndex[from] + 1

	if err := fr.advanceCommit(ld); err != nil {
		return err
	}

	if reply.ReadSerial != 0 {
		if ballot, ok := ld.PendingReads[reply.ReadSerial]; ok {
			ballot.Acks[from] = struct{}{}
			if len(ballot.Acks) >= fr.env.Config.Quorum() {
				return fr.serveRead(ld, reply.ReadSerial)
			}
		}
	}
	return nil
}

// retryAppend resends entries from the peer's nextIndex.
func (fr *frame) retryAppend(ld *Leader, peer types.NodeID) error {
	next := ld.NextIndex[peer]
	prevTerm, err := fr.leaderTermAt(ld, next-1)
	if err != nil {
		return err
	}

	var entries []types.Entry
	for i := next; i <= ld.LastLog.Index; i++ {
		e, err := fr.env.Log.Entry(i)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}

	fr.send(peer, &AppendEntriesArgs{
		Term:         fr.ps.CurrentTerm,
		LeaderID:     fr.self(),
		PrevLogIndex: next - 1,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: ld.Commit,
	})
	return nil
}

// advanceCommit finds the largest N past the commit index replicated on
// a majority with log[N].term == currentTerm. Entries from earlier
// terms commit only transitively under such an N, never on their own
// count. This is the safety restriction against resurrecting
// overwritten entries. Newly committed client writes are acknowledged.
func (fr *frame) advanceCommit(ld *Leader) error {
	quorum := fr.env.Config.Quorum()
	advanced := ld.Commit

	for n := ld.LastLog.Index; n > ld.Commit; n-- {
		count := 1 // self
		for _, m := range ld.MatchIndex {
			if m >= n {
				count++
			}
		}
		if count < quorum {
			continue
		}
		term, err := fr.leaderTermAt(ld, n)
		if err != nil {
			return err
		}
		if term != fr.ps.CurrentTerm {
			// Older-term entries never commit by their own majority.
			break
		}
		advanced = n
		break
	}
	if advanced == ld.Commit {
		return nil
	}

	prev := ld.Commit
	ld.Commit = advanced
	fr.logf(slog.LevelInfo, "commit index advanced", "from", prev, "to", advanced)

	for idx := prev + 1; idx <= advanced; idx++ {
		if client, ok := ld.PendingWrites[idx]; ok {
			fr.respond(client, WriteResponse{Index: idx})
			delete(ld.PendingWrites, idx)
		}
	}
	return nil
}

// serveRead answers a quorum-confirmed read with the applied state
// machine snapshot and closes the ballot.
func (fr *frame) serveRead(ld *Leader, serial uint64) error {
	ballot, ok := ld.PendingReads[serial]
	if !ok {
		return nil
	}
	snapshot, err := fr.env.Machine.Snapshot()
	if err != nil {
		return err
	}
	delete(ld.PendingReads, serial)
	fr.logf(slog.LevelDebug, "read confirmed by quorum", "serial", serial, "client", ballot.Client)
	fr.respond(ballot.Client, ReadResponse{Snapshot: snapshot})
	return nil
}

// heartbeat broadcasts an empty AppendEntries anchored at the log tail.
// A non-zero serial rides along so retried heartbeats can still gather
// quorum for a pending read.
func (fr *frame) heartbeat(ld *Leader, serial uint64) {
	fr.broadcast(&AppendEntriesArgs{
		Term:         fr.ps.CurrentTerm,
		LeaderID:     fr.self(),
		PrevLogIndex: ld.LastLog.Index,
		PrevLogTerm:  ld.LastLog.Term,
		LeaderCommit: ld.Commit,
		ReadSerial:   serial,
	})
}

// newestPendingRead returns the highest outstanding read serial, or 0.
func (fr *frame) newestPendingRead(ld *Leader) uint64 {
	var newest uint64
	for serial := range ld.PendingReads {
		if serial > newest {
			newest = serial
		}
	}
	return newest
}

// leaderTermAt resolves the term at an index, falling back to the
// leader's cached tail for entries whose append action was emitted in
// this very transition and has not reached the store yet. Such entries
// are always from the leader's own term.
func (fr *frame) leaderTermAt(ld *Leader, index types.Index) (types.Term, error) {
	t, ok, err := raftlog.TermAt(fr.env.Log, index)
	if err != nil {
		return 0, err
	}
	if ok {
		return t, nil
	}
	if index <= ld.LastLog.Index {
		return fr.ps.CurrentTerm, nil
	}
	return 0, raftlog.ErrNotFound
}
