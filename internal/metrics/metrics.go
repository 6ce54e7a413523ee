// Package metrics collects and exposes Prometheus metrics for a node.
//
// Gauges track the instantaneous protocol position (term, role, commit
// index, last applied); counters accumulate protocol traffic (elections
// started, votes granted, entries appended, client redirects, reads
// served); the apply histogram supports latency SLOs on the
// commit-to-apply path. Exposed via /metrics in Prometheus text format.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the node's Prometheus metrics.
type Collector struct {
	currentTerm prometheus.Gauge
	role        prometheus.Gauge
	commitIndex prometheus.Gauge
	lastApplied prometheus.Gauge

	electionsStarted prometheus.Counter
	votesGranted     prometheus.Counter
	entriesAppended  prometheus.Counter
	rpcSent          prometheus.Counter
	redirects        prometheus.Counter
	readsServed      prometheus.Counter
	writesCommitted  prometheus.Counter

	applyLatency prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		currentTerm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raft_current_term",
			Help: "Current Raft term of this node",
		}),
		role: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raft_role",
			Help: "Current role (0=follower, 1=candidate, 2=leader)",
		}),
		commitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raft_commit_index",
			Help: "Highest log index known committed",
		}),
		lastApplied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raft_last_applied",
			Help: "Highest log index applied to the state machine",
		}),
		electionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raft_elections_started_total",
			Help: "Total elections this node has started",
		}),
		votesGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raft_votes_granted_total",
			Help: "Total votes this node has granted",
		}),
		entriesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raft_log_entries_appended_total",
			Help: "Total entries appended to the local log",
		}),
		rpcSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raft_rpc_sent_total",
			Help: "Total RPCs sent to peers",
		}),
		redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raft_client_redirects_total",
			Help: "Total client requests answered with a redirect",
		}),
		readsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raft_reads_served_total",
			Help: "Total linearizable reads served after quorum confirmation",
		}),
		writesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raft_writes_committed_total",
			Help: "Total client writes acknowledged as committed",
		}),
		applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "raft_apply_latency_seconds",
			Help:    "Latency of applying a committed entry to the state machine",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.currentTerm, c.role, c.commitIndex, c.lastApplied,
		c.electionsStarted, c.votesGranted, c.entriesAppended,
		c.rpcSent, c.redirects, c.readsServed, c.writesCommitted,
		c.applyLatency,
	)
	return c
}

// SetPosition updates the gauges after an event is handled.
func (c *Collector) SetPosition(term uint64, role int, commit, applied uint64) {
	c.currentTerm.Set(float64(term))
	c.role.Set(float64(role))
	c.commitIndex.Set(float64(commit))
	c.lastApplied.Set(float64(applied))
}

func (c *Collector) RecordElection()               { c.electionsStarted.Inc() }
func (c *Collector) RecordVoteGranted()            { c.votesGranted.Inc() }
func (c *Collector) RecordAppended(n int)          { c.entriesAppended.Add(float64(n)) }
func (c *Collector) RecordRPCSent(n int)           { c.rpcSent.Add(float64(n)) }
func (c *Collector) RecordRedirect()               { c.redirects.Inc() }
func (c *Collector) RecordReadServed()             { c.readsServed.Inc() }
func (c *Collector) RecordWriteCommitted()         { c.writesCommitted.Inc() }
func (c *Collector) ObserveApply(seconds float64)  { c.applyLatency.Observe(seconds) }

// StartServer starts the Prometheus metrics HTTP server on port.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
