// Package metrics exposes Prometheus instrumentation for a running node,
// in place of the teacher's pkg/metrics counters (which were hand-rolled
// atomics); here they are real prometheus.Collectors registered against
// the default registry so /metrics can be scraped directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xlpha/xraft/pkg/raft"
)

// Recorder holds every metric a node reports.
type Recorder struct {
	term          prometheus.Gauge
	role          *prometheus.GaugeVec
	commitIndex   prometheus.Gauge
	appendSent    prometheus.Counter
	appendFailed  prometheus.Counter
	electionCount prometheus.Counter
	groupChanges  *prometheus.CounterVec
}

// NewRecorder registers this node's metrics under nodeId as a constant
// label, returning a Recorder ready for use.
func NewRecorder(nodeId raft.NodeId) *Recorder {
	labels := prometheus.Labels{"node_id": string(nodeId)}
	return &Recorder{
		term: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "xraft_current_term",
			Help:        "Current raft term observed by this node.",
			ConstLabels: labels,
		}),
		role: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "xraft_role",
			Help:        "1 for the role this node currently holds, 0 otherwise.",
			ConstLabels: labels,
		}, []string{"role"}),
		commitIndex: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "xraft_commit_index",
			Help:        "Highest log index known committed.",
			ConstLabels: labels,
		}),
		appendSent: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "xraft_append_entries_sent_total",
			Help:        "AppendEntries RPCs sent as leader.",
			ConstLabels: labels,
		}),
		appendFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "xraft_append_entries_failed_total",
			Help:        "AppendEntries RPCs that a peer rejected.",
			ConstLabels: labels,
		}),
		electionCount: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "xraft_elections_started_total",
			Help:        "Number of times this node became a candidate.",
			ConstLabels: labels,
		}),
		groupChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "xraft_group_config_changes_total",
			Help:        "Completed membership changes by kind and outcome.",
			ConstLabels: labels,
		}, []string{"kind", "outcome"}),
	}
}

// ObserveRole updates the term gauge and sets the one-hot role gauge.
func (r *Recorder) ObserveRole(snap raft.RoleSnapshot) {
	r.term.Set(float64(snap.Term))
	for _, tag := range []raft.RoleTag{raft.RoleFollower, raft.RoleCandidate, raft.RoleLeader} {
		v := 0.0
		if tag == snap.Tag {
			v = 1.0
		}
		r.role.WithLabelValues(tag.String()).Set(v)
	}
}

// ObserveCommitIndex records the latest known commit index.
func (r *Recorder) ObserveCommitIndex(index uint64) {
	r.commitIndex.Set(float64(index))
}

// RecordAppendSent increments the AppendEntries-sent counter.
func (r *Recorder) RecordAppendSent() {
	r.appendSent.Inc()
}

// RecordAppendFailed increments the AppendEntries-rejected counter.
func (r *Recorder) RecordAppendFailed() {
	r.appendFailed.Inc()
}

// RecordElectionStarted increments the elections-started counter.
func (r *Recorder) RecordElectionStarted() {
	r.electionCount.Inc()
}

// RecordGroupChange records a completed membership change outcome, e.g.
// kind="add_node" outcome="committed".
func (r *Recorder) RecordGroupChange(kind, outcome string) {
	r.groupChanges.WithLabelValues(kind, outcome).Inc()
}
