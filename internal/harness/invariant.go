// Package harness provides deterministic multi-node test scaffolding for
// pkg/raft, grounded on the teacher's pkg/testing (simulator.go,
// invariant_checker.go): a cluster driven by one shared ManualScheduler
// (each node still runs its own executor goroutines) plus an
// InvariantChecker that checks recorded committed entries for safety
// violations.
package harness

import (
	"fmt"
	"sync"

	"github.com/xlpha/xraft/pkg/raft"
)

// CommittedEntry is one entry a node has applied, recorded for
// cross-node comparison.
type CommittedEntry struct {
	NodeId  raft.NodeId
	Index   uint64
	Term    raft.Term
	Payload []byte
}

// Violation describes a detected safety-invariant breach.
type Violation struct {
	Kind    string
	Message string
}

// InvariantChecker accumulates committed entries from every node in a
// simulated cluster and checks them for raft's core safety properties:
// the same index is never committed with two different terms/payloads
// across nodes, and each node's own commit stream is monotonic and
// term-non-decreasing.
type InvariantChecker struct {
	mu         sync.Mutex
	byNode     map[raft.NodeId][]CommittedEntry
	violations []Violation
}

// NewInvariantChecker returns an empty checker.
func NewInvariantChecker() *InvariantChecker {
	return &InvariantChecker{byNode: make(map[raft.NodeId][]CommittedEntry)}
}

// RecordCommit records that node has committed entry (index, term,
// payload). Call this from the state machine's Apply, or after polling
// a node's Log.
func (ic *InvariantChecker) RecordCommit(node raft.NodeId, index uint64, term raft.Term, payload []byte) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.byNode[node] = append(ic.byNode[node], CommittedEntry{NodeId: node, Index: index, Term: term, Payload: payload})
}

// Check runs every safety check and returns whether all passed, along
// with the violations found.
func (ic *InvariantChecker) Check() (bool, []Violation) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	ic.violations = nil
	ic.checkLogMatching()
	ic.checkMonotonic()
	return len(ic.violations) == 0, ic.violations
}

func (ic *InvariantChecker) checkLogMatching() {
	byIndex := make(map[uint64]CommittedEntry)
	for node, entries := range ic.byNode {
		for _, e := range entries {
			ref, ok := byIndex[e.Index]
			if !ok {
				byIndex[e.Index] = e
				continue
			}
			if ref.Term != e.Term {
				ic.violations = append(ic.violations, Violation{
					Kind: "log_matching",
					Message: fmt.Sprintf("index %d: %s committed term %d, %s committed term %d",
						e.Index, ref.NodeId, ref.Term, node, e.Term),
				})
				continue
			}
			if string(ref.Payload) != string(e.Payload) {
				ic.violations = append(ic.violations, Violation{
					Kind: "log_matching",
					Message: fmt.Sprintf("index %d: payload mismatch between %s and %s",
						e.Index, ref.NodeId, node),
				})
			}
		}
	}
}

func (ic *InvariantChecker) checkMonotonic() {
	for node, entries := range ic.byNode {
		var lastIndex uint64
		var lastTerm raft.Term
		for i, e := range entries {
			if i > 0 && e.Index < lastIndex {
				ic.violations = append(ic.violations, Violation{
					Kind:    "non_monotonic_commit",
					Message: fmt.Sprintf("%s committed index %d after index %d", node, e.Index, lastIndex),
				})
			}
			if i > 0 && e.Index > lastIndex && e.Term < lastTerm {
				ic.violations = append(ic.violations, Violation{
					Kind:    "term_regression",
					Message: fmt.Sprintf("%s: term %d at index %d follows term %d at index %d", node, e.Term, e.Index, lastTerm, lastIndex),
				})
			}
			lastIndex, lastTerm = e.Index, e.Term
		}
	}
}

// Clear resets all recorded commits and violations.
func (ic *InvariantChecker) Clear() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.byNode = make(map[raft.NodeId][]CommittedEntry)
	ic.violations = nil
}
