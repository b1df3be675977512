package raft

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// callSync runs fn on exec and returns its result, blocking the calling
// goroutine (never the executor's own goroutine) until it completes. It
// works identically against chanExecutor and DirectExecutor.
func callSync[T any](exec Executor, fn func() T) T {
	resultCh := make(chan T, 1)
	exec.Submit(func() {
		resultCh <- fn()
	})
	return <-resultCh
}

// Start is idempotent: loads (term, votedFor), enters Follower, arms the
// election timer, and begins consuming Log events. A second call is a
// no-op.
func (n *NodeImpl) Start() error {
	first := false
	err := n.exec.SubmitWait(func() error {
		if n.started {
			return nil
		}
		first = true
		term, votedFor, loadErr := n.store.Load()
		if loadErr != nil {
			n.logger.Error("store load failed, node cannot start", zap.Error(loadErr))
			return loadErr
		}
		n.group = newNodeGroup(n.cfg.Self, n.initialPeers, n.log.LastIndex())
		n.role = newFollower(term, votedFor, nil, noopTimer{})
		n.started = true
		n.armElectionTimer()
		n.logger.Info("node started", zap.Uint64("term", uint64(term)))
		return nil
	})
	if err != nil {
		return err
	}
	if first {
		go n.consumeLogEvents()
	}
	return nil
}

// Stop cancels timers and shuts down both executors. Idempotent.
func (n *NodeImpl) Stop() {
	n.exec.SubmitWait(func() error {
		if n.stopped {
			return nil
		}
		n.stopped = true
		if n.role != nil {
			n.role.timer.Cancel()
		}
		return nil
	})
	select {
	case <-n.logEventsDone:
	default:
		close(n.logEventsDone)
	}
	n.membershipExec.Stop()
	n.exec.Stop()
}

func (n *NodeImpl) consumeLogEvents() {
	for {
		select {
		case ev, ok := <-n.log.Events():
			if !ok {
				return
			}
			n.exec.Submit(func() { n.handleLogEvent(ev) })
		case <-n.logEventsDone:
			return
		}
	}
}

// GetRoleState returns a race-free snapshot of the current role.
func (n *NodeImpl) GetRoleState() RoleSnapshot {
	return callSync(n.exec, func() RoleSnapshot {
		if n.role == nil {
			return RoleSnapshot{Tag: RoleFollower}
		}
		return n.role.snapshot()
	})
}

// GetCountOfMajor returns the number of voting members.
func (n *NodeImpl) GetCountOfMajor() int {
	return callSync(n.exec, func() int {
		if n.group == nil {
			return 0
		}
		return n.group.GetCountOfMajor()
	})
}

// AppendLog appends a client payload. Leader-only.
func (n *NodeImpl) AppendLog(payload []byte) (uint64, error) {
	var index uint64
	err := n.exec.SubmitWait(func() error {
		if !n.started || n.stopped {
			return ErrNotReady
		}
		if n.role.Tag != RoleLeader {
			return ErrNotLeader
		}
		idx, appendErr := n.log.Append(LogEntry{
			Index:   n.log.LastIndex() + 1,
			Term:    n.role.Term,
			Kind:    EntryGeneral,
			Payload: payload,
		})
		if appendErr != nil {
			return appendErr
		}
		index = idx
		return nil
	})
	if err != nil {
		return 0, err
	}
	n.exec.Submit(func() {
		n.replicateLog()
		n.recomputeCommitIndex()
	})
	return index, nil
}

// -- role transitions --------------------------------------------------

func (n *NodeImpl) armElectionTimer() {
	if n.cfg.Standby {
		n.role.timer = noopTimer{}
		return
	}
	d := randomElectionTimeout(n.cfg.ElectionTimeoutMin, n.cfg.ElectionTimeoutMax)
	n.role.timer = n.scheduler.AfterFunc(d, func() {
		n.exec.Submit(n.onElectionTimeout)
	})
}

func (n *NodeImpl) resetElectionTimer() {
	if n.role.timer != nil {
		n.role.timer.Cancel()
	}
	n.armElectionTimer()
}

func (n *NodeImpl) onElectionTimeout() {
	if !n.started || n.stopped {
		return
	}
	switch n.role.Tag {
	case RoleFollower:
		if n.cfg.Standby {
			n.role.timer.Cancel()
			return
		}
		n.becomeCandidate(n.role.Term + 1)
	case RoleCandidate:
		n.becomeCandidate(n.role.Term + 1)
	case RoleLeader:
		// Leaders don't run an election timer; nothing to do.
	}
}

// anyTermBump implements the universal rule: a message carrying a larger
// term demotes the node to Follower at that term before anything else
// happens. leaderId is non-nil when the message carries authority
// (AppendEntries/InstallSnapshot). Returns true if a bump occurred.
func (n *NodeImpl) anyTermBump(msgTerm Term, leaderId *NodeId) bool {
	if msgTerm <= n.role.Term {
		return false
	}
	if err := n.store.Save(msgTerm, nil); err != nil {
		n.logger.Error("persisting term bump failed", zap.Error(err))
	}
	if n.role.timer != nil {
		n.role.timer.Cancel()
	}
	n.role = newFollower(msgTerm, nil, leaderId, noopTimer{})
	n.armElectionTimer()
	return true
}

func (n *NodeImpl) becomeFollower(term Term, votedFor, leaderId *NodeId) {
	if n.role.timer != nil {
		n.role.timer.Cancel()
	}
	n.role = newFollower(term, votedFor, leaderId, noopTimer{})
	n.armElectionTimer()
}

func (n *NodeImpl) becomeCandidate(term Term) {
	if n.role.timer != nil {
		n.role.timer.Cancel()
	}
	if err := n.store.Save(term, &n.self); err != nil {
		n.logger.Error("persisting vote-for-self failed", zap.Error(err))
	}
	cand := newCandidate(term, n.self, noopTimer{})
	n.role = cand
	if cand.VotesCount >= n.group.quorumSize() {
		// Single-node cluster: self-vote already suffices.
		n.becomeLeader(term)
		return
	}
	d := randomElectionTimeout(n.cfg.ElectionTimeoutMin, n.cfg.ElectionTimeoutMax)
	cand.timer = n.scheduler.AfterFunc(d, func() {
		n.exec.Submit(n.onElectionTimeout)
	})

	args := RequestVoteArgs{
		Term:         term,
		CandidateId:  n.self,
		LastLogIndex: n.log.LastIndex(),
		LastLogTerm:  n.log.LastTerm(),
	}
	for _, id := range n.group.MajorIds() {
		if id == n.self {
			continue
		}
		to := n.group.GetState(id).Endpoint
		n.connector.SendRequestVote(context.Background(), to, args)
	}
}

func (n *NodeImpl) becomeLeader(term Term) {
	if n.role.timer != nil {
		n.role.timer.Cancel()
	}
	n.group.ResetReplicationState(n.log.LastIndex())
	n.role = newLeader(term, n.self, noopTimer{})
	n.logger.Info("became leader", zap.Uint64("term", uint64(term)))

	n.log.Append(LogEntry{
		Index: n.log.LastIndex() + 1,
		Term:  term,
		Kind:  EntryNoOp,
	})

	n.armReplicationTimer()
	n.replicateLog()
	// In a single-node cluster (quorum size 1) self suffices to commit --
	// there are no peers to produce an AppendEntriesResult that would
	// otherwise trigger this.
	n.recomputeCommitIndex()
}

func (n *NodeImpl) armReplicationTimer() {
	n.role.timer = n.scheduler.AfterFunc(n.cfg.ReplicationInterval, func() {
		n.exec.Submit(func() {
			if n.role.Tag != RoleLeader {
				return
			}
			n.replicateLog()
			n.armReplicationTimer()
		})
	})
}

// replicateLog sends AppendEntries (or InstallSnapshot) to every peer not
// currently within a fresh in-flight replication window.
func (n *NodeImpl) replicateLog() {
	if n.role.Tag != RoleLeader {
		return
	}
	now := time.Now()
	for _, id := range n.group.PeerIds() {
		st := n.group.GetState(id)
		if st.Replicating.Replicating && now.Sub(st.Replicating.LastReplicatedAt) < n.cfg.MinReplicationInterval {
			continue
		}
		n.sendAppendEntriesTo(id, st)
	}
}

func (n *NodeImpl) sendAppendEntriesTo(id NodeId, st *NodeState) {
	prevIndex := st.Replicating.NextIndex - 1
	if prevIndex < n.log.SnapshotIndex() || (prevIndex == 0 && n.log.SnapshotIndex() > 0) {
		n.sendInstallSnapshotTo(id, st)
		return
	}
	var prevTerm Term
	if prevIndex == n.log.SnapshotIndex() {
		prevTerm = n.log.SnapshotTerm()
	} else if prevIndex > 0 {
		t, ok := n.log.TermAt(prevIndex)
		if !ok {
			n.sendInstallSnapshotTo(id, st)
			return
		}
		prevTerm = t
	}
	entries := n.log.EntriesFrom(st.Replicating.NextIndex)
	args := AppendEntriesArgs{
		Term:         n.role.Term,
		LeaderId:     n.self,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.log.CommitIndex(),
	}
	st.Replicating.Replicating = true
	st.Replicating.LastReplicatedAt = time.Now()
	n.connector.SendAppendEntries(context.Background(), st.Endpoint, args)
}

func (n *NodeImpl) sendInstallSnapshotTo(id NodeId, st *NodeState) {
	lastIncludedIndex := n.log.SnapshotIndex()
	lastIncludedTerm := n.log.SnapshotTerm()
	st.Replicating.Replicating = true
	st.Replicating.LastReplicatedAt = time.Now()
	st.Replicating.PendingSnapshotLastIndex = lastIncludedIndex
	args := InstallSnapshotArgs{
		Term:              n.role.Term,
		LeaderId:          n.self,
		LastIncludedIndex: lastIncludedIndex,
		LastIncludedTerm:  lastIncludedTerm,
		Offset:            0,
		Data:              n.log.SnapshotData(),
		// The concrete Log never streams partial snapshots (see
		// DESIGN.md), so every InstallSnapshot is a single, complete
		// chunk.
		Done: true,
	}
	_ = id
	n.connector.SendInstallSnapshot(context.Background(), st.Endpoint, args)
}

// recomputeCommitIndex implements the majority-match rule: the largest
// N > commitIndex such that a majority of majors have matchIndex >= N and
// log[N].term == currentTerm.
func (n *NodeImpl) recomputeCommitIndex() {
	if n.role.Tag != RoleLeader {
		return
	}
	matchIndices := make([]uint64, 0, n.group.GetCountOfMajor())
	for _, id := range n.group.MajorIds() {
		if id == n.self {
			matchIndices = append(matchIndices, n.log.LastIndex())
			continue
		}
		st := n.group.GetState(id)
		matchIndices = append(matchIndices, st.Replicating.MatchIndex)
	}
	sortDesc(matchIndices)
	quorum := n.group.quorumSize()
	if quorum > len(matchIndices) {
		return
	}
	candidate := matchIndices[quorum-1]
	if candidate <= n.log.CommitIndex() {
		return
	}
	t, ok := n.log.TermAt(candidate)
	if !ok || t != n.role.Term {
		return
	}
	n.log.SetCommitIndex(candidate)
	n.applyCommittedEntries()
}

// applyCommittedEntries hands every EntryGeneral entry between lastApplied
// and the current commit index to the state machine, in order, exactly
// once. NoOp and group-config entries advance lastApplied without being
// applied -- NoOp carries no payload, and group-config entries are handled
// by handleLogEvent instead. Grounded on the teacher's applyCommittedEntries
// / applyLoop (raft.go, node.go).
func (n *NodeImpl) applyCommittedEntries() {
	commit := n.log.CommitIndex()
	if commit <= n.lastApplied {
		return
	}
	for _, e := range n.log.EntriesFrom(n.lastApplied + 1) {
		if e.Index > commit {
			break
		}
		if e.Kind == EntryGeneral {
			if _, err := n.sm.Apply(e.Payload); err != nil {
				n.logger.Error("state machine apply failed", zap.Error(err))
			}
		}
		n.lastApplied = e.Index
	}
}

func sortDesc(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] < s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func isLogUpToDate(candTerm Term, candIndex uint64, localTerm Term, localIndex uint64) bool {
	if candTerm != localTerm {
		return candTerm > localTerm
	}
	return candIndex >= localIndex
}

func (n *NodeImpl) matchesPrevLog(prevIndex uint64, prevTerm Term) bool {
	if prevIndex == 0 {
		return true
	}
	if prevIndex == n.log.SnapshotIndex() {
		return prevTerm == n.log.SnapshotTerm()
	}
	if prevIndex < n.log.SnapshotIndex() {
		return true
	}
	t, ok := n.log.TermAt(prevIndex)
	return ok && t == prevTerm
}
