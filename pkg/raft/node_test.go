package raft

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

// testConnector is an in-process Connector wired directly against a
// peer-id -> InboundHandler map, grounded on the teacher's
// pkg/rpc.LocalTransport but kept internal to this package (rather than
// reusing pkg/localconn) to avoid an import cycle in internal tests.
type testConnector struct {
	self     NodeId
	handlers map[NodeId]InboundHandler
	disabled map[NodeId]bool
}

func (c *testConnector) SendRequestVote(ctx context.Context, to NodeEndpoint, args RequestVoteArgs) {
	if c.disabled[to.Id] {
		return
	}
	h := c.handlers[to.Id]
	if h == nil {
		return
	}
	go func() {
		result := h.OnReceiveRequestVote(ctx, c.self, args)
		if origin := c.handlers[c.self]; origin != nil {
			origin.OnReceiveRequestVoteResult(ctx, to.Id, result)
		}
	}()
}

func (c *testConnector) SendAppendEntries(ctx context.Context, to NodeEndpoint, args AppendEntriesArgs) {
	if c.disabled[to.Id] {
		return
	}
	h := c.handlers[to.Id]
	if h == nil {
		return
	}
	go func() {
		result := h.OnReceiveAppendEntries(ctx, c.self, args)
		if origin := c.handlers[c.self]; origin != nil {
			origin.OnReceiveAppendEntriesResult(ctx, to.Id, result)
		}
	}()
}

func (c *testConnector) SendInstallSnapshot(ctx context.Context, to NodeEndpoint, args InstallSnapshotArgs) {
	if c.disabled[to.Id] {
		return
	}
	h := c.handlers[to.Id]
	if h == nil {
		return
	}
	go func() {
		result := h.OnReceiveInstallSnapshot(ctx, c.self, args)
		if origin := c.handlers[c.self]; origin != nil {
			origin.OnReceiveInstallSnapshotResult(ctx, to.Id, result)
		}
	}()
}

type testCluster struct {
	nodes     map[NodeId]*NodeImpl
	logs      map[NodeId]*memLog
	sms       map[NodeId]*memSM
	conns     map[NodeId]*testConnector
	scheduler *ManualScheduler
}

func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	endpoints := make([]NodeEndpoint, n)
	for i := 0; i < n; i++ {
		endpoints[i] = NodeEndpoint{Id: NodeId(string(rune('a' + i))), Host: "127.0.0.1", Port: 10000 + i}
	}

	handlers := make(map[NodeId]InboundHandler)
	scheduler := NewManualScheduler()

	tc := &testCluster{
		nodes: make(map[NodeId]*NodeImpl),
		logs:  make(map[NodeId]*memLog),
		sms:   make(map[NodeId]*memSM),
		conns: make(map[NodeId]*testConnector),
		scheduler: scheduler,
	}

	for _, self := range endpoints {
		var peers []NodeEndpoint
		for _, e := range endpoints {
			if e.Id != self.Id {
				peers = append(peers, e)
			}
		}
		lg := newMemLog()
		sm := &memSM{}
		conn := &testConnector{self: self.Id, handlers: handlers, disabled: make(map[NodeId]bool)}

		cfg := DefaultConfig(self)
		cfg.ElectionTimeoutMin = 100 * time.Millisecond
		cfg.ElectionTimeoutMax = 200 * time.Millisecond
		cfg.ReplicationInterval = 20 * time.Millisecond

		node := New(cfg, peers, lg, lg, conn, scheduler, sm, zap.NewNop())
		handlers[self.Id] = node

		tc.nodes[self.Id] = node
		tc.logs[self.Id] = lg
		tc.sms[self.Id] = sm
		tc.conns[self.Id] = conn
	}
	return tc
}

func (tc *testCluster) startAll() {
	for _, n := range tc.nodes {
		n.Start()
	}
}

func (tc *testCluster) stopAll() {
	for _, n := range tc.nodes {
		n.Stop()
	}
}

func (tc *testCluster) leader() *NodeImpl {
	for _, n := range tc.nodes {
		if n.GetRoleState().Tag == RoleLeader {
			return n
		}
	}
	return nil
}

// electLeader advances the shared ManualScheduler in small steps until
// some node reports Leader and returns the first one found, failing the
// test if none does within a generous number of steps.
func electLeader(t *testing.T, tc *testCluster) *NodeImpl {
	t.Helper()
	for i := 0; i < 50; i++ {
		tc.scheduler.Advance(20 * time.Millisecond)
		time.Sleep(2 * time.Millisecond) // let dispatched goroutines land on the executors
		if l := tc.leader(); l != nil {
			return l
		}
	}
	t.Fatal("no leader elected")
	return nil
}

func TestSingleNodeClusterBecomesLeaderImmediately(t *testing.T) {
	tc := newTestCluster(t, 1)
	tc.startAll()
	defer tc.stopAll()

	// A single-voter cluster must become leader on its very first election
	// timeout without needing any RequestVote round trip.
	l := electLeader(t, tc)
	if l == nil {
		t.Fatal("expected immediate leader in single-node cluster")
	}
}

func TestSingleNodeClusterCommitsAndAppliesWithoutPeers(t *testing.T) {
	tc := newTestCluster(t, 1)
	tc.startAll()
	defer tc.stopAll()

	l := electLeader(t, tc)
	var id NodeId
	for nid := range tc.nodes {
		id = nid
	}

	if _, err := l.AppendLog([]byte("solo")); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if tc.sms[id].count() == 0 {
		t.Fatal("expected a single-node cluster to commit and apply its own entry without any peer")
	}
}

func TestThreeNodeClusterElectsExactlyOneLeader(t *testing.T) {
	tc := newTestCluster(t, 3)
	tc.startAll()
	defer tc.stopAll()

	l := electLeader(t, tc)
	if l == nil {
		t.Fatal("expected a leader")
	}

	count := 0
	for _, n := range tc.nodes {
		if n.GetRoleState().Tag == RoleLeader {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one leader, got %d", count)
	}
}

func TestLeaderReplicatesAppendedEntry(t *testing.T) {
	tc := newTestCluster(t, 3)
	tc.startAll()
	defer tc.stopAll()

	l := electLeader(t, tc)
	if _, err := l.AppendLog([]byte("hello")); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	targetIndex := l.log.LastIndex()
	var applied bool
	for i := 0; i < 50; i++ {
		tc.scheduler.Advance(20 * time.Millisecond)
		time.Sleep(2 * time.Millisecond)
		allCommitted := true
		for _, lg := range tc.logs {
			if lg.CommitIndex() < targetIndex {
				allCommitted = false
			}
		}
		if allCommitted {
			applied = true
			break
		}
	}
	if !applied {
		t.Fatal("entry was not committed on all nodes in time")
	}
}

func TestFollowerRejectsStaleTermAppendEntries(t *testing.T) {
	tc := newTestCluster(t, 3)
	tc.startAll()
	defer tc.stopAll()

	l := electLeader(t, tc)
	var followerId NodeId
	for id, n := range tc.nodes {
		if n != l {
			followerId = id
			break
		}
	}
	follower := tc.nodes[followerId]
	currentTerm := follower.GetRoleState().Term

	result := follower.OnReceiveAppendEntries(context.Background(), "", AppendEntriesArgs{
		Term:         currentTerm - 1,
		LeaderId:     l.self,
		PrevLogIndex: 0,
		PrevLogTerm:  0,
	})
	if result.Success {
		t.Fatal("expected stale-term AppendEntries to be rejected")
	}
	if result.Term != currentTerm {
		t.Fatalf("expected result term %d, got %d", currentTerm, result.Term)
	}
}

func TestLeaderStepsDownOnHigherTerm(t *testing.T) {
	tc := newTestCluster(t, 3)
	tc.startAll()
	defer tc.stopAll()

	l := electLeader(t, tc)
	higherTerm := l.GetRoleState().Term + 10

	l.OnReceiveAppendEntriesResult(context.Background(), "nonexistent", AppendEntriesResult{Term: higherTerm, Success: false})

	// Give the submitted closure a moment to run on the executor.
	time.Sleep(10 * time.Millisecond)

	snap := l.GetRoleState()
	if snap.Tag == RoleLeader {
		t.Fatal("expected leader to step down on observing a higher term")
	}
	if snap.Term != higherTerm {
		t.Fatalf("expected term to bump to %d, got %d", higherTerm, snap.Term)
	}
}

func TestDirectExecutorRunsSynchronously(t *testing.T) {
	exec := NewDirectExecutor()
	var ran bool
	exec.Submit(func() { ran = true })
	if !ran {
		t.Fatal("DirectExecutor.Submit must run its function before returning")
	}

	got := callSync(exec, func() int { return 42 })
	if got != 42 {
		t.Fatalf("callSync: expected 42, got %d", got)
	}
}

func TestCommittedEntriesAreAppliedToStateMachine(t *testing.T) {
	tc := newTestCluster(t, 3)
	tc.startAll()
	defer tc.stopAll()

	l := electLeader(t, tc)
	if _, err := l.AppendLog([]byte("payload-1")); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	var leaderId NodeId
	for id, n := range tc.nodes {
		if n == l {
			leaderId = id
		}
	}

	applied := false
	for i := 0; i < 50; i++ {
		tc.scheduler.Advance(20 * time.Millisecond)
		time.Sleep(2 * time.Millisecond)
		if tc.sms[leaderId].count() > 0 {
			applied = true
			break
		}
	}
	if !applied {
		t.Fatal("expected the leader's state machine to observe the committed entry")
	}
}

func TestAddNodeCatchesUpAndCommits(t *testing.T) {
	tc := newTestCluster(t, 2)
	// Keep catch-up bounded and fast for the test.
	for _, n := range tc.nodes {
		n.cfg.NewNodeMaxRound = 20
		n.cfg.NewNodeAdvanceTimeout = 200 * time.Millisecond
	}
	tc.startAll()
	defer tc.stopAll()

	l := electLeader(t, tc)
	if _, err := l.AppendLog([]byte("before-add")); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	newEndpoint := NodeEndpoint{Id: "new-node", Host: "127.0.0.1", Port: 19999}
	newLog := newMemLog()
	newSM := &memSM{}
	newConn := &testConnector{self: newEndpoint.Id, handlers: map[NodeId]InboundHandler{}, disabled: make(map[NodeId]bool)}
	for id, n := range tc.nodes {
		newConn.handlers[id] = n
	}
	var peers []NodeEndpoint
	for id, n := range tc.nodes {
		peers = append(peers, n.cfg.Self)
		_ = id
	}
	newCfg := DefaultConfig(newEndpoint)
	newCfg.Standby = true // joining node does not run for election mid-catch-up
	newNode := New(newCfg, peers, newLog, newLog, newConn, tc.scheduler, newSM, zap.NewNop())
	newConn.handlers[newEndpoint.Id] = newNode
	for _, conn := range tc.conns {
		conn.handlers[newEndpoint.Id] = newNode
	}
	newNode.Start()
	defer newNode.Stop()

	ref := l.AddNode(newEndpoint)

	done := make(chan TaskResult, 1)
	go func() {
		res, _ := ref.GetResult(2 * time.Second)
		done <- res
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case res := <-done:
			if res != TaskOK {
				t.Fatalf("expected AddNode to commit with TaskOK, got %v", res)
			}
			if l.GetCountOfMajor() != 3 {
				t.Fatalf("expected 3 major members after AddNode, got %d", l.GetCountOfMajor())
			}
			return
		default:
			tc.scheduler.Advance(20 * time.Millisecond)
			time.Sleep(2 * time.Millisecond)
		}
	}
	t.Fatal("AddNode did not complete in time")
}

func TestRemoveSelfTransitionsToFollower(t *testing.T) {
	tc := newTestCluster(t, 3)
	tc.startAll()
	defer tc.stopAll()

	l := electLeader(t, tc)
	leaderId := l.self

	ref := l.RemoveNode(leaderId)

	done := make(chan TaskResult, 1)
	go func() {
		res, _ := ref.GetResult(2 * time.Second)
		done <- res
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case res := <-done:
			if res != TaskOK {
				t.Fatalf("expected RemoveNode to commit with TaskOK, got %v", res)
			}
			if got := callSync(l.exec, func() *NodeState { return l.group.GetState(leaderId) }); got != nil {
				t.Fatalf("expected self to be gone from the group, got %+v", got)
			}
			if l.GetCountOfMajor() != 2 {
				t.Fatalf("expected 2 major members after self-removal, got %d", l.GetCountOfMajor())
			}
			if rs := l.GetRoleState(); rs.Tag != RoleFollower {
				t.Fatalf("expected the removed leader to become a follower, got %v", rs.Tag)
			}
			return
		default:
			tc.scheduler.Advance(20 * time.Millisecond)
			time.Sleep(2 * time.Millisecond)
		}
	}
	t.Fatal("RemoveNode (self) did not complete in time")
}

func TestAppendLogRejectedWhenNotLeader(t *testing.T) {
	tc := newTestCluster(t, 3)
	tc.startAll()
	defer tc.stopAll()

	l := electLeader(t, tc)
	for id, n := range tc.nodes {
		if n == l {
			continue
		}
		if _, err := n.AppendLog([]byte("x")); err != ErrNotLeader {
			t.Fatalf("node %s: expected ErrNotLeader, got %v", id, err)
		}
	}
}
