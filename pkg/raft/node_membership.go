package raft

import "time"

// membershipPollInterval is the busy-poll granularity used while a
// membership change waits for catch-up or commit, in the same idiom as the
// teacher's runFollower election-timeout poll.
const membershipPollInterval = 10 * time.Millisecond

// AddNode submits an add-node membership change to the membership
// executor and returns immediately with a future result.
func (n *NodeImpl) AddNode(endpoint NodeEndpoint) *TaskReference {
	task := newGroupConfigChangeTask(changeAddNode, endpoint.Id, endpoint)
	n.membershipExec.Submit(func() { n.runGroupConfigChange(task) })
	return task.ref
}

// RemoveNode submits a remove-node membership change.
func (n *NodeImpl) RemoveNode(id NodeId) *TaskReference {
	task := newGroupConfigChangeTask(changeRemoveNode, id, NodeEndpoint{Id: id})
	n.membershipExec.Submit(func() { n.runGroupConfigChange(task) })
	return task.ref
}

// CancelGroupConfigChangeTask resolves the active task's future with
// Cancelled and releases the membership executor for the next caller.
func (n *NodeImpl) CancelGroupConfigChangeTask() {
	n.exec.Submit(func() {
		if n.currentTask == nil {
			return
		}
		close(n.currentTask.cancel)
	})
}

// runGroupConfigChange runs entirely on the membership executor goroutine.
// It performs shared-state mutations only via closures re-queued onto the
// main executor (callSync/exec.Submit), never by touching role/group
// directly.
func (n *NodeImpl) runGroupConfigChange(task *groupConfigChangeTask) {
	if !n.claimTaskSlot(task) {
		return // already responded (NotLeader, Cancelled-by-timeout, etc.)
	}

	switch task.kind {
	case changeAddNode:
		n.runAddNode(task)
	case changeRemoveNode:
		n.runRemoveNode(task)
	}

	n.exec.Submit(func() {
		if n.currentTask == task {
			n.currentTask = nil
		}
	})
}

// claimTaskSlot waits for any prior active task (up to
// PreviousGroupConfigChangeTimeout) and installs task as the active one.
// Returns false if task was already resolved (leader check failed, or the
// wait for the prior task expired).
func (n *NodeImpl) claimTaskSlot(task *groupConfigChangeTask) bool {
	for {
		var prior *TaskReference
		err := n.exec.SubmitWait(func() error {
			if !n.started || n.stopped {
				return ErrNotReady
			}
			if n.role.Tag != RoleLeader {
				return ErrNotLeader
			}
			if n.currentTask != nil {
				prior = n.currentTask.ref
				return nil
			}
			n.currentTask = task
			return nil
		})
		if err == ErrNotReady || err == ErrNotLeader {
			task.ref.respond(TaskError, err)
			return false
		}
		if prior == nil {
			return true
		}
		select {
		case <-prior.done:
		case <-time.After(n.cfg.PreviousGroupConfigChangeTimeout):
			task.ref.respond(TaskTimeout, ErrTimeout)
			return false
		}
		// Prior task resolved in time, whatever its result; loop to retry
		// claiming the slot.
	}
}

func (n *NodeImpl) runAddNode(task *groupConfigChangeTask) {
	n.exec.Submit(func() {
		task.state = TaskCatchingUp
		n.group.AddCatchingUp(task.targetEndpoint, n.log.LastIndex()+1)
		n.replicateLog()
	})

	caughtUp := false
	for round := 0; round < n.cfg.NewNodeMaxRound; round++ {
		target := callSync(n.exec, func() uint64 { return n.log.LastIndex() })
		deadline := time.Now().Add(n.cfg.NewNodeAdvanceTimeout)
		for time.Now().Before(deadline) {
			select {
			case <-task.cancel:
				task.ref.respond(TaskCancelled, ErrCancelled)
				return
			default:
			}
			match := callSync(n.exec, func() uint64 {
				st := n.group.GetState(task.targetId)
				if st == nil {
					return 0
				}
				return st.Replicating.MatchIndex
			})
			if match >= target {
				caughtUp = true
				break
			}
			time.Sleep(membershipPollInterval)
		}
		if caughtUp {
			break
		}
	}
	if !caughtUp {
		task.ref.respond(TaskReplicationFailed, ErrReplicationFailed)
		return
	}

	task.state = TaskReplicating
	n.exec.Submit(func() {
		if n.role.Tag != RoleLeader {
			return
		}
		payload := encodeGroupConfigPayload(GroupConfigPayload{
			AddEndpoint:      task.targetEndpoint,
			PreChangeMembers: n.group.Snapshot(),
		})
		idx, _ := n.log.Append(LogEntry{
			Index:   n.log.LastIndex() + 1,
			Term:    n.role.Term,
			Kind:    EntryAddNode,
			Payload: payload,
		})
		task.entryIndex = idx
		n.replicateLog()
	})

	select {
	case <-task.committed:
		task.ref.respond(TaskOK, nil)
	case <-task.reverted:
		task.ref.respond(TaskReplicationFailed, ErrReplicationFailed)
	case <-task.cancel:
		task.ref.respond(TaskCancelled, ErrCancelled)
	}
}

func (n *NodeImpl) runRemoveNode(task *groupConfigChangeTask) {
	n.exec.Submit(func() {
		task.state = TaskReplicating
		n.group.MarkRemoving(task.targetId)
		payload := encodeGroupConfigPayload(GroupConfigPayload{
			RemoveId:         task.targetId,
			PreChangeMembers: n.group.Snapshot(),
		})
		idx, _ := n.log.Append(LogEntry{
			Index:   n.log.LastIndex() + 1,
			Term:    n.role.Term,
			Kind:    EntryRemoveNode,
			Payload: payload,
		})
		task.entryIndex = idx
		n.replicateLog()
	})

	select {
	case <-task.committed:
		task.ref.respond(TaskOK, nil)
	case <-task.reverted:
		task.ref.respond(TaskReplicationFailed, ErrReplicationFailed)
	case <-task.cancel:
		task.ref.respond(TaskCancelled, ErrCancelled)
	}
}

// notifyMembershipProgress is the single point where per-peer replication
// progress crosses into membership concerns. The add-node catch-up loop
// polls NodeGroup directly rather than subscribing here; this hook exists
// so future instrumentation (round-advance metrics) has one place to land.
func (n *NodeImpl) notifyMembershipProgress(NodeId, *NodeState) {}

// handleLogEvent applies the three membership-driving Log events. It runs
// inside the main executor (submitted by consumeLogEvents).
func (n *NodeImpl) handleLogEvent(ev LogEvent) {
	switch ev.Kind {
	case GroupConfigEntryFromLeaderAppend:
		payload, err := DecodeGroupConfigPayload(ev.Entry.Payload)
		if err != nil {
			n.logger.Error("failed to decode group config entry")
			return
		}
		switch ev.Entry.Kind {
		case EntryAddNode:
			if !n.group.Has(payload.AddEndpoint.Id) {
				n.group.AddCatchingUp(payload.AddEndpoint, ev.Entry.Index)
			}
		case EntryRemoveNode:
			n.group.MarkRemoving(payload.RemoveId)
		}

	case GroupConfigEntryCommitted:
		payload, err := DecodeGroupConfigPayload(ev.Entry.Payload)
		if err != nil {
			n.logger.Error("failed to decode group config entry")
			return
		}
		switch ev.Entry.Kind {
		case EntryAddNode:
			n.group.PromoteToMajor(payload.AddEndpoint.Id)
		case EntryRemoveNode:
			n.group.Remove(payload.RemoveId)
			if payload.RemoveId == n.self {
				if n.role.timer != nil {
					n.role.timer.Cancel()
				}
				n.role = newFollower(n.role.Term, nil, nil, noopTimer{})
				// Self-removal: no longer a voter, election timer stays
				// disarmed.
			}
		}
		if n.currentTask != nil && n.currentTask.entryIndex == ev.Entry.Index {
			n.currentTask.state = TaskCommitted
			close(n.currentTask.committed)
		}

	case GroupConfigEntryBatchRemoved:
		n.group.Restore(ev.PreChangeMembers, n.log.LastIndex())
		if n.currentTask != nil && n.currentTask.entryIndex == ev.Entry.Index {
			n.currentTask.state = TaskTimedOut
			close(n.currentTask.reverted)
		}
	}
}
