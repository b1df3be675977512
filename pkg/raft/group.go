package raft

import "time"

// ReplicatingState is the leader's per-peer replication bookkeeping.
type ReplicatingState struct {
	NextIndex  uint64
	MatchIndex uint64

	Replicating      bool
	LastReplicatedAt time.Time

	// Round counts catch-up rounds for a non-major peer being added; it is
	// unused once the peer becomes major.
	Round int

	// PendingSnapshotLastIndex is set when an InstallSnapshot was sent to
	// this peer and not yet acknowledged; it is consulted by
	// OnReceiveInstallSnapshotResult to resume AppendEntries at
	// lastIncludedIndex+1, since InstallSnapshotResult's wire format
	// carries no index (only Term and Done).
	PendingSnapshotLastIndex uint64
}

// NodeState is one member's membership record.
type NodeState struct {
	Endpoint NodeEndpoint
	// Major members are counted for quorum.
	Major bool
	// Removing is true from the moment a RemoveNode entry targeting this
	// peer is appended (optimistically) until it is either committed
	// (member dropped) or the entry is truncated away (reverted).
	Removing bool

	Replicating ReplicatingState
}

// NodeGroup is the live membership view: self is always present while not
// self-removed.
type NodeGroup struct {
	self    NodeId
	members map[NodeId]*NodeState
}

func newNodeGroup(self NodeEndpoint, peers []NodeEndpoint, lastLogIndex uint64) *NodeGroup {
	g := &NodeGroup{self: self.Id, members: make(map[NodeId]*NodeState)}
	g.members[self.Id] = &NodeState{Endpoint: self, Major: true}
	for _, p := range peers {
		g.members[p.Id] = &NodeState{Endpoint: p, Major: true}
	}
	g.ResetReplicationState(lastLogIndex)
	return g
}

// ResetReplicationState reinitializes every peer's ReplicatingState to
// nextIndex=lastLogIndex+1, matchIndex=0, as done on a leader transition.
func (g *NodeGroup) ResetReplicationState(lastLogIndex uint64) {
	for id, st := range g.members {
		if id == g.self {
			continue
		}
		st.Replicating = ReplicatingState{NextIndex: lastLogIndex + 1}
	}
}

func (g *NodeGroup) GetState(id NodeId) *NodeState {
	return g.members[id]
}

func (g *NodeGroup) Has(id NodeId) bool {
	_, ok := g.members[id]
	return ok
}

// MajorIds returns every voting member's id, including self.
func (g *NodeGroup) MajorIds() []NodeId {
	out := make([]NodeId, 0, len(g.members))
	for id, st := range g.members {
		if st.Major {
			out = append(out, id)
		}
	}
	return out
}

// PeerIds returns every member id except self.
func (g *NodeGroup) PeerIds() []NodeId {
	out := make([]NodeId, 0, len(g.members))
	for id := range g.members {
		if id != g.self {
			out = append(out, id)
		}
	}
	return out
}

// GetCountOfMajor returns the number of voting members.
func (g *NodeGroup) GetCountOfMajor() int {
	n := 0
	for _, st := range g.members {
		if st.Major {
			n++
		}
	}
	return n
}

func (g *NodeGroup) quorumSize() int {
	return g.GetCountOfMajor()/2 + 1
}

// AddCatchingUp adds a new, non-major, non-voting peer: the first step of
// AddNode before the GroupConfigEntry commits.
func (g *NodeGroup) AddCatchingUp(endpoint NodeEndpoint, nextIndex uint64) {
	g.members[endpoint.Id] = &NodeState{
		Endpoint:    endpoint,
		Major:       false,
		Replicating: ReplicatingState{NextIndex: nextIndex},
	}
}

// PromoteToMajor marks a previously catching-up peer as a voting member,
// called when its AddNode entry commits.
func (g *NodeGroup) PromoteToMajor(id NodeId) {
	if st, ok := g.members[id]; ok {
		st.Major = true
	}
}

// MarkRemoving flags a member as pending removal (optimistic, pre-commit).
func (g *NodeGroup) MarkRemoving(id NodeId) {
	if st, ok := g.members[id]; ok {
		st.Removing = true
	}
}

// UnmarkRemoving clears the pending-removal flag, used when a RemoveNode
// entry is truncated away by a log conflict.
func (g *NodeGroup) UnmarkRemoving(id NodeId) {
	if st, ok := g.members[id]; ok {
		st.Removing = false
	}
}

// Remove drops a member entirely, called when its RemoveNode entry commits.
func (g *NodeGroup) Remove(id NodeId) {
	delete(g.members, id)
}

// Restore replaces the membership set wholesale, used to revert to a
// pre-change snapshot carried by a GroupConfigEntryBatchRemoved event.
func (g *NodeGroup) Restore(members map[NodeId]NodeEndpoint, lastLogIndex uint64) {
	g.members = make(map[NodeId]*NodeState, len(members))
	for id, ep := range members {
		g.members[id] = &NodeState{Endpoint: ep, Major: true}
	}
	g.ResetReplicationState(lastLogIndex)
}

// Snapshot returns the current id->endpoint map, used to stamp a
// GroupConfigEntry's PreChangeMembers.
func (g *NodeGroup) Snapshot() map[NodeId]NodeEndpoint {
	out := make(map[NodeId]NodeEndpoint, len(g.members))
	for id, st := range g.members {
		out[id] = st.Endpoint
	}
	return out
}
