package raft

// RoleTag is the discriminant of the Role tagged variant.
type RoleTag int

const (
	RoleFollower RoleTag = iota
	RoleCandidate
	RoleLeader
)

func (t RoleTag) String() string {
	switch t {
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

// role is the current node role. Every transition builds a new value on
// the serial executor and cancels the outgoing role's timer before
// installing the replacement; within one role, VotedFor, LeaderId,
// VotesCount and the timer are updated in place on the executor.
// Role-specific behavior is dispatched on Tag inside NodeImpl rather than
// through virtual methods (node_lifecycle.go, node_rpc.go,
// node_membership.go).
type role struct {
	Tag RoleTag
	Term Term

	// VotedFor is set for Follower/Candidate once a vote is cast this term.
	VotedFor *NodeId
	// LeaderId is known for Follower once an authoritative AppendEntries or
	// InstallSnapshot has been observed this term.
	LeaderId *NodeId
	// VotesCount is meaningful only for Candidate.
	VotesCount int

	timer timerHandle
}

func newFollower(term Term, votedFor, leaderId *NodeId, timer timerHandle) *role {
	return &role{Tag: RoleFollower, Term: term, VotedFor: votedFor, LeaderId: leaderId, timer: timer}
}

func newCandidate(term Term, self NodeId, timer timerHandle) *role {
	id := self
	return &role{Tag: RoleCandidate, Term: term, VotedFor: &id, VotesCount: 1, timer: timer}
}

func newLeader(term Term, self NodeId, timer timerHandle) *role {
	id := self
	// VotedFor carries over as self: the node voted for itself to become
	// candidate for this term, and a leader must never grant a conflicting
	// vote at its own term (RequestVote's votedOK check relies on this).
	return &role{Tag: RoleLeader, Term: term, VotedFor: &id, LeaderId: &id, timer: timer}
}

// RoleSnapshot is an immutable, race-free copy returned from GetRoleState.
type RoleSnapshot struct {
	Tag        RoleTag
	Term       Term
	VotedFor   *NodeId
	LeaderId   *NodeId
	VotesCount int
}

func (r *role) snapshot() RoleSnapshot {
	return RoleSnapshot{
		Tag:        r.Tag,
		Term:       r.Term,
		VotedFor:   r.VotedFor,
		LeaderId:   r.LeaderId,
		VotesCount: r.VotesCount,
	}
}
