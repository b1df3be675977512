package raft

// NodeStore is the durable (currentTerm, votedFor) cell. Writes must be
// atomic: a reader never observes a torn write. It is written only from
// the main executor; reads are permitted from other goroutines.
type NodeStore interface {
	// Load returns the persisted term/votedFor, or the zero value if
	// nothing has ever been written.
	Load() (term Term, votedFor *NodeId, err error)
	// Save atomically persists term/votedFor. Must happen-before any RPC
	// reflecting that term/vote is sent.
	Save(term Term, votedFor *NodeId) error
}
