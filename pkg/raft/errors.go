package raft

import "errors"

// Error kinds surfaced by the public API. Protocol-level rejects (stale
// term, unknown peer, log mismatch) are never returned as errors -- they
// are replied to on the wire with success=false / voteGranted=false.
var (
	ErrNotLeader  = errors.New("raft: node is not the leader")
	ErrNotReady   = errors.New("raft: node has not been started")
	ErrTimeout    = errors.New("raft: membership task timed out")
	ErrReplicationFailed = errors.New("raft: new node failed to catch up in time")
	ErrCancelled  = errors.New("raft: task was cancelled")
	ErrAlreadyActive = errors.New("raft: a membership change task is already active")
	ErrStopped    = errors.New("raft: node has been stopped")
)
