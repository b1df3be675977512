package raft

import "time"

// Config holds every tunable of the consensus core. Fields mirror the
// teacher's NodeConfig but add the knobs the distilled core actually
// requires (min replication interval, new-node catch-up rounds, standby).
type Config struct {
	Self NodeEndpoint

	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	MinReplicationInterval time.Duration
	ReplicationInterval    time.Duration

	NewNodeMaxRound       int
	NewNodeAdvanceTimeout time.Duration

	PreviousGroupConfigChangeTimeout time.Duration

	// Standby disables election timeouts; the node will never become a
	// candidate. Used for observer-only deployments.
	Standby bool

	// SnapshotThreshold is a log entry count for a caller to pass to a Log's
	// compaction (e.g. walstore.Store.CompactIfNeeded). NodeImpl does not
	// read it, and nothing in this module compacts the log automatically.
	SnapshotThreshold int

	// DataDir is where the NodeStore/Log implementation keeps its files.
	DataDir string
}

// DefaultConfig returns sane defaults, scaled the way the teacher's
// DefaultConfig scaled election/heartbeat timing.
func DefaultConfig(self NodeEndpoint) Config {
	return Config{
		Self:                             self,
		ElectionTimeoutMin:               500 * time.Millisecond,
		ElectionTimeoutMax:               1000 * time.Millisecond,
		MinReplicationInterval:           30 * time.Millisecond,
		ReplicationInterval:              50 * time.Millisecond,
		NewNodeMaxRound:                  10,
		NewNodeAdvanceTimeout:            2 * time.Second,
		PreviousGroupConfigChangeTimeout: 5 * time.Second,
		Standby:                          false,
		SnapshotThreshold:                1000,
		DataDir:                          ".",
	}
}
