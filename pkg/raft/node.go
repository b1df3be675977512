package raft

import (
	"go.uber.org/zap"
)

// NodeImpl dispatches every inbound event onto the serial task executor and
// owns all state transitions (role, membership, replication). It is the
// consensus core; transport, storage, and state-machine application are
// injected as interfaces.
type NodeImpl struct {
	cfg  Config
	self NodeId

	store     NodeStore
	log       Log
	connector Connector
	scheduler Scheduler
	sm        StateMachine
	logger    *zap.Logger

	exec           Executor
	membershipExec Executor

	role  *role
	group *NodeGroup

	started bool
	stopped bool

	currentTask *groupConfigChangeTask

	// lastApplied is the highest log index already handed to sm.Apply;
	// applyCommittedEntries advances it as the commit index moves forward.
	lastApplied uint64

	initialPeers  []NodeEndpoint
	logEventsDone chan struct{}
}

// New constructs a node. peers is the initial membership excluding self.
func New(cfg Config, peers []NodeEndpoint, store NodeStore, log Log, connector Connector, scheduler Scheduler, sm StateMachine, logger *zap.Logger) *NodeImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeImpl{
		cfg:            cfg,
		self:           cfg.Self.Id,
		store:          store,
		log:            log,
		connector:      connector,
		scheduler:      scheduler,
		sm:             sm,
		logger:         logger.With(zap.String("node", string(cfg.Self.Id))),
		exec:           newChanExecutor(256),
		membershipExec: newChanExecutor(16),
		logEventsDone:  make(chan struct{}),
		initialPeers:   peers,
	}
}
