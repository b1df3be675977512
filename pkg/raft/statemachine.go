package raft

// StateMachine applies committed EntryGeneral payloads. NoOp, AddNode, and
// RemoveNode entries are never passed here -- they only affect group/role
// state inside the core.
type StateMachine interface {
	Apply(payload []byte) (result interface{}, err error)
}
