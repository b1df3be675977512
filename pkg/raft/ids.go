package raft

import "fmt"

// NodeId is an opaque, short identifier for a cluster member. Two NodeIds
// are equal iff their underlying strings are equal.
type NodeId string

// NodeEndpoint is a globally addressable member: an id plus where to reach
// it over the wire.
type NodeEndpoint struct {
	Id   NodeId
	Host string
	Port int
}

func (e NodeEndpoint) String() string {
	return fmt.Sprintf("%s(%s:%d)", e.Id, e.Host, e.Port)
}

// Term is a monotone, non-negative election term.
type Term uint64
