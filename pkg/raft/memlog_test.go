package raft

import "sync"

// memLog is a minimal in-memory NodeStore + Log for unit tests, playing
// the role the teacher's in-memory stub stores play in its own raft_test.go
// table tests -- no persistence, just enough bookkeeping to drive the
// core's state machine deterministically.
type memLog struct {
	mu sync.Mutex

	term     Term
	votedFor *NodeId

	entries []LogEntry
	commit  uint64

	snapIndex uint64
	snapTerm  Term
	snapData  []byte

	events chan LogEvent
}

func newMemLog() *memLog {
	return &memLog{events: make(chan LogEvent, 64)}
}

func (m *memLog) Load() (Term, *NodeId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.term, m.votedFor, nil
}

func (m *memLog) Save(term Term, votedFor *NodeId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.term = term
	m.votedFor = votedFor
	return nil
}

func (m *memLog) LastIndex() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.entries); n > 0 {
		return m.entries[n-1].Index
	}
	return m.snapIndex
}

func (m *memLog) LastTerm() Term {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.entries); n > 0 {
		return m.entries[n-1].Term
	}
	return m.snapTerm
}

func (m *memLog) TermAt(index uint64) (Term, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index == m.snapIndex {
		return m.snapTerm, true
	}
	for _, e := range m.entries {
		if e.Index == index {
			return e.Term, true
		}
	}
	return 0, false
}

func (m *memLog) EntriesFrom(from uint64) []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogEntry, 0)
	for _, e := range m.entries {
		if e.Index >= from {
			out = append(out, e)
		}
	}
	return out
}

func (m *memLog) Append(entries ...LogEntry) (uint64, error) {
	if len(entries) == 0 {
		m.mu.Lock()
		defer m.mu.Unlock()
		if n := len(m.entries); n > 0 {
			return m.entries[n-1].Index, nil
		}
		return m.snapIndex, nil
	}
	m.mu.Lock()
	firstNew := entries[0].Index
	cut := len(m.entries)
	for i, e := range m.entries {
		if e.Index >= firstNew {
			cut = i
			break
		}
	}
	truncated := append([]LogEntry{}, m.entries[cut:]...)
	m.entries = append(m.entries[:cut], entries...)
	last := m.entries[len(m.entries)-1].Index
	m.mu.Unlock()

	for _, e := range truncated {
		if e.Kind.isGroupConfig() {
			payload, err := DecodeGroupConfigPayload(e.Payload)
			if err != nil {
				continue
			}
			m.publish(LogEvent{Kind: GroupConfigEntryBatchRemoved, Entry: e, PreChangeMembers: payload.PreChangeMembers})
		}
	}
	for _, e := range entries {
		if e.Kind.isGroupConfig() {
			m.publish(LogEvent{Kind: GroupConfigEntryFromLeaderAppend, Entry: e})
		}
	}
	return last, nil
}

func (m *memLog) CommitIndex() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commit
}

func (m *memLog) SetCommitIndex(index uint64) {
	m.mu.Lock()
	if index <= m.commit {
		m.mu.Unlock()
		return
	}
	prev := m.commit
	m.commit = index
	var newly []LogEntry
	for _, e := range m.entries {
		if e.Index > prev && e.Index <= index {
			newly = append(newly, e)
		}
	}
	m.mu.Unlock()
	for _, e := range newly {
		if e.Kind.isGroupConfig() {
			m.publish(LogEvent{Kind: GroupConfigEntryCommitted, Entry: e})
		}
	}
}

func (m *memLog) SnapshotIndex() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapIndex
}

func (m *memLog) SnapshotTerm() Term {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapTerm
}

func (m *memLog) SnapshotData() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapData
}

func (m *memLog) InstallSnapshot(lastIncludedIndex uint64, lastIncludedTerm Term, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lastIncludedIndex <= m.snapIndex {
		return nil
	}
	var kept []LogEntry
	for _, e := range m.entries {
		if e.Index > lastIncludedIndex {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	m.snapIndex = lastIncludedIndex
	m.snapTerm = lastIncludedTerm
	m.snapData = data
	if m.commit < lastIncludedIndex {
		m.commit = lastIncludedIndex
	}
	return nil
}

func (m *memLog) Events() <-chan LogEvent { return m.events }

func (m *memLog) publish(ev LogEvent) { m.events <- ev }

// memSM is a trivial StateMachine recording every applied payload.
type memSM struct {
	mu      sync.Mutex
	applied [][]byte
}

func (s *memSM) Apply(payload []byte) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, payload)
	return nil, nil
}

func (s *memSM) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}
