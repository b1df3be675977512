package raft

// LogEvent is published by Log to the single reader running inside the
// main executor. The three kinds drive membership per §4.7.
type LogEventKind int

const (
	GroupConfigEntryFromLeaderAppend LogEventKind = iota
	GroupConfigEntryCommitted
	GroupConfigEntryBatchRemoved
)

// LogEvent carries enough of the triggering entry for the membership
// handlers to act without re-reading the log.
type LogEvent struct {
	Kind  LogEventKind
	Entry LogEntry
	// PreChangeMembers is populated for GroupConfigEntryBatchRemoved: the
	// membership to revert to.
	PreChangeMembers map[NodeId]NodeEndpoint
}

// Log is the append/truncate/commit/snapshot store of LogEntry records. It
// is shared but exposes linearizable operations; implementations
// synchronize internally so callers never need an external lock.
type Log interface {
	// LastIndex returns the index of the last entry, 0 if empty (or the
	// snapshot boundary if the log is empty behind a snapshot).
	LastIndex() uint64
	// LastTerm returns the term of the last entry, 0 if empty (or the
	// snapshot term if the log is empty behind a snapshot).
	LastTerm() Term
	// TermAt returns the term stored at index, and whether index is within
	// the log (false if truncated away, snapshotted, or beyond LastIndex).
	// The snapshot boundary itself, SnapshotIndex, reports SnapshotTerm and
	// true.
	TermAt(index uint64) (Term, bool)
	// EntriesFrom returns every entry whose index is >= from, in order.
	EntriesFrom(from uint64) []LogEntry
	// Append appends entries, truncating any existing conflicting suffix
	// starting at the first appended entry's index first. Returns the new
	// LastIndex.
	Append(entries ...LogEntry) (uint64, error)
	// CommitIndex returns the highest index known to be committed.
	CommitIndex() uint64
	// SetCommitIndex advances the commit index. It is a no-op (never moves
	// backward) if index <= CommitIndex(). Commit index is advanced before
	// downstream events are published.
	SetCommitIndex(index uint64)

	// SnapshotIndex returns the last index included in the most recent
	// snapshot, 0 if none.
	SnapshotIndex() uint64
	// SnapshotTerm returns the term of SnapshotIndex.
	SnapshotTerm() Term
	// InstallSnapshot replaces the log prefix up to lastIncludedIndex with
	// a snapshot boundary, discarding superseded entries.
	InstallSnapshot(lastIncludedIndex uint64, lastIncludedTerm Term, data []byte) error
	// SnapshotData returns the most recently installed/taken snapshot
	// payload.
	SnapshotData() []byte

	// Events returns the channel LogEvents are published on. There is
	// exactly one reader, running inside the main executor.
	Events() <-chan LogEvent
}
