// Package walstore provides a CRC32-framed, gob-encoded file, holding one
// record that is rewritten in full on every persist, that backs both
// raft.NodeStore and raft.Log. It is grounded on the teacher's
// pkg/wal package: the same record layout (4-byte CRC32 + 4-byte length
// header, gob payload, whole-state overwrite-and-sync persist) is reused,
// generalized to also carry the snapshot boundary and the commit index and
// to publish the three raft.LogEvent kinds the consensus core subscribes
// to.
package walstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/xlpha/xraft/pkg/raft"
)

const (
	fileName         = "xraft.wal"
	recordHeaderSize = 8
)

// persistentState is the whole-file gob payload, matching the teacher's
// "encode everything, truncate, rewrite" persist strategy.
type persistentState struct {
	CurrentTerm Term
	VotedFor    NodeId
	HasVoted    bool

	Entries []raft.LogEntry

	CommitIndex uint64

	SnapshotIndex uint64
	SnapshotTerm  Term
	SnapshotData  []byte
}

// Term/NodeId are local gob-friendly aliases so this package does not need
// to import raft's unexported internals; they are structurally identical
// to raft.Term/raft.NodeId.
type Term = raft.Term
type NodeId = raft.NodeId

// Store is a combined raft.NodeStore + raft.Log backed by a single file on
// disk, opened once per node.
type Store struct {
	mu   sync.RWMutex
	dir  string
	file *os.File

	state persistentState

	events chan raft.LogEvent
}

// Open creates or recovers a Store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("walstore: mkdir: %w", err)
	}
	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walstore: open: %w", err)
	}
	s := &Store{
		dir:    dir,
		file:   f,
		events: make(chan raft.LogEvent, 64),
	}
	if err := s.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) recover() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	header := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(s.file, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil // fresh file
		}
		return fmt.Errorf("walstore: read header: %w", err)
	}
	crc := binary.LittleEndian.Uint32(header[:4])
	length := binary.LittleEndian.Uint32(header[4:8])
	data := make([]byte, length)
	if _, err := io.ReadFull(s.file, data); err != nil {
		// A truncated trailing record (crash mid-write) is treated as if
		// it were never written, not a fatal error.
		return nil
	}
	if crc32.ChecksumIEEE(data) != crc {
		return nil
	}
	var st persistentState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return fmt.Errorf("walstore: decode: %w", err)
	}
	s.state = st
	return nil
}

// persist serializes the whole state and overwrites the file, matching the
// teacher's "truncate to zero, rewrite everything" strategy -- simple, and
// correct for the data volumes a consensus log realistically holds before
// a snapshot compacts it.
func (s *Store) persist() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.state); err != nil {
		return fmt.Errorf("walstore: encode: %w", err)
	}
	data := buf.Bytes()
	crc := crc32.ChecksumIEEE(data)

	header := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint32(header[:4], crc)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := s.file.Truncate(0); err != nil {
		return err
	}
	if _, err := s.file.Write(header); err != nil {
		return err
	}
	if _, err := s.file.Write(data); err != nil {
		return err
	}
	return s.file.Sync()
}

// Close releases the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// -- raft.NodeStore ------------------------------------------------------

func (s *Store) Load() (raft.Term, *raft.NodeId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.state.HasVoted {
		return s.state.CurrentTerm, nil, nil
	}
	id := s.state.VotedFor
	return s.state.CurrentTerm, &id, nil
}

func (s *Store) Save(term raft.Term, votedFor *raft.NodeId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CurrentTerm = term
	if votedFor == nil {
		s.state.HasVoted = false
		s.state.VotedFor = ""
	} else {
		s.state.HasVoted = true
		s.state.VotedFor = *votedFor
	}
	return s.persist()
}

// -- raft.Log --------------------------------------------------------

func (s *Store) LastIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastIndexLocked()
}

func (s *Store) lastIndexLocked() uint64 {
	if n := len(s.state.Entries); n > 0 {
		return s.state.Entries[n-1].Index
	}
	return s.state.SnapshotIndex
}

func (s *Store) LastTerm() raft.Term {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := len(s.state.Entries); n > 0 {
		return s.state.Entries[n-1].Term
	}
	return s.state.SnapshotTerm
}

func (s *Store) TermAt(index uint64) (raft.Term, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index == s.state.SnapshotIndex {
		return s.state.SnapshotTerm, true
	}
	for _, e := range s.state.Entries {
		if e.Index == index {
			return e.Term, true
		}
	}
	return 0, false
}

func (s *Store) EntriesFrom(from uint64) []raft.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]raft.LogEntry, 0, len(s.state.Entries))
	for _, e := range s.state.Entries {
		if e.Index >= from {
			out = append(out, e)
		}
	}
	return out
}

// Append drops every existing entry at or after the first appended entry's
// index, then appends. A GroupConfigEntryBatchRemoved event is published
// for each dropped AddNode/RemoveNode entry, and a
// GroupConfigEntryFromLeaderAppend event for each appended one, whoever
// the caller is.
func (s *Store) Append(entries ...raft.LogEntry) (uint64, error) {
	if len(entries) == 0 {
		s.mu.RLock()
		last := s.lastIndexLocked()
		s.mu.RUnlock()
		return last, nil
	}
	s.mu.Lock()
	firstNewIndex := entries[0].Index
	cut := len(s.state.Entries)
	for i, e := range s.state.Entries {
		if e.Index >= firstNewIndex {
			cut = i
			break
		}
	}
	truncated := append([]raft.LogEntry(nil), s.state.Entries[cut:]...)
	s.state.Entries = append(s.state.Entries[:cut], entries...)
	if err := s.persist(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	last := s.lastIndexLocked()
	s.mu.Unlock()

	for _, e := range truncated {
		if e.Kind == raft.EntryAddNode || e.Kind == raft.EntryRemoveNode {
			payload, err := raft.DecodeGroupConfigPayload(e.Payload)
			if err != nil {
				continue
			}
			s.publish(raft.LogEvent{
				Kind:             raft.GroupConfigEntryBatchRemoved,
				Entry:            e,
				PreChangeMembers: payload.PreChangeMembers,
			})
		}
	}
	for _, e := range entries {
		if e.Kind == raft.EntryAddNode || e.Kind == raft.EntryRemoveNode {
			s.publish(raft.LogEvent{Kind: raft.GroupConfigEntryFromLeaderAppend, Entry: e})
		}
	}
	return last, nil
}

func (s *Store) CommitIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.CommitIndex
}

func (s *Store) SetCommitIndex(index uint64) {
	s.mu.Lock()
	if index <= s.state.CommitIndex {
		s.mu.Unlock()
		return
	}
	prev := s.state.CommitIndex
	s.state.CommitIndex = index
	var newlyCommitted []raft.LogEntry
	for _, e := range s.state.Entries {
		if e.Index > prev && e.Index <= index {
			newlyCommitted = append(newlyCommitted, e)
		}
	}
	s.mu.Unlock()

	for _, e := range newlyCommitted {
		if e.Kind == raft.EntryAddNode || e.Kind == raft.EntryRemoveNode {
			s.publish(raft.LogEvent{Kind: raft.GroupConfigEntryCommitted, Entry: e})
		}
	}
}

func (s *Store) SnapshotIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SnapshotIndex
}

func (s *Store) SnapshotTerm() raft.Term {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SnapshotTerm
}

func (s *Store) SnapshotData() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SnapshotData
}

// InstallSnapshot discards log entries at or before lastIncludedIndex and
// installs the snapshot boundary. Used both when a follower receives a
// leader's InstallSnapshot RPC and when the node compacts its own log (see
// CompactIfNeeded).
func (s *Store) InstallSnapshot(lastIncludedIndex uint64, lastIncludedTerm raft.Term, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastIncludedIndex <= s.state.SnapshotIndex {
		return nil
	}
	var kept []raft.LogEntry
	for _, e := range s.state.Entries {
		if e.Index > lastIncludedIndex {
			kept = append(kept, e)
		}
	}
	s.state.Entries = kept
	s.state.SnapshotIndex = lastIncludedIndex
	s.state.SnapshotTerm = lastIncludedTerm
	s.state.SnapshotData = data
	if s.state.CommitIndex < lastIncludedIndex {
		s.state.CommitIndex = lastIncludedIndex
	}
	return s.persist()
}

// CompactIfNeeded takes a fresh snapshot from snapshotData (typically the
// state machine's serialized contents) once the log has grown past
// threshold entries, mirroring the teacher's wal.Size() >
// SnapshotThreshold trigger.
func (s *Store) CompactIfNeeded(threshold int, snapshotData func() []byte) error {
	s.mu.RLock()
	n := len(s.state.Entries)
	commit := s.state.CommitIndex
	s.mu.RUnlock()
	if threshold <= 0 || n <= threshold {
		return nil
	}
	term, ok := s.TermAt(commit)
	if !ok {
		return nil
	}
	return s.InstallSnapshot(commit, term, snapshotData())
}

func (s *Store) Events() <-chan raft.LogEvent { return s.events }

// publish blocks until the event is queued. Group config changes are rare
// (at most one in flight at a time, per the core's own invariant), so the
// buffered channel essentially never fills; blocking here rather than
// dropping keeps the committed/reverted signal that membership tasks wait
// on from ever being silently lost.
func (s *Store) publish(ev raft.LogEvent) {
	s.events <- ev
}
