package raft

import "context"

// The methods in this file implement InboundHandler. Every one of them
// submits its work to the main serial executor per §4.8 and blocks the
// calling (transport) goroutine only on the executor's own queue, never on
// the network.

func (n *NodeImpl) OnReceiveRequestVote(_ context.Context, from NodeId, args RequestVoteArgs) RequestVoteResult {
	return callSync(n.exec, func() RequestVoteResult {
		n.anyTermBump(args.Term, nil)

		if args.Term < n.role.Term {
			return RequestVoteResult{Term: n.role.Term, VoteGranted: false}
		}
		st := n.group.GetState(args.CandidateId)
		if st == nil || !st.Major || args.CandidateId != from {
			return RequestVoteResult{Term: n.role.Term, VoteGranted: false}
		}
		votedOK := n.role.VotedFor == nil || *n.role.VotedFor == args.CandidateId
		logOK := isLogUpToDate(args.LastLogTerm, args.LastLogIndex, n.log.LastTerm(), n.log.LastIndex())
		if !votedOK || !logOK {
			return RequestVoteResult{Term: n.role.Term, VoteGranted: false}
		}
		if err := n.store.Save(args.Term, &args.CandidateId); err != nil {
			n.logger.Error("persisting vote failed")
			return RequestVoteResult{Term: n.role.Term, VoteGranted: false}
		}
		n.role.VotedFor = &args.CandidateId
		return RequestVoteResult{Term: n.role.Term, VoteGranted: true}
	})
}

func (n *NodeImpl) OnReceiveRequestVoteResult(_ context.Context, _ NodeId, result RequestVoteResult) {
	n.exec.Submit(func() {
		if n.anyTermBump(result.Term, nil) {
			return
		}
		if result.Term < n.role.Term {
			return
		}
		if n.role.Tag != RoleCandidate || result.Term != n.role.Term {
			return
		}
		if !result.VoteGranted {
			return
		}
		n.role.VotesCount++
		if n.role.VotesCount >= n.group.quorumSize() {
			n.becomeLeader(n.role.Term)
		}
	})
}

func (n *NodeImpl) OnReceiveAppendEntries(_ context.Context, _ NodeId, args AppendEntriesArgs) AppendEntriesResult {
	return callSync(n.exec, func() AppendEntriesResult {
		n.anyTermBump(args.Term, &args.LeaderId)

		reject := AppendEntriesResult{Term: n.role.Term, Success: false, PrevLogIndex: args.PrevLogIndex, EntryCount: len(args.Entries)}
		if args.Term < n.role.Term {
			return reject
		}
		switch n.role.Tag {
		case RoleCandidate:
			n.becomeFollower(args.Term, n.role.VotedFor, &args.LeaderId)
		case RoleLeader:
			// Defensive: two leaders cannot coexist at the same term.
			return reject
		default:
			n.role.LeaderId = &args.LeaderId
		}
		n.resetElectionTimer()

		if !n.matchesPrevLog(args.PrevLogIndex, args.PrevLogTerm) {
			return reject
		}
		if len(args.Entries) > 0 {
			if _, err := n.log.Append(args.Entries...); err != nil {
				n.logger.Error("log append failed")
				return reject
			}
		}
		lastNew := args.PrevLogIndex + uint64(len(args.Entries))
		if args.LeaderCommit > n.log.CommitIndex() {
			newCommit := args.LeaderCommit
			if lastNew < newCommit {
				newCommit = lastNew
			}
			n.log.SetCommitIndex(newCommit)
			n.applyCommittedEntries()
		}
		return AppendEntriesResult{Term: args.Term, Success: true, PrevLogIndex: args.PrevLogIndex, EntryCount: len(args.Entries)}
	})
}

func (n *NodeImpl) OnReceiveAppendEntriesResult(_ context.Context, from NodeId, result AppendEntriesResult) {
	n.exec.Submit(func() {
		if n.anyTermBump(result.Term, nil) {
			return
		}
		if n.role.Tag != RoleLeader || result.Term != n.role.Term {
			return
		}
		st := n.group.GetState(from)
		if st == nil {
			return
		}
		if st.Removing {
			st.Replicating.Replicating = false
			return
		}
		if result.Success {
			matchIdx := result.PrevLogIndex + uint64(result.EntryCount)
			if matchIdx > st.Replicating.MatchIndex {
				st.Replicating.MatchIndex = matchIdx
			}
			if st.Replicating.MatchIndex >= n.log.LastIndex() {
				st.Replicating.Replicating = false
			} else {
				st.Replicating.NextIndex = st.Replicating.MatchIndex + 1
				n.sendAppendEntriesTo(from, st)
			}
			n.recomputeCommitIndex()
			n.notifyMembershipProgress(from, st)
		} else {
			if st.Replicating.NextIndex > 1 {
				st.Replicating.NextIndex--
				n.sendAppendEntriesTo(from, st)
			} else {
				st.Replicating.Replicating = false
			}
		}
	})
}

func (n *NodeImpl) OnReceiveInstallSnapshot(_ context.Context, _ NodeId, args InstallSnapshotArgs) InstallSnapshotResult {
	return callSync(n.exec, func() InstallSnapshotResult {
		n.anyTermBump(args.Term, &args.LeaderId)
		if args.Term < n.role.Term {
			return InstallSnapshotResult{Term: n.role.Term, Done: false}
		}
		n.resetElectionTimer()
		if args.Done {
			if err := n.log.InstallSnapshot(args.LastIncludedIndex, args.LastIncludedTerm, args.Data); err != nil {
				n.logger.Error("install snapshot failed")
			}
		}
		return InstallSnapshotResult{Term: args.Term, Done: args.Done}
	})
}

func (n *NodeImpl) OnReceiveInstallSnapshotResult(_ context.Context, from NodeId, result InstallSnapshotResult) {
	n.exec.Submit(func() {
		if n.anyTermBump(result.Term, nil) {
			return
		}
		if n.role.Tag != RoleLeader || result.Term != n.role.Term {
			return
		}
		st := n.group.GetState(from)
		if st == nil {
			return
		}
		if st.Removing {
			st.Replicating.Replicating = false
			return
		}
		if result.Done {
			st.Replicating.NextIndex = st.Replicating.PendingSnapshotLastIndex + 1
			if st.Replicating.PendingSnapshotLastIndex > st.Replicating.MatchIndex {
				st.Replicating.MatchIndex = st.Replicating.PendingSnapshotLastIndex
			}
			st.Replicating.Replicating = false
			n.recomputeCommitIndex()
			n.notifyMembershipProgress(from, st)
		} else {
			n.sendInstallSnapshotTo(from, st)
		}
	})
}
