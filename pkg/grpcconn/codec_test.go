package grpcconn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlpha/xraft/pkg/raft"
)

func TestGobCodecRoundTripsAppendEntriesArgs(t *testing.T) {
	args := raft.AppendEntriesArgs{
		Term:     4,
		LeaderId: raft.NodeId("n1"),
		Entries: []raft.LogEntry{
			{Index: 1, Term: 4, Kind: raft.EntryGeneral, Payload: []byte("x")},
		},
	}

	codec := gobCodec{}
	data, err := codec.Marshal(&args)
	require.NoError(t, err)

	var decoded raft.AppendEntriesArgs
	require.NoError(t, codec.Unmarshal(data, &decoded))
	require.Equal(t, args.Term, decoded.Term)
	require.Equal(t, args.LeaderId, decoded.LeaderId)
	require.Len(t, decoded.Entries, 1)
	require.Equal(t, args.Entries[0].Payload, decoded.Entries[0].Payload)
}

func TestGobCodecName(t *testing.T) {
	require.Equal(t, "gob", gobCodec{}.Name())
}
