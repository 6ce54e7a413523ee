package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeaderRef(t *testing.T) {
	require.Equal(t, "none", NoLeader().String())
	require.False(t, NoLeader().Known)

	ref := KnownLeader("n2")
	require.True(t, ref.Known)
	require.Equal(t, "n2", ref.String())
}

func TestEntryConstructors(t *testing.T) {
	noop := NoOpEntry(3, 2)
	require.True(t, noop.IsNoOp())
	require.Empty(t, noop.Client)
	require.Nil(t, noop.Command)

	cmd := CommandEntry(4, 2, "c0", []byte(`x`))
	require.False(t, cmd.IsNoOp())
	require.Equal(t, ClientID("c0"), cmd.Client)
}

func TestEntryJSONRoundTrip(t *testing.T) {
	entry := CommandEntry(4, 2, "c0", []byte(`{"op":"set"}`))
	raw, err := json.Marshal(entry)
	require.NoError(t, err)

	var got Entry
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, entry, got)

	// No-op entries keep their empty fields off the wire.
	raw, err = json.Marshal(NoOpEntry(1, 1))
	require.NoError(t, err)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.NotContains(t, fields, "client")
	require.NotContains(t, fields, "command")
}
