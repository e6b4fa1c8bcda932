package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand_Empty(t *testing.T) {
	opts := newTestOptions(t, "text")

	out := mustExecute(t, NewStatusCommand, opts)
	assert.Equal(t, "No shards.\n", out)
}

func TestStatusCommand_JSON(t *testing.T) {
	opts := newTestOptions(t, "json")
	mustExecute(t, NewStageCommand, opts, "0", aggA, "1")
	mustExecute(t, NewStageCommand, opts, "0", aggA, "2")
	mustExecute(t, NewPromoteCommand, opts, "--shard", "0", "--limit", "1")
	mustExecute(t, NewStageCommand, opts, "4", aggB, "1")

	out := mustExecute(t, NewStatusCommand, opts)
	var res StatusResult
	decodeData(t, out, &res)

	assert.Equal(t, opts.Database, res.Database)
	require.Len(t, res.Shards, 2)

	s0 := res.Shards[0]
	assert.Equal(t, 0, s0.Shard)
	assert.Equal(t, int64(1), s0.Feed)
	assert.Equal(t, int64(1), s0.Pending)
	assert.Positive(t, s0.ChangeSeq)
	require.NotNil(t, s0.Head)
	assert.False(t, s0.Head.IsZero())

	s4 := res.Shards[1]
	assert.Equal(t, 4, s4.Shard)
	assert.Equal(t, int64(0), s4.Feed)
	assert.Equal(t, int64(1), s4.Pending)
	assert.Nil(t, s4.Head)
}

func TestStatusCommand_Table(t *testing.T) {
	opts := newTestOptions(t, "text")
	mustExecute(t, NewStageCommand, opts, "2", aggA, "1")

	out := mustExecute(t, NewStatusCommand, opts)
	assert.Contains(t, out, "SHARD")
	assert.Contains(t, out, "PENDING")
	assert.Regexp(t, `(?m)^2\s+0\s+1\s+\d+\s+-$`, out)
}

func TestStatusCommand_RejectsArgs(t *testing.T) {
	_, err := execute(t, NewStatusCommand, newTestOptions(t, "text"), "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}
