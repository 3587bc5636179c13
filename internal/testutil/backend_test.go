package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/save"
)

func TestScriptedBackend_ScriptThenSuccess(t *testing.T) {
	b := NewScriptedBackend()
	timeout := save.NewError(save.CategoryTimeout, "request timed out")
	b.Enqueue("budget", timeout)

	ctx := context.Background()
	assert.Equal(t, timeout, b.WriteField(ctx, "rec-1", "budget", 100))
	require.NoError(t, b.WriteField(ctx, "rec-1", "budget", 100))
	require.NoError(t, b.WriteField(ctx, "rec-1", "title", "x"))

	assert.Len(t, b.Writes(), 3)
	assert.Len(t, b.WritesFor("budget"), 2)

	v, ok := b.Value("rec-1", "budget")
	require.True(t, ok)
	assert.Equal(t, 100, v)
}

func TestScriptedBackend_ReadRecord(t *testing.T) {
	b := NewScriptedBackend()
	_, err := b.ReadRecord(context.Background(), "rec-1")
	assert.Equal(t, save.CategoryNotFound, save.CategoryOf(err))

	b.Seed("rec-1", map[string]any{"title": "Roads"})
	fields, err := b.ReadRecord(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Roads"}, fields)

	b.FailReads(save.NewError(save.CategoryServer, "boom"))
	_, err = b.ReadRecord(context.Background(), "rec-1")
	assert.Equal(t, save.CategoryServer, save.CategoryOf(err))
}
