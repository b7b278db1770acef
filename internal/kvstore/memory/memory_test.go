package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfs/keyfs/internal/config"
	"github.com/keyfs/keyfs/internal/fserrors"
	"github.com/keyfs/keyfs/internal/kvstore"
)

func TestBufferedWritesApplyOnCommit(t *testing.T) {
	ctx := context.Background()
	s := New(config.MemoryConfig{})

	tx, err := s.Begin(ctx, kvstore.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, "k", []byte("v"), true))

	// Not visible to other transactions before commit.
	other, err := s.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	_, found, err := other.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, other.Commit(ctx))

	// Visible to the writing transaction itself.
	v, found, err := tx.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, tx.Commit(ctx))

	after, err := s.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	v, found, err = after.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)
	require.NoError(t, after.Commit(ctx))
}

func TestAbortDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New(config.MemoryConfig{})

	tx, err := s.Begin(ctx, kvstore.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, "k", []byte("v"), true))
	require.NoError(t, tx.Abort(ctx))

	check, err := s.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	_, found, err := check.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, check.Commit(ctx))
}

func TestAbsentVersusEmpty(t *testing.T) {
	ctx := context.Background()
	s := New(config.MemoryConfig{})

	tx, err := s.Begin(ctx, kvstore.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, "empty", []byte{}, true))
	require.NoError(t, tx.Commit(ctx))

	check, err := s.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)

	v, found, err := check.Get(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, v)

	_, found, err = check.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, check.Commit(ctx))
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := New(config.MemoryConfig{})

	tx, err := s.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)

	err = tx.Put(ctx, "k", []byte("v"), true)
	assert.Equal(t, fserrors.KindInvalidArgument, fserrors.KindOf(err))

	err = tx.Delete(ctx, "k")
	assert.Equal(t, fserrors.KindInvalidArgument, fserrors.KindOf(err))

	require.NoError(t, tx.Commit(ctx))
}

func TestDeleteAbsentIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := New(config.MemoryConfig{})

	tx, err := s.Begin(ctx, kvstore.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, "never-existed"))
	require.NoError(t, tx.Commit(ctx))
}

func TestQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	s := New(config.MemoryConfig{MaxBytes: 8})

	tx, err := s.Begin(ctx, kvstore.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, "big", make([]byte, 16), true))

	err = tx.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, fserrors.KindOutOfSpace, fserrors.KindOf(err))

	// The rejected commit left the store untouched.
	check, err := s.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	_, found, err := check.Get(ctx, "big")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, check.Commit(ctx))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := New(config.MemoryConfig{})

	tx, err := s.Begin(ctx, kvstore.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, "k", []byte("v"), true))
	require.NoError(t, tx.Commit(ctx))

	require.NoError(t, s.Clear(ctx))

	check, err := s.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	_, found, err := check.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, check.Commit(ctx))
}

func TestFinishedTransactionRejectsUse(t *testing.T) {
	ctx := context.Background()
	s := New(config.MemoryConfig{})

	tx, err := s.Begin(ctx, kvstore.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, _, err = tx.Get(ctx, "k")
	assert.Equal(t, fserrors.KindInvalidArgument, fserrors.KindOf(err))

	err = tx.Commit(ctx)
	assert.Equal(t, fserrors.KindInvalidArgument, fserrors.KindOf(err))
}
