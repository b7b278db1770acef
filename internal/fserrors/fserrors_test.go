package fserrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := E(KindNotFound, "engine.Test", "/a/b")
	assert.Equal(t, KindNotFound, KindOf(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindNotFound, KindOf(wrapped))

	assert.Equal(t, KindIOFailure, KindOf(errors.New("raw backend failure")))
}

func TestErrno(t *testing.T) {
	tests := []struct {
		kind Kind
		want int64
	}{
		{KindNotFound, ENOENT},
		{KindAlreadyExists, EEXIST},
		{KindNotADirectory, ENOTDIR},
		{KindIsADirectory, EISDIR},
		{KindNotEmpty, ENOTEMPTY},
		{KindPermissionDenied, EPERM},
		{KindOutOfSpace, ENOSPC},
		{KindInvalidArgument, EINVAL},
		{KindIOFailure, EIO},
		{KindUnknown, EIO},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.Errno(), tt.kind.String())
	}
}

func TestErrorMessage(t *testing.T) {
	err := E(KindNotEmpty, "engine.Engine.RemoveDir", "/d", errors.New("two entries"))
	msg := err.Error()
	assert.Contains(t, msg, "engine.Engine.RemoveDir")
	assert.Contains(t, msg, "/d")
	assert.Contains(t, msg, "directory not empty")
	assert.Contains(t, msg, "two entries")
}

func TestWrapPreservesKind(t *testing.T) {
	inner := E(KindOutOfSpace, "memory.tx.Commit", "")
	outer := Wrap("engine.Engine.WriteFile", inner)

	require.Error(t, outer)
	assert.Equal(t, KindOutOfSpace, KindOf(outer))
	assert.Contains(t, outer.Error(), "engine.Engine.WriteFile")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap("any.Op", nil))
}

func TestWrapUntranslated(t *testing.T) {
	err := Wrap("engine.Engine.Stat", errors.New("socket closed"))
	assert.Equal(t, KindIOFailure, KindOf(err))
}
