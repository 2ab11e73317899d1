package errs

import (
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
)

func TestIsMatchesOwnKind(t *testing.T) {
	err := New(NotFound, "storage.Get", "key missing")
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Conflict))
}

func TestIsInteropsWithErrdefs(t *testing.T) {
	err := New(NotFound, "storage.Get", "key missing")
	assert.True(t, errdefs.IsNotFound(err))
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestWithDetails(t *testing.T) {
	err := New(HistoryTrimmed, "storage.GetAt", "version trimmed").
		WithDetails("earliest_retained", uint64(42))
	assert.Equal(t, uint64(42), err.Details["earliest_retained"])
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(IO, "wal.Append", "fsync failed", cause)
	assert.ErrorIs(t, err, cause)
}
