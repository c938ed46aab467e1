package memtransport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfsd-project/zfsd/internal/transport"
)

func TestPublishThenGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Publish(ctx, "zfs/k/0", []byte("hello")))

	got, err := s.Get(ctx, "zfs/k/0")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "zfs/nope")
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

func TestPublishDoesNotAliasCallerSlice(t *testing.T) {
	s := New()
	ctx := context.Background()
	data := []byte("original")
	require.NoError(t, s.Publish(ctx, "k", data))
	data[0] = 'X'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

func TestDroppedSimulatesLossyTransport(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, "k", []byte("v")))
	s.Dropped = func(key string) bool { return key == "k" }

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, transport.ErrNotFound)
	assert.True(t, s.Has("k"))
}
