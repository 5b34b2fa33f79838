package tables

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bbtraining/checkout-api/internal/cache"
)

type stubSource struct {
	snap  Snapshot
	err   error
	calls int
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(context.Context) (Snapshot, error) {
	s.calls++
	return s.snap, s.err
}

func TestLoaderCurrentBeforeLoadIsEmptyWithWarning(t *testing.T) {
	l := NewLoader(&stubSource{}, nil, zerolog.Nop())
	snap := l.Current()
	require.True(t, snap.Empty())
	require.NotEmpty(t, snap.Warnings)
	require.ErrorIs(t, l.Ready(context.Background()), ErrNoSnapshot)
}

func TestLoaderKeepsLastGoodSnapshot(t *testing.T) {
	good, err := DecodeYAML([]byte(sampleYAML))
	require.NoError(t, err)
	src := &stubSource{snap: good}
	l := NewLoader(src, nil, zerolog.Nop())

	require.NoError(t, l.Load(context.Background()))
	require.NoError(t, l.Ready(context.Background()))
	first := l.Current()

	src.err = errors.New("backend down")
	require.Error(t, l.Refresh(context.Background()))
	require.Same(t, first, l.Current())
}

func TestLoaderPrimesFromRedisWhenSourceFails(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewJSON(client, time.Hour)

	good, err := DecodeYAML([]byte(sampleYAML))
	require.NoError(t, err)
	warm := NewLoader(&stubSource{snap: good}, c, zerolog.Nop())
	require.NoError(t, warm.Load(context.Background()))

	cold := NewLoader(&stubSource{err: errors.New("backend down")}, c, zerolog.Nop())
	require.NoError(t, cold.Load(context.Background()))
	require.Len(t, cold.Current().TaxRates, 2)
}

func TestLoaderLoadFailsWithNothingToServe(t *testing.T) {
	l := NewLoader(&stubSource{err: errors.New("backend down")}, nil, zerolog.Nop())
	require.Error(t, l.Load(context.Background()))
}
