package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/corterra/answerd/internal/merge"
)

func newTestLayer(t *testing.T) *RedisLayer {
	t.Helper()
	mr := miniredis.RunT(t)
	l2, err := NewRedisLayer(mr.Addr(), time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)
	return l2
}

func TestRedisLayerRoundTrip(t *testing.T) {
	l2 := newTestLayer(t)

	res := merge.Result{
		Text:       "hash tables store key value pairs",
		Confidence: 0.82,
		Strategy:   merge.StrategyComplementary,
		Provenance: []merge.Provenance{{Type: "local", Score: 0.9, SourceID: "doc-a"}},
	}
	l2.set("fp1", res)

	got, ok := l2.get("fp1")
	require.True(t, ok)
	assert.Equal(t, res, got)

	_, ok = l2.get("missing")
	assert.False(t, ok)
}

func TestRedisLayerUnreachable(t *testing.T) {
	_, err := NewRedisLayer("127.0.0.1:1", time.Hour, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestStoreHydratesFromRedis(t *testing.T) {
	l2 := newTestLayer(t)
	res := merge.Result{Text: "shared answer", Confidence: 0.7}
	l2.set("fp", res)

	s := newTestStore(t, time.Hour)
	s.AttachRedis(l2)

	// Local miss falls through to the shared layer and hydrates the map
	got, ok := s.Get("fp")
	require.True(t, ok)
	assert.Equal(t, res.Text, got.Text)
	assert.Equal(t, 1, s.Len())
}

func TestStoreWritesThroughToRedis(t *testing.T) {
	l2 := newTestLayer(t)
	s := newTestStore(t, time.Hour)
	s.AttachRedis(l2)

	s.Put("fp", merge.Result{Text: "answer", Confidence: 0.9})

	got, ok := l2.get("fp")
	require.True(t, ok)
	assert.Equal(t, "answer", got.Text)
}
