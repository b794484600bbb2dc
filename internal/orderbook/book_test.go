package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetBidAskAndZeroVolumeRemoves(t *testing.T) {
	b := New()
	b.SetBid(100, 1)
	b.SetBid(99, 2)
	require.Equal(t, 100.0, b.BestBid())

	b.SetBid(100, 0)
	require.Equal(t, 99.0, b.BestBid())
	_, ok := b.Bids[100]
	assert.False(t, ok, "zero-volume update should remove the level")
}

func TestConsistentRequiresBothSidesAndNonCrossed(t *testing.T) {
	b := New()
	assert.False(t, b.Consistent(), "empty book is never consistent")

	b.SetBid(100, 1)
	assert.False(t, b.Consistent(), "one-sided book is never consistent")

	b.SetAsk(99, 1)
	assert.False(t, b.Consistent(), "crossed book (bid > ask) is inconsistent")

	b.SetAsk(99, 0)
	b.SetAsk(101, 1)
	assert.True(t, b.Consistent())
}

func TestHandleIfConsistentInvokesCallbackOnlyWhenConsistent(t *testing.T) {
	b := New()
	b.SetBid(100, 1)

	called := false
	ok := b.HandleIfConsistent(func(bids, asks map[float64]float64) { called = true })
	assert.False(t, ok)
	assert.False(t, called)

	b.SetAsk(101, 1)
	ok = b.HandleIfConsistent(func(bids, asks map[float64]float64) { called = true })
	assert.True(t, ok)
	assert.True(t, called)
}

func TestResetClearsBothSides(t *testing.T) {
	b := New()
	b.SetBid(100, 1)
	b.SetAsk(101, 1)
	b.Reset()
	assert.Empty(t, b.Bids)
	assert.Empty(t, b.Asks)
}

func TestTopLevelsOrdersAndTruncates(t *testing.T) {
	bids := map[float64]float64{100: 1, 102: 2, 101: 3}
	levels := TopLevels(bids, 2, true)
	require.Len(t, levels, 2)
	assert.Equal(t, 102.0, levels[0].Price)
	assert.Equal(t, 101.0, levels[1].Price)

	asks := map[float64]float64{105: 1, 103: 2, 104: 3}
	levels = TopLevels(asks, 2, false)
	require.Len(t, levels, 2)
	assert.Equal(t, 103.0, levels[0].Price)
	assert.Equal(t, 104.0, levels[1].Price)
}
