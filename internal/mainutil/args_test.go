package mainutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeEmptyAndSentinelsReturnZero(t *testing.T) {
	for _, s := range []string{"", "-", "0"} {
		tm, err := ParseTime(s)
		require.NoError(t, err)
		assert.True(t, tm.IsZero())
	}
}

func TestParseTimeAcceptsDateOnly(t *testing.T) {
	tm, err := ParseTime("2023-06-01")
	require.NoError(t, err)
	assert.Equal(t, 2023, tm.Year())
	assert.Equal(t, 6, int(tm.Month()))
	assert.Equal(t, 1, tm.Day())
}

func TestParseTimeAcceptsDateAndTimeWithTSeparator(t *testing.T) {
	tm, err := ParseTime("2023-06-01T15:04:05")
	require.NoError(t, err)
	assert.Equal(t, 15, tm.Hour())
	assert.Equal(t, 4, tm.Minute())
	assert.Equal(t, 5, tm.Second())
}
