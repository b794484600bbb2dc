package dump

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/common/timestamp"
	"marketdata/internal/exchange"
)

func TestBlockIndexClampsNonPositiveToZero(t *testing.T) {
	w, err := NewBlockWriter(t.TempDir(), "prices", "BTCUSD", 480, timestamp.Timestamp(1_000_000_000))
	require.NoError(t, err)

	assert.Equal(t, int64(0), w.BlockIndex(timestamp.Timestamp(500_000_000)))
	assert.Equal(t, int64(0), w.BlockIndex(timestamp.Timestamp(1_000_000_000)))

	period := int64(480) * 60_000_000_000
	assert.Equal(t, int64(1), w.BlockIndex(timestamp.Timestamp(1_000_000_000+period)))
	assert.Equal(t, int64(2), w.BlockIndex(timestamp.Timestamp(1_000_000_000+2*period+1)))
}

func TestWriteLineRotatesFilesOnBlockChange(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBlockWriter(dir, "prices", "BTCUSD", 480, 0)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteLine(0, "line-a"))
	require.NoError(t, w.WriteLine(0, "line-b"))
	require.NoError(t, w.WriteLine(1, "line-c"))

	block0, err := os.ReadFile(filepath.Join(dir, "prices", "BTCUSD_0.csv"))
	require.NoError(t, err)
	assert.Equal(t, "line-a\nline-b\n", string(block0))

	block1, err := os.ReadFile(filepath.Join(dir, "prices", "BTCUSD_1.csv"))
	require.NoError(t, err)
	assert.Equal(t, "line-c\n", string(block1))
}

func TestFormatQuoteLine(t *testing.T) {
	rec := QuoteRecord{
		Exchange:  exchange.Coinbase,
		Timestamp: timestamp.Timestamp(1_620_000_000_000_000),
		Levels: []QuoteLevel{
			{BidPrice: 100.5, BidVolume: 1.23456789, AskPrice: 100.75, AskVolume: 0.5},
		},
	}
	assert.Equal(t, "coinbase,1620000000000,100.50,1.23456789,100.75,0.50000000", FormatQuoteLine(rec))
}

func TestFormatTradeLine(t *testing.T) {
	rec := TradeRecord{
		Exchange:     exchange.Bitmex,
		Price:        30000.1,
		SignedVolume: -0.25,
		Timestamp:    timestamp.Timestamp(42_000),
	}
	assert.Equal(t, "bitmex,30000.10,-0.25000000,42", FormatTradeLine(rec))
}
