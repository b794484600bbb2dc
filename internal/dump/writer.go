// Package dump implements a CSV dump pipeline: bounded producer/consumer
// queues draining into time-sharded, append-mode CSV files, one pair of
// files (prices, trades) per symbol.
package dump

import (
	"fmt"
	"os"
	"path/filepath"

	"marketdata/internal/common/timestamp"
	"marketdata/internal/exchange"
)

// QuoteRecord is one row of the prices CSV: top-depth bids/asks interleaved
// starting from the best.
type QuoteRecord struct {
	Exchange  exchange.Tag
	Timestamp timestamp.Timestamp
	Levels    []QuoteLevel
}

// QuoteLevel is one (bid, ask) pair at a given depth rank.
type QuoteLevel struct {
	BidPrice, BidVolume float64
	AskPrice, AskVolume float64
}

// TradeRecord is one row of the trades CSV.
type TradeRecord struct {
	Exchange     exchange.Tag
	Price        float64
	SignedVolume float64
	Timestamp    timestamp.Timestamp
}

// BlockWriter appends records to <dumpPath>/<kind>/<symbol>_<block>.csv,
// closing and reopening the file exactly when the block index of
// consecutive records changes.
type BlockWriter struct {
	dir           string
	symbol        string
	blockDuration int64 // nanoseconds
	dumpStart     timestamp.Timestamp

	currentBlock int64
	file         *os.File
}

// NewBlockWriter constructs a BlockWriter rooted at <dumpPath>/<kind>/,
// creating the directory on demand.
func NewBlockWriter(dumpPath, kind, symbol string, blockDurationMinutes int, dumpStart timestamp.Timestamp) (*BlockWriter, error) {
	dir := filepath.Join(dumpPath, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}
	return &BlockWriter{
		dir:           dir,
		symbol:        symbol,
		blockDuration: int64(blockDurationMinutes) * 60_000_000_000,
		dumpStart:     dumpStart,
		currentBlock:  -1,
	}, nil
}

// BlockIndex computes the block index of ts relative to dumpStart: (ts - dumpStart) / period when positive, else 0.
func (w *BlockWriter) BlockIndex(ts timestamp.Timestamp) int64 {
	delta := int64(ts) - int64(w.dumpStart)
	if delta <= 0 || w.blockDuration <= 0 {
		return 0
	}
	return delta / w.blockDuration
}

// WriteLine appends line (without trailing newline) to the file for the
// given block index, rotating files if the block index changed since the
// last write. One consumer goroutine drives a given BlockWriter, so no
// locking is needed around the write; Sync forces it past the OS page
// cache before returning.
func (w *BlockWriter) WriteLine(block int64, line string) error {
	if w.file == nil || block != w.currentBlock {
		if err := w.rotate(block); err != nil {
			return err
		}
	}
	if _, err := w.file.WriteString(line + "\n"); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *BlockWriter) rotate(block int64) error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%d.csv", w.symbol, block))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("dump: open %s: %w", path, err)
	}
	w.file = f
	w.currentBlock = block
	return nil
}

// Close closes the currently open file, if any.
func (w *BlockWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// FormatQuoteLine renders a QuoteRecord as a prices CSV line:
// "exchange,ts_µs,bid1,bidv1,ask1,askv1,...".
func FormatQuoteLine(r QuoteRecord) string {
	line := fmt.Sprintf("%s,%d", r.Exchange, r.Timestamp.UnixMicro())
	for _, lvl := range r.Levels {
		line += fmt.Sprintf(",%s,%s,%s,%s",
			formatPrice(lvl.BidPrice), formatVolume(lvl.BidVolume),
			formatPrice(lvl.AskPrice), formatVolume(lvl.AskVolume))
	}
	return line
}

// FormatTradeLine renders a TradeRecord as a trades CSV line:
// "exchange,price,signed_volume,ts_µs".
func FormatTradeLine(r TradeRecord) string {
	return fmt.Sprintf("%s,%s,%s,%d",
		r.Exchange, formatPrice(r.Price), formatVolume(r.SignedVolume), r.Timestamp.UnixMicro())
}
