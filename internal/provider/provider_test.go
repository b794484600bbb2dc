package provider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/exchange"
	"marketdata/internal/symbolconfig"
)

func krakenOnlySymbol(t *testing.T) *symbolconfig.Symbol {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "symbol.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"symbol": "BTCUSD", "mapping": {"kraken": "XBTUSD"}}`), 0o644))
	sym, err := symbolconfig.Load(path, []exchange.Tag{exchange.Kraken}, 5)
	require.NoError(t, err)
	return sym
}

func TestNewBuildsOneSubscriberPerSource(t *testing.T) {
	p, err := New(krakenOnlySymbol(t))
	require.NoError(t, err)
	assert.Len(t, p.subscribers, 1)
	_, ok := p.subscribers[exchange.Kraken]
	assert.True(t, ok)
}

func TestNewFailsWhenDumpEnabledWithoutPath(t *testing.T) {
	_, err := New(krakenOnlySymbol(t), func(o *Options) error {
		return set(o, "DumpEnabled", true)
	})
	assert.Error(t, err)
}

func TestBookHandlerForwardsToUserCallbackWithDumpEnabled(t *testing.T) {
	dumpPath := t.TempDir()
	var events []BookEvent
	p, err := New(krakenOnlySymbol(t),
		OptionDump(true, dumpPath, 480),
		OptionBookSubscriber(func(e BookEvent) { events = append(events, e) }),
	)
	require.NoError(t, err)
	defer p.Close()

	p.bookHandler(exchange.Kraken)(exchange.BookUpdate{
		Symbol: "XBTUSD",
		Bids:   map[float64]float64{100: 1, 99: 2},
		Asks:   map[float64]float64{101: 3, 102: 4},
	})

	require.Len(t, events, 1)
	assert.Equal(t, exchange.Kraken, events[0].Exchange)
	assert.Equal(t, 1.0, events[0].Bids[100.0])
}

func TestTradeHandlerForwardsTradeWithoutDumpQueue(t *testing.T) {
	var trades []TradeEvent
	p, err := New(krakenOnlySymbol(t),
		OptionTradeSubscriber(func(e TradeEvent) { trades = append(trades, e) }),
	)
	require.NoError(t, err)

	p.tradeHandler(exchange.Kraken)(exchange.Trade{
		Price: 100, Volume: 2, Taker: exchange.Sell,
	})
	require.Len(t, trades, 1)
	assert.Equal(t, exchange.Sell, trades[0].Taker)

	assert.Nil(t, p.tradeQueue, "no dump queue without OptionDump")
}

func TestEnableDumpingWritesQuoteAndTradeRecords(t *testing.T) {
	dumpPath := t.TempDir()
	p, err := New(krakenOnlySymbol(t), OptionDump(true, dumpPath, 480))
	require.NoError(t, err)

	p.bookHandler(exchange.Kraken)(exchange.BookUpdate{
		Symbol: "XBTUSD",
		Bids:   map[float64]float64{100: 1},
		Asks:   map[float64]float64{101: 1},
	})
	p.tradeHandler(exchange.Kraken)(exchange.Trade{
		Price: 100, Volume: 1, Taker: exchange.Buy,
	})
	p.Close()

	priceFiles, err := filepath.Glob(filepath.Join(dumpPath, "prices", "*.csv"))
	require.NoError(t, err)
	assert.Len(t, priceFiles, 1)

	tradeFiles, err := filepath.Glob(filepath.Join(dumpPath, "trades", "*.csv"))
	require.NoError(t, err)
	assert.Len(t, tradeFiles, 1)
}
