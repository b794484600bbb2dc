package bitmex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/exchange"
)

func TestOrderBook10UpdateComputesVolumeFromNotional(t *testing.T) {
	var got []exchange.BookUpdate
	sub := New("XBTUSD", exchange.Config{
		OnBook: func(u exchange.BookUpdate) { got = append(got, u) },
	})

	msg := []byte(`{
		"table": "orderBook10",
		"action": "update",
		"data": [{
			"symbol": "XBTUSD",
			"bids": [[30000, 300000]],
			"asks": [[30100, 602000]]
		}]
	}`)
	require.NoError(t, sub.readHandler(msg))
	require.Len(t, got, 1)
	assert.InDelta(t, 10.0, got[0].Bids[30000.0], 1e-9, "volume = notional / price")
	assert.InDelta(t, 20.0, got[0].Asks[30100.0], 1e-9)
}

func TestOrderBook10IgnoresNonUpdateActions(t *testing.T) {
	var called bool
	sub := New("XBTUSD", exchange.Config{
		OnBook: func(u exchange.BookUpdate) { called = true },
	})
	msg := []byte(`{
		"table": "orderBook10",
		"action": "partial",
		"data": [{"symbol": "XBTUSD", "bids": [[30000, 300000]], "asks": [[30100, 602000]]}]
	}`)
	require.NoError(t, sub.readHandler(msg))
	assert.False(t, called)
}

func TestTradeUsesHomeNotionalAndFirstCharSide(t *testing.T) {
	var trades []exchange.Trade
	sub := New("XBTUSD", exchange.Config{
		OnTrade: func(tr exchange.Trade) { trades = append(trades, tr) },
	})

	msg := []byte(`{
		"table": "trade",
		"action": "insert",
		"data": [{
			"symbol": "XBTUSD",
			"price": 30000.5,
			"homeNotional": 1.25,
			"side": "Sell",
			"timestamp": "2023-06-01T12:00:00.500Z"
		}]
	}`)
	require.NoError(t, sub.readHandler(msg))
	require.Len(t, trades, 1)
	assert.Equal(t, exchange.Sell, trades[0].Taker)
	assert.Equal(t, 1.25, trades[0].Volume)
	assert.Equal(t, 30000.5, trades[0].Price)
}

func TestSubscribeAckTakesChannelPrefix(t *testing.T) {
	sub := New("XBTUSD", exchange.Config{})
	msg := []byte(`{"success": true, "subscribe": "orderBook10:XBTUSD"}`)
	require.NoError(t, sub.readHandler(msg))

	sub.mu.Lock()
	subscribed := sub.subscribed["orderBook10:XBTUSD"]
	sub.mu.Unlock()
	assert.True(t, subscribed)
}

func TestInfoMessageSetsInitReceived(t *testing.T) {
	sub := New("XBTUSD", exchange.Config{})
	assert.False(t, sub.InitReceived())
	require.NoError(t, sub.readHandler([]byte(`{"info": "Welcome", "version": "1.2.0"}`)))
	assert.True(t, sub.InitReceived())
}
