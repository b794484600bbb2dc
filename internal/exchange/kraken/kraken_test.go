package kraken

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/exchange"
)

func TestPollBookParsesDepthAndEmitsOnConsistency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"error": [],
			"result": {
				"XXBTZUSD": {
					"bids": [["30000.1", "0.5", 1685620800]],
					"asks": [["30001.2", "0.25", 1685620800]]
				}
			}
		}`)
	}))
	defer srv.Close()

	var got []exchange.BookUpdate
	s := New("XBTUSD", exchange.Config{
		Depth:  10,
		OnBook: func(u exchange.BookUpdate) { got = append(got, u) },
	}, WithBaseURL(srv.URL))

	require.NoError(t, s.pollBook(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, 0.5, got[0].Bids[30000.1])
	assert.Equal(t, 0.25, got[0].Asks[30001.2])
}

func TestPollBookErrorArrayFailsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": ["EGeneral:Invalid arguments"], "result": {}}`)
	}))
	defer srv.Close()

	s := New("XBTUSD", exchange.Config{}, WithBaseURL(srv.URL))
	err := s.pollBook(context.Background())
	assert.Error(t, err)
}

func TestPollTradesBootstrapSuppressesFirstEmission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"error": [],
			"result": {
				"XXBTZUSD": [["30000.0", "0.1", 1685620800.123, "b", "m", ""]],
				"last": "1685620800123456789"
			}
		}`)
	}))
	defer srv.Close()

	var trades []exchange.Trade
	s := New("XBTUSD", exchange.Config{
		OnTrade: func(tr exchange.Trade) { trades = append(trades, tr) },
	}, WithBaseURL(srv.URL))

	require.NoError(t, s.pollTrades(context.Background()))
	assert.Empty(t, trades, "the very first poll must not emit trades")

	require.NoError(t, s.pollTrades(context.Background()))
	require.Len(t, trades, 1, "subsequent polls emit market trades")
	assert.Equal(t, exchange.Buy, trades[0].Taker)
	assert.Equal(t, 0.1, trades[0].Volume)
}

func TestPollTradesSkipsLimitOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"error": [],
			"result": {
				"XXBTZUSD": [["30000.0", "0.1", 1685620800.0, "b", "l", ""]],
				"last": "1"
			}
		}`)
	}))
	defer srv.Close()

	var trades []exchange.Trade
	s := New("XBTUSD", exchange.Config{
		OnTrade: func(tr exchange.Trade) { trades = append(trades, tr) },
	}, WithBaseURL(srv.URL))
	s.bootstrap = false

	require.NoError(t, s.pollTrades(context.Background()))
	assert.Empty(t, trades, "ord != \"m\" is not a market trade")
}

func TestWithPollPeriodOverridesDefault(t *testing.T) {
	s := New("XBTUSD", exchange.Config{}, WithPollPeriod(5*time.Second))
	assert.Equal(t, 5*time.Second, s.pollPeriod)
}
