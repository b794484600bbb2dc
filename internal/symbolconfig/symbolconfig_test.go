package symbolconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/exchange"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "symbol.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFiltersByAllowedExchanges(t *testing.T) {
	path := writeConfig(t, `{
		"symbol": "BTCUSD",
		"mapping": {
			"coinbase": "BTC-USD",
			"bitfinex": "tBTCUSD",
			"kraken": "XBTUSD",
			"bitmex": "XBTUSD"
		}
	}`)

	sym, err := Load(path, []exchange.Tag{exchange.Coinbase, exchange.Bitfinex}, 10)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSD", sym.DisplayName)
	assert.Len(t, sym.Sources, 2)
	assert.Equal(t, "BTC-USD", sym.Sources[exchange.Coinbase].Name)
	assert.Equal(t, 10, sym.Sources[exchange.Coinbase].Depth)
	_, hasKraken := sym.Sources[exchange.Kraken]
	assert.False(t, hasKraken)
}

func TestLoadFailsWhenNothingSurvivesFilter(t *testing.T) {
	path := writeConfig(t, `{"symbol": "BTCUSD", "mapping": {"kraken": "XBTUSD"}}`)
	_, err := Load(path, []exchange.Tag{exchange.Coinbase}, 10)
	assert.Error(t, err)
}

func TestLoadRejectsMissingSymbolOrEmptyMapping(t *testing.T) {
	path := writeConfig(t, `{"symbol": "", "mapping": {"coinbase": "BTC-USD"}}`)
	_, err := Load(path, []exchange.Tag{exchange.Coinbase}, 10)
	assert.Error(t, err)

	path = writeConfig(t, `{"symbol": "BTCUSD", "mapping": {}}`)
	_, err = Load(path, []exchange.Tag{exchange.Coinbase}, 10)
	assert.Error(t, err)
}

func TestLoadRejectsBadDepth(t *testing.T) {
	path := writeConfig(t, `{"symbol": "BTCUSD", "mapping": {"coinbase": "BTC-USD"}}`)
	_, err := Load(path, []exchange.Tag{exchange.Coinbase}, 0)
	assert.Error(t, err)
}

func TestLoadSkipsUnknownExchangeKeys(t *testing.T) {
	path := writeConfig(t, `{
		"symbol": "BTCUSD",
		"mapping": {"coinbase": "BTC-USD", "deribit": "BTC-PERPETUAL"}
	}`)
	sym, err := Load(path, []exchange.Tag{exchange.Coinbase}, 10)
	require.NoError(t, err)
	assert.Len(t, sym.Sources, 1)
}
