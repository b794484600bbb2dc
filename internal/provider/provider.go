// Package provider implements the aggregation/dump pipeline: one
// subscriber per configured exchange, fanned-in book and trade callbacks,
// and (when enabled) two bounded dump queues drained by dedicated writer
// goroutines. Ownership is strictly tree-shaped — provider ⊃ subscribers ⊃
// sessions.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketdata/internal/common/timestamp"
	"marketdata/internal/dump"
	"marketdata/internal/exchange"
	"marketdata/internal/exchange/bitfinex"
	"marketdata/internal/exchange/bitmex"
	"marketdata/internal/exchange/coinbase"
	"marketdata/internal/exchange/kraken"
	"marketdata/internal/orderbook"
	"marketdata/internal/symbolconfig"
)

// BookEvent is handed to a user-registered book subscriber: the full
// current bid/ask maps for one exchange.
type BookEvent struct {
	Exchange  exchange.Tag
	Symbol    string
	Timestamp timestamp.Timestamp
	Bids      map[float64]float64
	Asks      map[float64]float64
}

// TradeEvent is handed to a user-registered trade subscriber, verbatim.
type TradeEvent = exchange.Trade

// Provider owns one subscriber per exchange present in the symbol
// description, fans in their callbacks, and optionally dumps normalized
// records to CSV.
type Provider struct {
	symbol *symbolconfig.Symbol
	opts   Options

	subscribers map[exchange.Tag]exchange.Subscriber

	dumpStart   timestamp.Timestamp
	quoteQueue  *dump.Queue
	tradeQueue  *dump.Queue
	quoteWriter *dump.BlockWriter
	tradeWriter *dump.BlockWriter

	wg sync.WaitGroup
}

// New constructs a Provider for symbol, creating one subscriber per
// exchange the symbol resolves to.
func New(symbol *symbolconfig.Symbol, options ...Option) (*Provider, error) {
	var opts Options
	opts.Depth = 10
	opts.BlockDurationMins = 480
	opts.QueueCapacity = 4096
	if err := apply(&opts, options...); err != nil {
		return nil, err
	}

	p := &Provider{
		symbol:      symbol,
		opts:        opts,
		subscribers: make(map[exchange.Tag]exchange.Subscriber),
	}

	for tag, source := range symbol.Sources {
		depth := source.Depth
		if depth <= 0 {
			depth = opts.Depth
		}
		cfg := exchange.Config{
			SourceSymbol: source.Name,
			Depth:        depth,
			OnBook:       p.bookHandler(tag),
			OnTrade:      p.tradeHandler(tag),
			OnError:      p.errorHandler,
			Options:      exchange.Options{Logger: opts.Logger},
		}
		opts.Logger.Info().
			Str("exchange", tag.String()).
			Str("source_symbol", source.Name).
			Int("depth", depth).
			Msg("adding market data feed")

		switch tag {
		case exchange.Coinbase:
			p.subscribers[tag] = coinbase.New(source.Name, cfg)
		case exchange.Bitfinex:
			p.subscribers[tag] = bitfinex.New(source.Name, cfg)
		case exchange.Bitmex:
			p.subscribers[tag] = bitmex.New(source.Name, cfg)
		case exchange.Kraken:
			p.subscribers[tag] = kraken.New(source.Name, cfg)
		}
	}

	if opts.DumpEnabled {
		if err := p.enableDumping(); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Provider) enableDumping() error {
	if p.opts.DumpPath == "" {
		return fmt.Errorf("provider: dump path is not defined")
	}
	if p.opts.BlockDurationMins <= 0 {
		return fmt.Errorf("provider: block duration must be > 0")
	}

	p.dumpStart = timestamp.Stamp(time.Now())

	quoteWriter, err := dump.NewBlockWriter(p.opts.DumpPath, "prices", p.symbol.DisplayName, p.opts.BlockDurationMins, p.dumpStart)
	if err != nil {
		return err
	}
	tradeWriter, err := dump.NewBlockWriter(p.opts.DumpPath, "trades", p.symbol.DisplayName, p.opts.BlockDurationMins, p.dumpStart)
	if err != nil {
		return err
	}
	p.quoteWriter, p.tradeWriter = quoteWriter, tradeWriter
	p.quoteQueue = dump.NewQueue(p.opts.QueueCapacity)
	p.tradeQueue = dump.NewQueue(p.opts.QueueCapacity)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		dump.RunQuoteConsumer(p.quoteQueue, p.quoteWriter, p.opts.Logger)
	}()
	go func() {
		defer p.wg.Done()
		dump.RunTradeConsumer(p.tradeQueue, p.tradeWriter, p.opts.Logger)
	}()

	return nil
}

// Run starts every subscriber and blocks until ctx is cancelled. Each
// subscriber is run in its own goroutine;
// errors from one subscriber never tear down its siblings.
func (p *Provider) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for tag, sub := range p.subscribers {
		wg.Add(1)
		go func(tag exchange.Tag, sub exchange.Subscriber) {
			defer wg.Done()
			if err := sub.Run(ctx); err != nil {
				p.opts.Logger.Error().Err(err).Str("exchange", tag.String()).Msg("subscriber exited")
			}
		}(tag, sub)
	}
	wg.Wait()
	return nil
}

// Close stops dump queues and joins their writer goroutines. Subscribers
// are stopped by cancelling the context passed to Run; Close only tears
// down the dump side.
func (p *Provider) Close() {
	if p.quoteQueue != nil {
		p.quoteQueue.Stop()
	}
	if p.tradeQueue != nil {
		p.tradeQueue.Stop()
	}
	p.wg.Wait()
}

func (p *Provider) bookHandler(tag exchange.Tag) exchange.BookHandler {
	return func(bu exchange.BookUpdate) {
		now := timestamp.Stamp(time.Now())

		if p.opts.OnBook != nil {
			p.opts.OnBook(BookEvent{
				Exchange:  tag,
				Symbol:    bu.Symbol,
				Timestamp: now,
				Bids:      bu.Bids,
				Asks:      bu.Asks,
			})
		}

		if p.quoteQueue == nil {
			return
		}
		depth := p.opts.Depth
		bids := orderbook.TopLevels(bu.Bids, depth, true)
		asks := orderbook.TopLevels(bu.Asks, depth, false)
		levels := make([]dump.QuoteLevel, depth)
		for i := 0; i < depth; i++ {
			var lvl dump.QuoteLevel
			if i < len(bids) {
				lvl.BidPrice, lvl.BidVolume = bids[i].Price, bids[i].Volume
			}
			if i < len(asks) {
				lvl.AskPrice, lvl.AskVolume = asks[i].Price, asks[i].Volume
			}
			levels[i] = lvl
		}
		p.quoteQueue.Push(dump.QuoteRecord{
			Exchange:  tag,
			Timestamp: now,
			Levels:    levels,
		})
	}
}

func (p *Provider) tradeHandler(tag exchange.Tag) exchange.TradeHandler {
	return func(t exchange.Trade) {
		if p.opts.OnTrade != nil {
			p.opts.OnTrade(t)
		}
		if p.tradeQueue == nil {
			return
		}
		signed := t.Volume
		if t.Taker == exchange.Sell {
			signed = -signed
		}
		p.tradeQueue.Push(dump.TradeRecord{
			Exchange:     tag,
			Price:        t.Price,
			SignedVolume: signed,
			Timestamp:    t.Timestamp,
		})
	}
}

func (p *Provider) errorHandler(tag exchange.Tag, err error) {
	p.opts.Logger.Error().Err(err).Str("exchange", tag.String()).Msg("subscriber error")
}
