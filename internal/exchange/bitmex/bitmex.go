// Package bitmex implements the BitMEX realtime orderBook10/trade
// subscriber. Structured like the sibling coinbase/bitfinex packages
// (exchange.Subscriber + exchange.WatchdogBase over a wsconn.Session),
// following the same dial+dispatch idiom.
package bitmex

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"marketdata/internal/common/timestamp"
	"marketdata/internal/exchange"
	"marketdata/internal/orderbook"
	"marketdata/internal/wireutil"
	"marketdata/internal/wsconn"
)

const serverURL = "wss://ws.bitmex.com/realtime"

const (
	channelBook   = "orderBook10"
	channelTrades = "trade"
)

// Subscriber implements exchange.Subscriber for BitMEX.
type Subscriber struct {
	symbol string
	cfg    exchange.Config

	watchdog *exchange.WatchdogBase
	session  *wsconn.Session
	parser   fastjson.Parser

	book *orderbook.Book

	mu         sync.Mutex
	subscribed map[string]bool
}

// New constructs a BitMEX subscriber for the given instrument (e.g.
// "XBTUSD").
func New(symbol string, cfg exchange.Config) *Subscriber {
	s := &Subscriber{
		symbol:     symbol,
		cfg:        cfg,
		book:       orderbook.New(),
		subscribed: make(map[string]bool),
	}
	s.watchdog = exchange.NewWatchdogBase(exchange.Hooks{
		SubscribeEvents: s.SubscribeEvents,
		Ping:            s.ping,
	})
	return s
}

func (s *Subscriber) Exchange() exchange.Tag { return exchange.Bitmex }
func (s *Subscriber) Symbol() string         { return s.symbol }
func (s *Subscriber) InitReceived() bool     { return s.watchdog.InitReceived() }
func (s *Subscriber) Authenticate() error    { return nil }

func (s *Subscriber) ResetActiveChannels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = make(map[string]bool)
	s.book.Reset()
}

func (s *Subscriber) ping() error { return s.session.Ping() }

// Run dials the session, drives the watchdog, and blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	session, err := wsconn.New(serverURL, s.cfg.Options.Logger)
	if err != nil {
		return err
	}
	s.session = session

	stopCh := make(chan struct{})
	go s.watchdog.Run(stopCh, s.session.IsOpen)
	defer close(stopCh)

	onError := func(err error) {
		if s.cfg.OnError != nil {
			s.cfg.OnError(exchange.Bitmex, err)
		}
		if !s.session.IsOpen() {
			s.watchdog.Restart()
		}
	}

	if err := session.Run(ctx, s.readHandler, onError, func(string) { s.watchdog.Touch() }); err != nil {
		return err
	}
	<-ctx.Done()
	session.Stop()
	return nil
}

// SubscribeEvents sends "{channel}:{symbol}" subscribe ops not yet active.
// Idempotent.
func (s *Subscriber) SubscribeEvents() error {
	for _, channel := range []string{channelBook, channelTrades} {
		key := channel + ":" + s.symbol
		s.mu.Lock()
		already := s.subscribed[key]
		s.mu.Unlock()
		if already {
			continue
		}
		msg := fmt.Sprintf(`{"op":"subscribe","args":[%q]}`, key)
		if err := s.session.Write(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscriber) readHandler(raw []byte) error {
	s.watchdog.Touch()
	v, err := s.parser.ParseBytes(raw)
	if err != nil {
		return err
	}
	if v.Get("info") != nil {
		s.watchdog.SetInitReceived(true)
		return nil
	}
	if v.Get("success") != nil {
		return s.handleSubscribeAck(v)
	}
	if v.Get("error") != nil {
		return fmt.Errorf("bitmex: %s", v.GetStringBytes("error"))
	}
	if v.Get("table") != nil {
		return s.handleTable(v)
	}
	return nil
}

func (s *Subscriber) handleSubscribeAck(v *fastjson.Value) error {
	if !v.GetBool("success") {
		return fmt.Errorf("bitmex: subscribe failed: %s", v.GetStringBytes("error"))
	}
	sub := string(v.GetStringBytes("subscribe"))
	if sub == "" {
		return nil
	}
	channel := sub
	if idx := strings.IndexByte(sub, ':'); idx >= 0 {
		channel = sub[:idx]
	}
	s.mu.Lock()
	s.subscribed[channel+":"+s.symbol] = true
	s.mu.Unlock()
	return nil
}

func (s *Subscriber) handleTable(v *fastjson.Value) error {
	table := string(v.GetStringBytes("table"))
	action := string(v.GetStringBytes("action"))
	switch table {
	case channelBook:
		if action != "update" {
			return nil
		}
		return s.handleBook(v)
	case channelTrades:
		if action != "insert" {
			return nil
		}
		return s.handleTrades(v)
	}
	return nil
}

func (s *Subscriber) handleBook(v *fastjson.Value) error {
	for _, rec := range v.GetArray("data") {
		if sym := string(rec.GetStringBytes("symbol")); sym != "" && !strings.EqualFold(sym, s.symbol) {
			continue
		}
		s.book.Reset()
		for _, pv := range rec.GetArray("bids") {
			arr := pv.GetArray()
			price, notional := wireutil.Float(arr[0]), wireutil.Float(arr[1])
			if price > 0 {
				s.book.SetBid(price, notional/price)
			}
		}
		for _, pv := range rec.GetArray("asks") {
			arr := pv.GetArray()
			price, notional := wireutil.Float(arr[0]), wireutil.Float(arr[1])
			if price > 0 {
				s.book.SetAsk(price, notional/price)
			}
		}
		ok := s.book.HandleIfConsistent(func(bids, asks map[float64]float64) {
			if s.cfg.OnBook == nil {
				return
			}
			s.cfg.OnBook(exchange.BookUpdate{
				Exchange:  exchange.Bitmex,
				Symbol:    s.symbol,
				Timestamp: timestamp.Stamp(time.Now()),
				Bids:      wireutil.CloneMap(bids),
				Asks:      wireutil.CloneMap(asks),
			})
		})
		if !ok {
			s.watchdog.Restart()
		}
	}
	return nil
}

func (s *Subscriber) handleTrades(v *fastjson.Value) error {
	for _, rec := range v.GetArray("data") {
		if sym := string(rec.GetStringBytes("symbol")); sym != "" && !strings.EqualFold(sym, s.symbol) {
			continue
		}
		price := wireutil.Float(rec.Get("price"))
		volume := wireutil.Float(rec.Get("homeNotional"))
		if price <= 0 || volume <= 0 {
			continue
		}
		ts, err := wireutil.ParseISOMilli(string(rec.GetStringBytes("timestamp")))
		if err != nil {
			return fmt.Errorf("bitmex: bad trade timestamp: %w", err)
		}
		side := string(rec.GetStringBytes("side"))
		taker := exchange.Buy
		if len(side) > 0 && (side[0] == 'S' || side[0] == 's') {
			taker = exchange.Sell
		}
		if s.cfg.OnTrade != nil {
			s.cfg.OnTrade(exchange.Trade{
				Exchange:  exchange.Bitmex,
				Symbol:    s.symbol,
				Price:     price,
				Volume:    volume,
				Timestamp: ts,
				Taker:     taker,
			})
		}
	}
	return nil
}
