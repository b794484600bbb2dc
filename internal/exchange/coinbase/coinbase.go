// Package coinbase implements the Coinbase Exchange level2/matches
// subscriber. Follows the bitfinex/kraken listener pattern (gorilla/websocket
// dial + fastjson dispatch) generalized behind exchange.Subscriber and
// exchange.WatchdogBase.
package coinbase

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

const serverURL = "wss://ws-feed.exchange.coinbase.com/"

const (
	channelLevel2 = "level2_batch"
	channelMatch  = "matches"
)

// Subscriber implements exchange.Subscriber for Coinbase. Coinbase sends no
// hello message, so InitReceived defaults to true.
type Subscriber struct {
	symbol string
	cfg    exchange.Config

	watchdog *exchange.WatchdogBase
	session  *wsconn.Session
	parser   fastjson.Parser

	book *orderbook.Book

	mu     sync.Mutex
	active map[string]bool // "channel:product" -> subscribed
}

// New constructs a Coinbase subscriber for the given source product id
// (e.g. "BTC-USD").
func New(symbol string, cfg exchange.Config) *Subscriber {
	s := &Subscriber{
		symbol: symbol,
		cfg:    cfg,
		book:   orderbook.New(),
		active: make(map[string]bool),
	}
	s.watchdog = exchange.NewWatchdogBase(exchange.Hooks{
		SubscribeEvents: s.SubscribeEvents,
		Ping:            s.ping,
	})
	s.watchdog.SetInitReceived(true)
	return s
}

func (s *Subscriber) Exchange() exchange.Tag { return exchange.Coinbase }
func (s *Subscriber) Symbol() string         { return s.symbol }
func (s *Subscriber) InitReceived() bool     { return s.watchdog.InitReceived() }
func (s *Subscriber) Authenticate() error    { return nil }

func (s *Subscriber) ResetActiveChannels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[string]bool)
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
			s.cfg.OnError(exchange.Coinbase, err)
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

// SubscribeEvents sends subscribe frames for every (channel, product) pair
// not already active. Idempotent.
func (s *Subscriber) SubscribeEvents() error {
	for _, channel := range []string{channelLevel2, channelMatch} {
		key := channel + ":" + s.symbol
		s.mu.Lock()
		already := s.active[key]
		s.mu.Unlock()
		if already {
			continue
		}
		msg := fmt.Sprintf(`{"type":"subscribe","channels":[{"name":%q,"product_ids":[%q]}]}`, channel, s.symbol)
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
	typ := string(v.GetStringBytes("type"))
	switch typ {
	case "subscriptions":
		s.handleSubscriptions(v)
	case "snapshot":
		return s.handleSnapshot(v)
	case "l2update":
		return s.handleUpdate(v)
	case "match", "last_match":
		return s.handleMatch(v)
	case "error":
		return fmt.Errorf("coinbase: %s", v.GetStringBytes("message"))
	}
	return nil
}

func (s *Subscriber) handleSubscriptions(v *fastjson.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range v.GetArray("channels") {
		name := string(ch.GetStringBytes("name"))
		for _, p := range ch.GetArray("product_ids") {
			s.active[name+":"+string(p.GetStringBytes())] = true
		}
	}
}

func (s *Subscriber) handleSnapshot(v *fastjson.Value) error {
	if err := s.checkProduct(v); err != nil {
		return err
	}
	s.book.Reset()
	for _, pv := range v.GetArray("bids") {
		arr := pv.GetArray()
		s.book.SetBid(wireutil.Float(arr[0]), wireutil.Float(arr[1]))
	}
	for _, pv := range v.GetArray("asks") {
		arr := pv.GetArray()
		s.book.SetAsk(wireutil.Float(arr[0]), wireutil.Float(arr[1]))
	}
	return s.emitOrRestart()
}

func (s *Subscriber) handleUpdate(v *fastjson.Value) error {
	if err := s.checkProduct(v); err != nil {
		return err
	}
	for _, change := range v.GetArray("changes") {
		arr := change.GetArray()
		if len(arr) != 3 {
			continue
		}
		side := string(arr[0].GetStringBytes())
		price, volume := wireutil.Float(arr[1]), wireutil.Float(arr[2])
		if side == "buy" {
			s.book.SetBid(price, volume)
		} else {
			s.book.SetAsk(price, volume)
		}
	}
	return s.emitOrRestart()
}

func (s *Subscriber) checkProduct(v *fastjson.Value) error {
	if pid := string(v.GetStringBytes("product_id")); pid != "" && !strings.EqualFold(pid, s.symbol) {
		s.watchdog.Restart()
		return fmt.Errorf("coinbase: product_id mismatch: got %s want %s", pid, s.symbol)
	}
	return nil
}

func (s *Subscriber) emitOrRestart() error {
	ok := s.book.HandleIfConsistent(func(bids, asks map[float64]float64) {
		if s.cfg.OnBook == nil {
			return
		}
		s.cfg.OnBook(exchange.BookUpdate{
			Exchange:  exchange.Coinbase,
			Symbol:    s.symbol,
			Timestamp: timestamp.Stamp(time.Now()),
			Bids:      wireutil.CloneMap(bids),
			Asks:      wireutil.CloneMap(asks),
		})
	})
	if !ok {
		s.watchdog.Restart()
	}
	return nil
}

func (s *Subscriber) handleMatch(v *fastjson.Value) error {
	if err := s.checkProduct(v); err != nil {
		return err
	}
	side := string(v.GetStringBytes("side"))
	// Coinbase reports the resting side; the taker is the opposite.
	taker := exchange.Sell
	if side == "sell" {
		taker = exchange.Buy
	}

	ts, err := wireutil.ParseISOMicro(wireutil.StringOrNumber(v, "time"))
	if err != nil {
		return fmt.Errorf("coinbase: bad trade time: %w", err)
	}

	if s.cfg.OnTrade != nil {
		s.cfg.OnTrade(exchange.Trade{
			Exchange:  exchange.Coinbase,
			Symbol:    s.symbol,
			Price:     wireutil.Float(v.Get("price")),
			Volume:    wireutil.Float(v.Get("size")),
			Timestamp: ts,
			Taker:     taker,
		})
	}
	return nil
}
