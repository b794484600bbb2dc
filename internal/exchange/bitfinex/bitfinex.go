// Package bitfinex implements the Bitfinex public book/trades subscriber: a
// gorilla/websocket dial feeding a fastjson array dispatch keyed by chanId,
// behind exchange.Subscriber with a chanId<->name registry.
package bitfinex

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"marketdata/internal/common/timestamp"
	"marketdata/internal/exchange"
	"marketdata/internal/orderbook"
	"marketdata/internal/wireutil"
	"marketdata/internal/wsconn"
)

const serverURL = "wss://api-pub.bitfinex.com/ws/2"

const (
	channelBook   = "book"
	channelTrades = "trades"
)

// Subscriber implements exchange.Subscriber for Bitfinex.
type Subscriber struct {
	symbol string
	cfg    exchange.Config

	watchdog *exchange.WatchdogBase
	session  *wsconn.Session
	parser   fastjson.Parser

	book *orderbook.Book

	mu         sync.Mutex
	chanToName map[int64]string
	nameToChan map[string]int64
	subscribed map[string]bool
}

// New constructs a Bitfinex subscriber for the given source symbol without
// its "t" prefix (e.g. "BTCUSD").
func New(symbol string, cfg exchange.Config) *Subscriber {
	s := &Subscriber{
		symbol:     symbol,
		cfg:        cfg,
		book:       orderbook.New(),
		chanToName: make(map[int64]string),
		nameToChan: make(map[string]int64),
		subscribed: make(map[string]bool),
	}
	s.watchdog = exchange.NewWatchdogBase(exchange.Hooks{
		SubscribeEvents: s.SubscribeEvents,
		Ping:            s.ping,
	})
	return s
}

func (s *Subscriber) Exchange() exchange.Tag { return exchange.Bitfinex }
func (s *Subscriber) Symbol() string         { return s.symbol }
func (s *Subscriber) InitReceived() bool     { return s.watchdog.InitReceived() }
func (s *Subscriber) Authenticate() error    { return nil }

func (s *Subscriber) ResetActiveChannels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chanToName = make(map[int64]string)
	s.nameToChan = make(map[string]int64)
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
			s.cfg.OnError(exchange.Bitfinex, err)
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

// SubscribeEvents sends subscribe frames for book/trades if not already
// active. Idempotent.
func (s *Subscriber) SubscribeEvents() error {
	s.mu.Lock()
	needBook := !s.subscribed[channelBook]
	needTrades := !s.subscribed[channelTrades]
	s.mu.Unlock()

	if needBook {
		length := 25
		if s.cfg.Depth > 25 {
			length = 100
		}
		msg := fmt.Sprintf(`{"event":"subscribe","channel":"book","symbol":%q,"prec":"P0","freq":"F0","len":%q}`,
			"t"+s.symbol, strconv.Itoa(length))
		if err := s.session.Write(msg); err != nil {
			return err
		}
		s.mu.Lock()
		s.subscribed[channelBook] = true
		s.mu.Unlock()
	}
	if needTrades {
		msg := fmt.Sprintf(`{"event":"subscribe","channel":"trades","symbol":%q}`, "t"+s.symbol)
		if err := s.session.Write(msg); err != nil {
			return err
		}
		s.mu.Lock()
		s.subscribed[channelTrades] = true
		s.mu.Unlock()
	}
	return nil
}

func (s *Subscriber) readHandler(raw []byte) error {
	s.watchdog.Touch()
	v, err := s.parser.ParseBytes(raw)
	if err != nil {
		return err
	}
	if arr, err := v.Array(); err == nil {
		return s.handleDataFrame(arr)
	}
	return s.handleEventFrame(v)
}

func (s *Subscriber) handleEventFrame(v *fastjson.Value) error {
	event := string(v.GetStringBytes("event"))
	switch event {
	case "info":
		version := v.GetInt("version")
		if version != 2 {
			return fmt.Errorf("bitfinex: fatal: unsupported version %d", version)
		}
		s.watchdog.SetInitReceived(true)
		return nil
	case "subscribed":
		return s.handleSubscribed(v)
	case "unsubscribed":
		return s.handleUnsubscribed(v)
	case "error":
		return fmt.Errorf("bitfinex: %s", v.GetStringBytes("msg"))
	}
	return nil
}

func (s *Subscriber) handleSubscribed(v *fastjson.Value) error {
	channel := string(v.GetStringBytes("channel"))
	chanID := v.GetInt64("chanId")
	s.mu.Lock()
	s.chanToName[chanID] = channel
	s.nameToChan[channel] = chanID
	s.mu.Unlock()
	return nil
}

func (s *Subscriber) handleUnsubscribed(v *fastjson.Value) error {
	if string(v.GetStringBytes("status")) != "OK" {
		return nil
	}
	chanID := v.GetInt64("chanId")
	s.mu.Lock()
	name := s.chanToName[chanID]
	delete(s.chanToName, chanID)
	delete(s.nameToChan, name)
	delete(s.subscribed, name)
	s.mu.Unlock()
	return nil
}

func (s *Subscriber) handleDataFrame(arr []*fastjson.Value) error {
	if len(arr) < 2 {
		return nil
	}
	chanID := arr[0].GetInt64()
	s.mu.Lock()
	name := s.chanToName[chanID]
	s.mu.Unlock()

	switch name {
	case channelBook:
		return s.handleBook(arr[1])
	case channelTrades:
		return s.handleTrades(arr)
	}
	return nil
}

func (s *Subscriber) handleBook(payload *fastjson.Value) error {
	arr, err := payload.Array()
	if err != nil || len(arr) == 0 {
		return nil
	}
	if _, elemErr := arr[0].Array(); elemErr != nil {
		// arr[0] is a scalar: this is one update triplet [price, count, amount].
		s.applyBookLevel(arr)
		return s.emitBookOrRestart()
	}
	// arr[0] is itself an array: this is the initial snapshot, an array of
	// triplets, and clears both sides first.
	s.book.Reset()
	for _, triplet := range arr {
		tArr, terr := triplet.Array()
		if terr != nil {
			continue
		}
		s.applyBookLevel(tArr)
	}
	return s.emitBookOrRestart()
}

func (s *Subscriber) applyBookLevel(pcq []*fastjson.Value) {
	if len(pcq) != 3 {
		return
	}
	price := wireutil.Float(pcq[0])
	count := pcq[1].GetInt()
	amount := wireutil.Float(pcq[2])

	if count > 0 {
		if amount > 0 {
			s.book.SetBid(price, amount)
		} else if amount < 0 {
			s.book.SetAsk(price, -amount)
		}
		return
	}
	// count == 0: delete a level. amount==1 -> bid, amount==-1 -> ask.
	if amount == 1 {
		s.book.SetBid(price, 0)
	} else if amount == -1 {
		s.book.SetAsk(price, 0)
	}
}

func (s *Subscriber) emitBookOrRestart() error {
	ok := s.book.HandleIfConsistent(func(bids, asks map[float64]float64) {
		if s.cfg.OnBook == nil {
			return
		}
		s.cfg.OnBook(exchange.BookUpdate{
			Exchange:  exchange.Bitfinex,
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

func (s *Subscriber) handleTrades(arr []*fastjson.Value) error {
	if len(arr) < 3 {
		return nil
	}
	kind := string(arr[1].GetStringBytes())
	if kind != "te" {
		return nil
	}
	payload, err := arr[2].Array()
	if err != nil || len(payload) < 4 {
		return nil
	}
	amount := wireutil.Float(payload[2])
	price := wireutil.Float(payload[3])
	tsMs := payload[1].GetInt64()

	taker := exchange.Buy
	if amount < 0 {
		taker = exchange.Sell
		amount = -amount
	}

	if s.cfg.OnTrade != nil {
		s.cfg.OnTrade(exchange.Trade{
			Exchange:  exchange.Bitfinex,
			Symbol:    s.symbol,
			Price:     price,
			Volume:    amount,
			Timestamp: timestamp.Milli(tsMs),
			Taker:     taker,
		})
	}
	return nil
}
