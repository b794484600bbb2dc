// Package kraken implements a REST-polling emulation of the subscriber
// contract: two goroutines (book, trades) each driving periodic POSTs to
// the public Kraken REST API, normalized into the same
// exchange.BookUpdate/Trade model the WebSocket exchanges emit.
// Polling is paced with golang.org/x/time/rate (pulled from
// rahjooh-CryptoTrade's go.mod, which paces its own exchange REST polling
// the same way) rather than a bare time.Ticker, so the poll period has real
// backpressure semantics.
package kraken

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fastjson"
	"golang.org/x/time/rate"

	"marketdata/internal/common/timestamp"
	"marketdata/internal/exchange"
	"marketdata/internal/orderbook"
	"marketdata/internal/wireutil"
)

const (
	defaultBaseURL    = "https://api.kraken.com"
	apiVersion        = "0"
	defaultPollPeriod = time.Second
)

// Subscriber polls Kraken's public Depth/Trades REST endpoints in lieu of a
// WebSocket feed. It satisfies exchange.Subscriber so the provider can
// treat it uniformly with the WS-backed exchanges, but restart/watchdog
// machinery is unused: there is no restart mechanism for the REST poller,
// so inconsistent polls are silently dropped.
type Subscriber struct {
	symbol string
	cfg    exchange.Config

	baseURL    string
	pollPeriod time.Duration
	httpClient *http.Client

	book *orderbook.Book

	parser fastjson.Parser

	mu          sync.Mutex
	tradesSince int64
	bootstrap   bool
}

// Option configures non-default Subscriber behavior, primarily for tests.
type Option func(*Subscriber)

// WithBaseURL overrides the REST base URL (tests point this at a fake
// server instead of https://api.kraken.com).
func WithBaseURL(u string) Option { return func(s *Subscriber) { s.baseURL = u } }

// WithPollPeriod overrides the default 1s poll period.
func WithPollPeriod(d time.Duration) Option { return func(s *Subscriber) { s.pollPeriod = d } }

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(c *http.Client) Option { return func(s *Subscriber) { s.httpClient = c } }

// New constructs a Kraken poller for the given source pair (e.g. "XBTUSD").
func New(symbol string, cfg exchange.Config, opts ...Option) *Subscriber {
	s := &Subscriber{
		symbol:     symbol,
		cfg:        cfg,
		baseURL:    defaultBaseURL,
		pollPeriod: defaultPollPeriod,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		book:       orderbook.New(),
		bootstrap:  true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Subscriber) Exchange() exchange.Tag        { return exchange.Kraken }
func (s *Subscriber) Symbol() string                { return s.symbol }
func (s *Subscriber) InitReceived() bool            { return true }
func (s *Subscriber) Authenticate() error            { return nil }
func (s *Subscriber) SubscribeEvents() error         { return nil }
func (s *Subscriber) ResetActiveChannels()           {}

// Run drives the book and trades polling loops until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(s.pollPeriod), 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pollLoop(ctx, limiter, s.pollBook)
	}()
	go func() {
		defer wg.Done()
		s.pollLoop(ctx, limiter, s.pollTrades)
	}()
	wg.Wait()
	return nil
}

func (s *Subscriber) pollLoop(ctx context.Context, limiter *rate.Limiter, poll func(context.Context) error) {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := poll(ctx); err != nil && s.cfg.OnError != nil {
			s.cfg.OnError(exchange.Kraken, err)
		}
	}
}

func (s *Subscriber) post(ctx context.Context, method string, form url.Values) (*fastjson.Value, error) {
	endpoint := fmt.Sprintf("%s/%s/public/%s", s.baseURL, apiVersion, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}

	v, err := fastjson.ParseBytes(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("kraken: %s: %w", method, err)
	}
	for _, e := range v.GetArray("error") {
		msg := string(e.GetStringBytes())
		if strings.HasPrefix(msg, "E") {
			return nil, fmt.Errorf("kraken: %s: %s", method, msg)
		}
	}
	return v, nil
}

func (s *Subscriber) pollBook(ctx context.Context) error {
	form := url.Values{"pair": {s.symbol}}
	if s.cfg.Depth > 0 {
		form.Set("count", fmt.Sprintf("%d", s.cfg.Depth))
	}
	v, err := s.post(ctx, "Depth", form)
	if err != nil {
		return err
	}
	result := v.Get("result")
	if result == nil {
		return nil
	}
	pairResult := firstField(result)
	if pairResult == nil {
		return nil
	}

	s.book.Reset()
	for _, lvl := range pairResult.GetArray("bids") {
		arr := lvl.GetArray()
		price, volume := wireutil.Float(arr[0]), wireutil.Float(arr[1])
		if price > 0 && volume > 0 {
			s.book.SetBid(price, volume)
		}
	}
	for _, lvl := range pairResult.GetArray("asks") {
		arr := lvl.GetArray()
		price, volume := wireutil.Float(arr[0]), wireutil.Float(arr[1])
		if price > 0 && volume > 0 {
			s.book.SetAsk(price, volume)
		}
	}

	// No restart mechanism exists for the REST poller: an inconsistent
	// snapshot is silently dropped.
	s.book.HandleIfConsistent(func(bids, asks map[float64]float64) {
		if s.cfg.OnBook == nil {
			return
		}
		s.cfg.OnBook(exchange.BookUpdate{
			Exchange:  exchange.Kraken,
			Symbol:    s.symbol,
			Timestamp: timestamp.Stamp(time.Now()),
			Bids:      wireutil.CloneMap(bids),
			Asks:      wireutil.CloneMap(asks),
		})
	})
	return nil
}

func (s *Subscriber) pollTrades(ctx context.Context) error {
	s.mu.Lock()
	since := s.tradesSince
	bootstrap := s.bootstrap
	s.mu.Unlock()

	form := url.Values{"pair": {s.symbol}}
	if since != 0 {
		form.Set("since", fmt.Sprintf("%d", since))
	}
	v, err := s.post(ctx, "Trades", form)
	if err != nil {
		return err
	}
	result := v.Get("result")
	if result == nil {
		return nil
	}
	last := result.Get("last")
	nextCursor := parseCursor(last)

	if !bootstrap {
		pairResult := firstFieldExcept(result, "last")
		if pairResult != nil {
			for _, rec := range pairResult.GetArray() {
				arr := rec.GetArray()
				if len(arr) < 5 {
					continue
				}
				dir := string(arr[3].GetStringBytes())
				ord := string(arr[4].GetStringBytes())
				if ord != "m" {
					continue
				}
				var taker exchange.Side
				switch dir {
				case "b":
					taker = exchange.Buy
				case "s":
					taker = exchange.Sell
				default:
					continue
				}
				price, volume := wireutil.Float(arr[0]), wireutil.Float(arr[1])
				tsSec := wireutil.Float(arr[2])
				if s.cfg.OnTrade != nil {
					s.cfg.OnTrade(exchange.Trade{
						Exchange:  exchange.Kraken,
						Symbol:    s.symbol,
						Price:     price,
						Volume:    volume,
						Timestamp: timestamp.Float(tsSec),
						Taker:     taker,
					})
				}
			}
		}
	}

	s.mu.Lock()
	s.tradesSince = nextCursor
	s.bootstrap = false
	s.mu.Unlock()
	return nil
}

func parseCursor(v *fastjson.Value) int64 {
	if v == nil {
		return 0
	}
	if i, err := v.Int64(); err == nil {
		return i
	}
	f := wireutil.Float(v)
	return int64(f)
}

// firstField returns the value of the first key in a JSON object (Kraken
// keys its Depth "result" object by the requested pair, whose exact
// canonical spelling we don't know in advance).
func firstField(v *fastjson.Value) *fastjson.Value {
	obj, err := v.Object()
	if err != nil {
		return nil
	}
	var first *fastjson.Value
	obj.Visit(func(key []byte, value *fastjson.Value) {
		if first == nil {
			first = value
		}
	})
	return first
}

// firstFieldExcept is firstField but skips a named key (Kraken's Trades
// result carries both the pair's trade array and a "last" cursor string).
func firstFieldExcept(v *fastjson.Value, except string) *fastjson.Value {
	obj, err := v.Object()
	if err != nil {
		return nil
	}
	var first *fastjson.Value
	obj.Visit(func(key []byte, value *fastjson.Value) {
		if first == nil && string(key) != except {
			first = value
		}
	})
	return first
}
