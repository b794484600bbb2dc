// Package orderbook is a shared order-book consistency helper: every
// exchange subscriber owns one Book per symbol, mutates it from its own
// read-handling goroutine, and calls HandleIfConsistent before emitting it
// downstream.
package orderbook

import "marketdata/internal/exchange"

// Book holds one exchange's per-symbol order book. It is not safe for
// concurrent use — the maps are exclusively owned by the subscriber
// goroutine that mutates them.
type Book struct {
	Bids map[float64]float64
	Asks map[float64]float64
}

// New returns an empty Book.
func New() *Book {
	return &Book{
		Bids: make(map[float64]float64),
		Asks: make(map[float64]float64),
	}
}

// Reset clears both sides, used before applying a full snapshot.
func (b *Book) Reset() {
	b.Bids = make(map[float64]float64)
	b.Asks = make(map[float64]float64)
}

// SetBid sets or, if volume <= 0, removes a bid level — a zero-volume
// update signals removal of that price level.
func (b *Book) SetBid(price, volume float64) {
	set(b.Bids, price, volume)
}

// SetAsk sets or, if volume <= 0, removes an ask level.
func (b *Book) SetAsk(price, volume float64) {
	set(b.Asks, price, volume)
}

func set(side map[float64]float64, price, volume float64) {
	if volume <= 0 {
		delete(side, price)
		return
	}
	side[price] = volume
}

// BestBid returns the highest bid price, or 0 if the side is empty.
func (b *Book) BestBid() float64 {
	best := 0.0
	for p := range b.Bids {
		if p > best {
			best = p
		}
	}
	return best
}

// BestAsk returns the lowest ask price, or 0 if the side is empty.
func (b *Book) BestAsk() float64 {
	best := 0.0
	for p := range b.Asks {
		if best == 0 || p < best {
			best = p
		}
	}
	return best
}

// Consistent reports whether the book is usable: both sides non-empty and
// non-crossed (best bid <= best ask).
func (b *Book) Consistent() bool {
	bestBid, bestAsk := b.BestBid(), b.BestAsk()
	return bestBid > 0 && bestAsk > 0 && bestBid <= bestAsk
}

// HandleIfConsistent invokes cb with the book's bids and asks maps and
// returns true when the book is consistent; otherwise it returns false and
// the caller is expected to request a session restart.
func (b *Book) HandleIfConsistent(cb func(bids, asks map[float64]float64)) bool {
	if !b.Consistent() {
		return false
	}
	cb(b.Bids, b.Asks)
	return true
}

// TopLevels returns up to depth levels of bids (descending from best) and
// asks (ascending from best), for the dump pipeline's interleaved quote
// record.
func TopLevels(side map[float64]float64, depth int, descending bool) []exchange.PriceLevel {
	prices := make([]float64, 0, len(side))
	for p := range side {
		prices = append(prices, p)
	}
	sortFloats(prices, descending)
	if len(prices) > depth {
		prices = prices[:depth]
	}
	levels := make([]exchange.PriceLevel, len(prices))
	for i, p := range prices {
		levels[i] = exchange.PriceLevel{Price: p, Volume: side[p]}
	}
	return levels
}

func sortFloats(a []float64, descending bool) {
	// Simple insertion sort: book depths are small (tens of levels).
	for i := 1; i < len(a); i++ {
		v := a[i]
		j := i - 1
		for j >= 0 && less(a[j], v, descending) {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = v
	}
}

func less(a, b float64, descending bool) bool {
	if descending {
		return a < b
	}
	return a > b
}
