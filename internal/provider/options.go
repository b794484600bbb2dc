package provider

import (
	"fmt"

	"github.com/fatih/structs"
	"github.com/rs/zerolog"
)

// Options configures a Provider. Fields are set through the same
// github.com/fatih/structs reflection idiom used by exchange.Options,
// rather than a bespoke setter per field.
type Options struct {
	Logger zerolog.Logger

	Depth int

	DumpEnabled       bool
	DumpPath          string
	BlockDurationMins int
	QueueCapacity     int

	OnBook  func(BookEvent)
	OnTrade func(TradeEvent)
}

// Option mutates an Options struct in place.
type Option func(*Options) error

var ErrBadOption = fmt.Errorf("provider: bad option")

func apply(o *Options, opts ...Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

func OptionLogger(logger zerolog.Logger) Option {
	return func(o *Options) error { return set(o, "Logger", logger) }
}

func OptionDepth(depth int) Option {
	return func(o *Options) error { return set(o, "Depth", depth) }
}

func OptionDump(enabled bool, path string, blockDurationMinutes int) Option {
	return func(o *Options) error {
		if err := set(o, "DumpEnabled", enabled); err != nil {
			return err
		}
		if err := set(o, "DumpPath", path); err != nil {
			return err
		}
		return set(o, "BlockDurationMins", blockDurationMinutes)
	}
}

func OptionQueueCapacity(n int) Option {
	return func(o *Options) error { return set(o, "QueueCapacity", n) }
}

func OptionBookSubscriber(cb func(BookEvent)) Option {
	return func(o *Options) error { return set(o, "OnBook", cb) }
}

func OptionTradeSubscriber(cb func(TradeEvent)) Option {
	return func(o *Options) error { return set(o, "OnTrade", cb) }
}

func set(o *Options, field string, value interface{}) error {
	s := structs.New(o)
	f := s.Field(field)
	if f == nil {
		return ErrBadOption
	}
	if err := f.Set(value); err != nil {
		return fmt.Errorf("%w: %s", ErrBadOption, err)
	}
	return nil
}
