package exchange

import (
	"fmt"

	"github.com/fatih/structs"
	"github.com/rs/zerolog"
)

// Options is the common option bag every exchange subscriber receives as
// Config.Options. Fields are set through github.com/fatih/structs
// reflection rather than a setter per field, so an options struct with
// extra fields can still consume these common setters via the
// ErrCommonOption fallback.
type Options struct {
	Logger zerolog.Logger
}

// Option mutates an options struct in place; opts must be a pointer to a
// struct embedding Options, or to Options itself.
type Option func(opts interface{}) error

var ErrCommonOption = fmt.Errorf("exchange: not a common option")

// OptionLogger sets the Logger field on any options struct exposing one.
func OptionLogger(logger zerolog.Logger) Option {
	return func(opts interface{}) error {
		s := structs.New(opts)
		field, ok := s.FieldOk("Logger")
		if !ok {
			return ErrCommonOption
		}
		if err := field.Set(logger); err != nil {
			return fmt.Errorf("%w: %s", ErrCommonOption, err)
		}
		return nil
	}
}

// Apply runs each option against opts, treating ErrCommonOption from a
// nested Options field as non-fatal (the caller retries against the
// embedded common Options).
func Apply(opts interface{}, common *Options, options ...Option) error {
	for _, o := range options {
		err := o(opts)
		if err == ErrCommonOption {
			err = o(common)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
