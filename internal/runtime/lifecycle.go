// Package runtime owns the process-wide concerns a collector run needs
// before any exchange connection opens: the root logger (optionally
// rotated to a file) and the context/cancel pair every subscriber is
// ultimately parented to. Dump consumers do not watch this context; they
// stop when the provider's Close stops their queues.
package runtime

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Lifecycle bundles the logger and cancellation context a collector run
// shares across every subscriber, the provider, and its dump consumers.
type Lifecycle struct {
	Logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	rotate *lumberjack.Logger
}

// New builds a Lifecycle. If logPath is non-empty, log output is written
// through a lumberjack.Logger so the file is rotated instead of growing
// without bound across long-running collector processes; otherwise output
// goes to stderr. The returned context is cancelled on SIGINT/SIGTERM.
func New(logPath string, debug bool) *Lifecycle {
	var out io.Writer = os.Stderr
	var rotate *lumberjack.Logger
	if logPath != "" {
		rotate = &lumberjack.Logger{
			Filename: logPath,
			MaxSize:  100,
			MaxAge:   14,
			Compress: true,
		}
		out = rotate
	}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return &Lifecycle{Logger: logger, ctx: ctx, cancel: cancel}
}

// Context returns the cancellation context that the subscribers and the
// provider's Run select on.
func (l *Lifecycle) Context() context.Context { return l.ctx }

// Cancel signals shutdown to everything holding Context().
func (l *Lifecycle) Cancel() { l.cancel() }

// Close releases the rotating log file, if one was opened.
func (l *Lifecycle) Close() error {
	if l.rotate == nil {
		return nil
	}
	return l.rotate.Close()
}
