// Package wsconn implements a resilient WebSocket session: connect, hand
// frames to a read callback, watch control frames, and reconnect after a
// dial or read error — shared by the coinbase, bitfinex and bitmex
// subscribers. No call forces a reconnect of a live connection. One
// reusable type drives the dial+read loop for all three, publishing the
// live connection through an atomic pointer swap so writers never race
// the reconnect goroutine.
package wsconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ReadHandler receives every text frame read off the socket.
type ReadHandler func(text []byte) error

// ErrorHandler receives transport errors. The session keeps running after
// reporting one — transport errors are recovered, not fatal.
type ErrorHandler func(err error)

// ControlHandler receives ping/pong control frames, used by the subscriber
// watchdog to update last-message liveness.
type ControlHandler func(kind string)

// Session is a single resilient WebSocket connection to one (host, path)
// endpoint. It is safe for concurrent Write calls from any goroutine while
// the reconnect loop runs in its own goroutine.
type Session struct {
	url    string
	logger zerolog.Logger

	conn atomic.Pointer[websocket.Conn]

	running int32
	stopCh  chan struct{}
	doneCh  chan struct{}

	writeQueueMu sync.Mutex
	writeQueue   [][]byte

	onRead    ReadHandler
	onError   ErrorHandler
	onControl ControlHandler
}

// New constructs a Session for the given wss:// URL. The TLS SNI host name
// is derived from the URL.
func New(rawURL string, logger zerolog.Logger) (*Session, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("wsconn: bad url: %w", err)
	}
	return &Session{url: rawURL, logger: logger}, nil
}

// Run starts the reconnect loop. It is idempotent-guarded: calling Run
// while already running returns an error.
func (s *Session) Run(ctx context.Context, onRead ReadHandler, onError ErrorHandler, onControl ControlHandler) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return fmt.Errorf("wsconn: session already running")
	}
	s.onRead, s.onError, s.onControl = onRead, onError, onControl
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx)
	return nil
}

// Stop blocks until the read loop exits and the socket is closed, attempting
// a graceful close frame if the socket is still open.
func (s *Session) Stop() {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

// IsOpen reports whether a live socket is currently published.
func (s *Session) IsOpen() bool {
	return s.conn.Load() != nil
}

// Write sends a text frame synchronously if the socket is up; otherwise it
// is queued FIFO for replay once the next handshake completes.
func (s *Session) Write(text string) error {
	conn := s.conn.Load()
	if conn == nil {
		s.writeQueueMu.Lock()
		s.writeQueue = append(s.writeQueue, []byte(text))
		s.writeQueueMu.Unlock()
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Ping sends a WebSocket ping control frame, if the socket is up.
func (s *Session) Ping() error {
	conn := s.conn.Load()
	if conn == nil {
		return nil
	}
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.doneCh)

	for atomic.LoadInt32(&s.running) == 1 {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.reportError(err)
			if s.sleepOrStop(ctx, time.Second) {
				return
			}
			continue
		}

		s.publish(conn)
		s.drainWriteQueue(conn)
		s.readUntilError(ctx, conn)
		s.publish(nil)
		conn.Close()

		if ctx.Err() != nil || atomic.LoadInt32(&s.running) == 0 {
			return
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, err
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			ServerName: u.Hostname(),
			MinVersion: tls.VersionTLS12, // excludes SSLv2/v3.1
		},
	}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	return conn, err
}

func (s *Session) publish(conn *websocket.Conn) {
	s.conn.Store(conn)
}

func (s *Session) drainWriteQueue(conn *websocket.Conn) {
	s.writeQueueMu.Lock()
	queued := s.writeQueue
	s.writeQueue = nil
	s.writeQueueMu.Unlock()

	for _, msg := range queued {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.reportError(err)
			return
		}
	}
}

func (s *Session) readUntilError(ctx context.Context, conn *websocket.Conn) {
	conn.SetPingHandler(func(string) error {
		if s.onControl != nil {
			s.onControl("ping")
		}
		return nil
	})
	conn.SetPongHandler(func(string) error {
		if s.onControl != nil {
			s.onControl("pong")
		}
		return nil
	})

	msgs := make(chan []byte, 16)
	errs := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				errs <- err
				return
			}
			msgs <- msg
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.closeGracefully(conn)
			return
		case <-s.stopCh:
			s.closeGracefully(conn)
			return
		case msg := <-msgs:
			if s.onRead != nil {
				if err := s.onRead(msg); err != nil {
					s.reportError(err)
				}
			}
		case err := <-errs:
			s.reportError(err)
			return
		}
	}
}

func (s *Session) closeGracefully(conn *websocket.Conn) {
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (s *Session) sleepOrStop(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.stopCh:
		return true
	case <-time.After(d):
		return false
	}
}

func (s *Session) reportError(err error) {
	s.logger.Warn().Err(err).Str("url", s.url).Msg("wsconn: transport error")
	if s.onError != nil {
		s.onError(err)
	}
}
