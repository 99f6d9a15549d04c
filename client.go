// Package routeros provides a Client interface to the Mikrotik RouterOS API.
package routeros

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jcelliott/lumber"
	"golang.org/x/sync/errgroup"

	"github.com/nursadev/routeros/proto"
)

type connState int32

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
	stateClosing
	stateClosed
)

// Client is a RouterOS API connection (spec component L6, the
// Connector). It owns the socket, the Receiver, the Transmitter, and the
// tag router exclusively; Channels and Streams hold only a back
// reference to it for registering tags and enqueuing writes.
type Client struct {
	conn net.Conn
	tx   *proto.Transmitter
	rx   *proto.Receiver
	tags *tagRouter

	logger lumber.Logger
	debug  bool

	mu    sync.Mutex
	state connState

	closed   chan struct{}
	closeErr error
	once     sync.Once

	global chan proto.Sentence // untagged replies; read by the login handshake

	idleTimer    *time.Timer
	idleDuration time.Duration

	handlers struct {
		mu        sync.Mutex
		connected []func()
		closeFns  []func(error)
		errorFns  []func(error)
		timeout   []func()
	}

	grp    *errgroup.Group
	cancel context.CancelFunc
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:   conn,
		tx:     proto.NewTransmitter(),
		rx:     &proto.Receiver{},
		tags:   newTagRouter(),
		state:  stateConnecting,
		closed: make(chan struct{}),
		global: make(chan proto.Sentence, 8),
	}
	c.rx.OnSentence = c.onSentence
	c.rx.OnNotice = c.logNotice
	c.tags.onUnregistered = c.onUnregisteredTag
	return c
}

// OnConnected registers a handler invoked once the transport is ready
// and writes begin draining. Multiple handlers may be registered.
func (c *Client) OnConnected(f func()) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.connected = append(c.handlers.connected, f)
}

// OnClose registers a handler invoked exactly once when the connection
// transitions to Closed. err is nil for a clean, caller-initiated close.
func (c *Client) OnClose(f func(error)) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.closeFns = append(c.handlers.closeFns, f)
}

// OnError registers a handler invoked for connection-level errors:
// ErrUnregisteredTag (non-fatal; the connection stays open) and
// ErrProtocolViolation (reported just before the connection is torn
// down).
func (c *Client) OnError(f func(error)) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.errorFns = append(c.handlers.errorFns, f)
}

// OnTimeout registers a handler invoked when the idle timeout fires,
// immediately before the connection is closed.
func (c *Client) OnTimeout(f func()) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.timeout = append(c.handlers.timeout, f)
}

func (c *Client) emitConnected() {
	c.handlers.mu.Lock()
	fns := append([]func(){}, c.handlers.connected...)
	c.handlers.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

func (c *Client) emitClose(err error) {
	c.handlers.mu.Lock()
	fns := append([]func(error){}, c.handlers.closeFns...)
	c.handlers.mu.Unlock()
	for _, f := range fns {
		f(err)
	}
}

func (c *Client) emitError(err error) {
	c.handlers.mu.Lock()
	fns := append([]func(error){}, c.handlers.errorFns...)
	c.handlers.mu.Unlock()
	for _, f := range fns {
		f(err)
	}
}

func (c *Client) emitTimeout() {
	c.handlers.mu.Lock()
	fns := append([]func(){}, c.handlers.timeout...)
	c.handlers.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

// IsClosed reports whether the connection has reached the Closed state.
func (c *Client) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Closed returns a channel that is closed once the connection reaches
// the Closed state, letting callers select on connection loss instead
// of polling IsClosed.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// onSentence is the Receiver callback; it routes every decoded sentence
// to its tag's subscriber, or to the global (untagged) channel.
func (c *Client) onSentence(s proto.Sentence) {
	c.logReceived(s.Words)
	if s.Word() == proto.ReplyFatal {
		reason := ""
		if len(s.Words) > 1 {
			reason = s.Words[1]
		}
		c.teardown(&connectionLostError{reason: reason})
		return
	}
	c.tags.route(s, func(s proto.Sentence) {
		select {
		case c.global <- s:
		default:
			// The global channel is only ever read during the login
			// handshake; an unsolicited untagged sentence afterward
			// (besides !fatal, handled above) is dropped rather than
			// blocking the read pump.
		}
	})
}

func (c *Client) onUnregisteredTag(tag string, s proto.Sentence) {
	c.logError("sentence for unregistered tag %q: %v", tag, s.Words)
	c.emitError(&unregisteredTagError{tag: tag})
}

type unregisteredTagError struct{ tag string }

func (e *unregisteredTagError) Error() string { return "routeros: unregistered tag: " + e.tag }
func (e *unregisteredTagError) Unwrap() error { return ErrUnregisteredTag }

type connectionLostError struct{ reason string }

func (e *connectionLostError) Error() string {
	if e.reason == "" {
		return "routeros: connection lost"
	}
	return "routeros: connection lost: " + e.reason
}
func (e *connectionLostError) Unwrap() error { return ErrConnectionLost }

type protocolViolationError struct{ reason string }

func (e *protocolViolationError) Error() string {
	return "routeros: protocol violation: " + e.reason
}
func (e *protocolViolationError) Unwrap() error { return ErrProtocolViolation }

// run starts the read pump under the connection's own cancellation
// context. It must be called once, after the transmitter is connected
// and before the login handshake, whose replies arrive through the same
// pump.
func (c *Client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	c.grp = g

	g.Go(func() error {
		return c.pumpReads(gctx)
	})
}

func (c *Client) pumpReads(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.resetIdleTimeout()
			if ferr := c.rx.Feed(buf[:n]); ferr != nil {
				var violation *proto.ErrProtocolViolation
				if errors.As(ferr, &violation) {
					wrapped := &protocolViolationError{reason: violation.Reason}
					c.emitError(wrapped)
					c.teardown(wrapped)
					return wrapped
				}
				c.teardown(ferr)
				return ferr
			}
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return nil // closed locally; not a connection-lost event
			default:
			}
			c.teardown(&connectionLostError{reason: err.Error()})
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// writeSentence enqueues a command sentence for transmission.
func (c *Client) writeSentence(words []string) error {
	if c.IsClosed() {
		return ErrNotConnected
	}
	c.logSent(words)
	return c.tx.WriteSentence(words)
}

// teardown transitions the connection to Closed, releasing the socket
// and unsubscribing every open tag with a synthetic fatal, exactly once.
func (c *Client) teardown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		c.closeErr = err
		c.mu.Unlock()

		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		if c.idleTimer != nil {
			c.idleTimer.Stop()
		}
		c.mu.Unlock()
		c.tx.Close()
		_ = c.conn.Close()
		c.tags.fatalAll(errReason(err))
		close(c.closed)
		c.emitClose(err)
	})
}

func errReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Close tears down the connection from the caller's side. It is
// idempotent; subsequent calls are no-ops. It blocks until the read pump
// goroutine has exited.
func (c *Client) Close() error {
	c.teardown(nil)
	if c.grp != nil {
		_ = c.grp.Wait()
	}
	return nil
}
