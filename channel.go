package routeros

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nursadev/routeros/proto"
)

// ErrCancelled is the error Wait returns for a Channel that reached the
// Cancelled terminal state via Close, rather than Done or Trapped.
var ErrCancelled = errors.New("routeros: channel cancelled")

// ChannelState is the per-command state machine of spec §3: Open ->
// AwaitingReply -> {Done, Trapped, Fatal, Cancelled}.
type ChannelState int

const (
	ChannelOpen ChannelState = iota
	ChannelAwaitingReply
	ChannelDone
	ChannelTrapped
	ChannelFatal
	ChannelCancelled
)

// Reply is the accumulated result of a command: every !re row plus the
// terminating !done sentence.
type Reply struct {
	Re   []proto.Sentence
	Done proto.Sentence
}

// Channel is a one-shot request/reply handle (spec component L7). It is
// created by Client.Write, collects !re sentences, and terminates on
// !done, !trap, or !fatal — or on the consumer calling Close.
type Channel struct {
	client *Client
	tag    string

	mu           sync.Mutex
	re           []proto.Sentence
	state        ChannelState
	err          error
	lastSentence proto.Sentence

	onData func(proto.Sentence)

	done       chan struct{}
	finishOnce sync.Once
	cancelling atomic.Bool
}

// Write issues a command and returns a Channel handle for its replies.
// words is the full sentence except the command's ".tag" word, which
// Write assigns and appends automatically.
func (c *Client) Write(words []string) (*Channel, error) {
	if c.IsClosed() {
		return nil, ErrNotConnected
	}
	ch := &Channel{
		client: c,
		tag:    c.tags.nextTag(),
		state:  ChannelOpen,
		done:   make(chan struct{}),
	}
	c.tags.subscribe(ch.tag, ch.handle)
	c.logSubscribe(ch.tag)

	sentence := append(append([]string{}, words...), ".tag="+ch.tag)
	if err := c.writeSentence(sentence); err != nil {
		c.tags.unsubscribe(ch.tag)
		return nil, err
	}
	ch.mu.Lock()
	ch.state = ChannelAwaitingReply
	ch.mu.Unlock()
	return ch, nil
}

// OnData registers a callback invoked with each !re sentence as it
// arrives, in wire order, in addition to it being collected for Wait's
// eventual Reply. It must be set before the command is expected to
// produce data (i.e. immediately after Write returns) to avoid missing
// rows, since Write already enqueued the request.
func (ch *Channel) OnData(f func(proto.Sentence)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onData = f
}

// State returns the Channel's current state.
func (ch *Channel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Wait blocks until the command terminates and returns its accumulated
// Reply, or the terminal error (a *TrapError, ErrConnectionLost, or
// ErrCancelled).
func (ch *Channel) Wait(ctx context.Context) (*Reply, error) {
	select {
	case <-ch.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return &Reply{Re: ch.re, Done: ch.lastSentence}, ch.err
}

func (ch *Channel) handle(s proto.Sentence) {
	switch s.Word() {
	case proto.ReplyData:
		ch.mu.Lock()
		ch.re = append(ch.re, s)
		cb := ch.onData
		ch.mu.Unlock()
		if cb != nil {
			cb(s)
		}
	case proto.ReplyDone:
		if ch.cancelling.Load() {
			ch.finish(ChannelCancelled, ErrCancelled, s)
			return
		}
		ch.finish(ChannelDone, nil, s)
	case proto.ReplyTrap:
		t := trapFromSentence(s.Map())
		if t.Interrupted() && ch.cancelling.Load() {
			// Pause/cancel acknowledgement: the terminating !done still
			// to come is what actually ends the command.
			return
		}
		ch.finish(ChannelTrapped, t, s)
	case proto.ReplyFatal:
		ch.finish(ChannelFatal, ErrConnectionLost, s)
	}
}

func (ch *Channel) finish(state ChannelState, err error, last proto.Sentence) {
	ch.finishOnce.Do(func() {
		ch.mu.Lock()
		ch.state = state
		ch.err = err
		ch.lastSentence = last
		ch.mu.Unlock()
		ch.client.tags.unsubscribe(ch.tag)
		ch.client.logUnsubscribe(ch.tag)
		close(ch.done)
	})
}

// Close cancels the command if still in flight: it sends /cancel on a
// new tag and waits for the router's !trap message=interrupted plus
// !done on the original tag before releasing it (spec §4.7, §5 — never
// best-effort). Idempotent after the terminal transition.
func (ch *Channel) Close() error {
	select {
	case <-ch.done:
		return nil // already terminal
	default:
	}

	ch.cancelling.Store(true)
	cancelTag := ch.client.tags.nextCancelTag()
	cancelDone := make(chan struct{})
	var once sync.Once
	ch.client.tags.subscribe(cancelTag, func(s proto.Sentence) {
		if s.Word() == proto.ReplyDone || s.Word() == proto.ReplyFatal {
			once.Do(func() { close(cancelDone) })
			ch.client.tags.unsubscribe(cancelTag)
		}
	})

	if err := ch.client.writeSentence([]string{"/cancel", "=tag=" + ch.tag, ".tag=" + cancelTag}); err != nil {
		ch.client.tags.unsubscribe(cancelTag)
		return err
	}

	select {
	case <-cancelDone:
	case <-ch.done:
	}
	<-ch.done
	return nil
}
