package routeros

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nursadev/routeros/proto"
)

// sectionQuiescence is the idle window after the last sentence in a
// section before its batch is flushed (spec §4.8).
const sectionQuiescence = 300 * time.Millisecond

// debounceSlack is added to the configured =interval= to decide when a
// stream has stalled and should synthesize an empty delivery (spec
// §4.8).
const debounceSlack = 300 * time.Millisecond

// StreamState is the per-stream state machine of spec §3: Idle ->
// Streaming ⇄ Pausing ⇄ Paused; any -> Stopping -> Stopped; any ->
// Trapped.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamStreaming
	StreamPausing
	StreamPaused
	StreamStopping
	StreamStopped
	StreamTrapped
)

// Stream wraps a Channel-like tag subscription for long-lived
// subscriptions such as /tool/torch or /ip/address/listen (spec
// component L8).
type Stream struct {
	client *Client
	words  []string // original request words, without .tag; reused verbatim on resume
	tag    string

	onData  func([]proto.Sentence)
	onError func(error)

	mu    sync.Mutex
	state StreamState
	err   error

	// section batching
	sectionBuf   []proto.Sentence
	sectionID    string
	sectionArmed bool
	sectionTimer *time.Timer

	// empty-data debounce
	debounceInterval time.Duration // 0 disables debouncing
	debounceTimer    *time.Timer

	// pause/stop transition bookkeeping
	transitionKind string // "pause" or "stop"
	transitionDone chan struct{}

	stopped    chan struct{}
	stopClosed bool
}

// Stream issues a long-lived command (e.g. a /listen or /tool/torch
// invocation) and returns a handle for pausing, resuming, and stopping
// it. words is the full sentence except the ".tag" word.
func (c *Client) Stream(words []string) (*Stream, error) {
	if c.IsClosed() {
		return nil, ErrNotConnected
	}
	st := &Stream{
		client:  c,
		words:   append([]string{}, words...),
		tag:     c.tags.nextTag(),
		state:   StreamIdle,
		stopped: make(chan struct{}),
	}
	st.debounceInterval = parseIntervalWord(words)

	c.tags.subscribe(st.tag, st.handle)
	c.logSubscribe(st.tag)

	if err := st.sendRequest(); err != nil {
		c.tags.unsubscribe(st.tag)
		return nil, err
	}

	st.mu.Lock()
	st.state = StreamStreaming
	st.mu.Unlock()
	st.armDebounce()

	return st, nil
}

func parseIntervalWord(words []string) time.Duration {
	for _, w := range words {
		if strings.HasPrefix(w, "=interval=") {
			v := strings.TrimPrefix(w, "=interval=")
			secs, err := strconv.ParseFloat(v, 64)
			if err == nil && secs > 0 {
				return time.Duration(secs*1000)*time.Millisecond + debounceSlack
			}
		}
	}
	return 0
}

func (st *Stream) sendRequest() error {
	sentence := append(append([]string{}, st.words...), ".tag="+st.tag)
	return st.client.writeSentence(sentence)
}

// OnData registers the callback invoked with each delivered batch: one
// sentence for an ordinary row, several for a flushed section, or an
// empty slice for a synthesized empty-data delivery. Register it before
// data is expected to arrive, i.e. immediately after Stream returns.
func (st *Stream) OnData(f func([]proto.Sentence)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onData = f
}

// OnError registers the callback invoked exactly once when the stream
// enters Trapped (a real !trap, not a pause acknowledgement).
func (st *Stream) OnError(f func(error)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onError = f
}

// State returns the stream's current state.
func (st *Stream) State() StreamState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

func (st *Stream) handle(s proto.Sentence) {
	switch s.Word() {
	case proto.ReplyData:
		st.onSentenceData(s)
	case proto.ReplyTrap:
		t := trapFromSentence(s.Map())
		if t.Interrupted() {
			st.onCancelAck()
			return
		}
		st.finishTrapped(t)
	case proto.ReplyDone:
		st.onDone()
	case proto.ReplyFatal:
		st.finishFatal()
	}
}

func (st *Stream) onSentenceData(s proto.Sentence) {
	st.mu.Lock()
	if st.state != StreamStreaming {
		// A pause/stop is in flight, or the wire is delivering a
		// straggler after we already paused; drop it rather than
		// deliver to a consumer that thinks it is paused.
		st.mu.Unlock()
		return
	}
	st.resetDebounceLocked()

	sectionID, hasSection := s.Section()
	if !hasSection {
		st.mu.Unlock()
		st.deliver([]proto.Sentence{s})
		return
	}

	var flush []proto.Sentence
	if st.sectionArmed && sectionID != st.sectionID {
		flush = st.sectionBuf
		st.sectionBuf = nil
	}
	st.sectionID = sectionID
	st.sectionArmed = true
	st.sectionBuf = append(st.sectionBuf, s)
	st.armSectionTimerLocked()
	st.mu.Unlock()

	if len(flush) > 0 {
		st.deliver(flush)
	}
}

// armSectionTimerLocked (re)arms the quiescence timer; it resets an
// existing timer rather than recreating it, per the timer-discipline
// design note.
func (st *Stream) armSectionTimerLocked() {
	if st.sectionTimer == nil {
		st.sectionTimer = time.AfterFunc(sectionQuiescence, st.flushSectionOnQuiescence)
		return
	}
	st.sectionTimer.Reset(sectionQuiescence)
}

func (st *Stream) flushSectionOnQuiescence() {
	st.mu.Lock()
	if st.state != StreamStreaming || !st.sectionArmed || len(st.sectionBuf) == 0 {
		st.mu.Unlock()
		return
	}
	batch := st.sectionBuf
	st.sectionBuf = nil
	st.mu.Unlock()
	st.deliver(batch)
}

func (st *Stream) armDebounce() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.armDebounceLocked()
}

func (st *Stream) armDebounceLocked() {
	if st.debounceInterval == 0 {
		return
	}
	if st.debounceTimer == nil {
		st.debounceTimer = time.AfterFunc(st.debounceInterval, st.onDebounceFire)
		return
	}
	st.debounceTimer.Reset(st.debounceInterval)
}

func (st *Stream) resetDebounceLocked() {
	if st.debounceInterval == 0 {
		return
	}
	st.armDebounceLocked()
}

func (st *Stream) onDebounceFire() {
	st.mu.Lock()
	if st.state != StreamStreaming {
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()
	st.deliver(nil)
	st.armDebounce()
}

func (st *Stream) deliver(batch []proto.Sentence) {
	st.mu.Lock()
	cb := st.onData
	st.mu.Unlock()
	if cb != nil {
		cb(batch)
	}
}

func (st *Stream) stopTimersLocked() {
	if st.sectionTimer != nil {
		st.sectionTimer.Stop()
	}
	if st.debounceTimer != nil {
		st.debounceTimer.Stop()
	}
}

// Pause sends an in-band cancel and blocks until the router acknowledges
// it (!trap message=interrupted followed by !done on this stream's
// tag), then transitions to Paused. A no-op if already Paused.
func (st *Stream) Pause() error {
	return st.cancelAndWait("pause", StreamPausing, StreamPaused)
}

// Stop tears the stream down: it cancels in-band exactly like Pause,
// waits for the same acknowledgement, then releases the tag and
// transitions to Stopped. Idempotent once Stopped or Trapped.
func (st *Stream) Stop() error {
	return st.cancelAndWait("stop", StreamStopping, StreamStopped)
}

func (st *Stream) cancelAndWait(kind string, transitional, target StreamState) error {
	st.mu.Lock()
	switch st.state {
	case StreamStopped, StreamTrapped:
		st.mu.Unlock()
		if kind == "stop" {
			return nil // Stop is idempotent once terminal
		}
		return ErrStreamClosed
	case target:
		st.mu.Unlock()
		return nil // already there; idempotent
	}
	st.state = transitional
	st.transitionKind = kind
	done := make(chan struct{})
	st.transitionDone = done
	st.stopTimersLocked()
	st.mu.Unlock()

	cancelTag := st.client.tags.nextCancelTag()
	st.client.tags.subscribe(cancelTag, func(s proto.Sentence) {
		if s.Word() == proto.ReplyDone || s.Word() == proto.ReplyFatal {
			st.client.tags.unsubscribe(cancelTag)
		}
	})
	if err := st.client.writeSentence([]string{"/cancel", "=tag=" + st.tag, ".tag=" + cancelTag}); err != nil {
		st.client.tags.unsubscribe(cancelTag)
		return err
	}

	select {
	case <-done:
	case <-st.stopped:
	}
	return nil
}

// onCancelAck handles the !trap message=interrupted pause/stop
// acknowledgement; the actual state transition happens on the !done
// that follows it.
func (st *Stream) onCancelAck() {
	// Nothing to do: the router always follows an interrupted trap with
	// !done on the same tag, which onDone below completes the
	// transition on.
}

func (st *Stream) onDone() {
	st.mu.Lock()
	switch st.state {
	case StreamPausing:
		st.state = StreamPaused
		done := st.transitionDone
		st.transitionDone = nil
		st.mu.Unlock()
		if done != nil {
			close(done)
		}
	case StreamStopping:
		st.state = StreamStopped
		done := st.transitionDone
		st.transitionDone = nil
		st.mu.Unlock()
		st.client.tags.unsubscribe(st.tag)
		st.client.logUnsubscribe(st.tag)
		st.closeStopped()
		if done != nil {
			close(done)
		}
	default:
		// A !done with no pause/stop in flight ends the command outright
		// (e.g. the router-side command itself completed, not just our
		// cancel). Treat like Stop completing.
		st.state = StreamStopped
		st.stopTimersLocked()
		st.mu.Unlock()
		st.client.tags.unsubscribe(st.tag)
		st.client.logUnsubscribe(st.tag)
		st.closeStopped()
	}
}

func (st *Stream) finishTrapped(t *TrapError) {
	st.mu.Lock()
	if st.state == StreamStopped || st.state == StreamTrapped {
		st.mu.Unlock()
		return
	}
	st.state = StreamTrapped
	st.err = t
	st.stopTimersLocked()
	cb := st.onError
	transitionDone := st.transitionDone
	st.transitionDone = nil
	st.mu.Unlock()

	st.client.tags.unsubscribe(st.tag)
	st.client.logUnsubscribe(st.tag)
	st.closeStopped()
	if transitionDone != nil {
		close(transitionDone)
	}
	if cb != nil {
		cb(t)
	}
}

func (st *Stream) finishFatal() {
	st.mu.Lock()
	if st.state == StreamStopped || st.state == StreamTrapped {
		st.mu.Unlock()
		return
	}
	st.state = StreamTrapped
	st.err = ErrConnectionLost
	st.stopTimersLocked()
	cb := st.onError
	transitionDone := st.transitionDone
	st.transitionDone = nil
	st.mu.Unlock()

	st.closeStopped()
	if transitionDone != nil {
		close(transitionDone)
	}
	if cb != nil {
		cb(ErrConnectionLost)
	}
}

func (st *Stream) closeStopped() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.stopClosed {
		st.stopClosed = true
		close(st.stopped)
	}
}

// Resume re-issues the original request on the same tag and transitions
// back to Streaming. Valid only from Paused.
func (st *Stream) Resume() error {
	st.mu.Lock()
	if st.state != StreamPaused {
		st.mu.Unlock()
		if st.state == StreamStopped || st.state == StreamTrapped {
			return ErrStreamClosed
		}
		return nil
	}
	st.mu.Unlock()

	if err := st.sendRequest(); err != nil {
		return err
	}

	st.mu.Lock()
	st.state = StreamStreaming
	st.sectionArmed = false
	st.sectionBuf = nil
	st.mu.Unlock()
	st.armDebounce()
	return nil
}
