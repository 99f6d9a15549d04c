package proto

import (
	"errors"
	"io"
	"sync"
)

// ErrNotConnected is returned by Transmitter.WriteSentence once the
// transmitter has been closed.
var ErrNotConnected = errors.New("routeros/proto: not connected")

// Transmitter serializes sentences to a socket (spec component L4). A
// write issued before the transport is ready is buffered in a FIFO
// backlog and drained, preserving sentence order, once Connect is
// called. After Close, further writes fail with ErrNotConnected and any
// backlog is discarded.
//
// Transmitter is safe for concurrent use; every public method takes an
// internal mutex so that a sentence's bytes (including its zero-length
// terminator) are written to the socket atomically with respect to any
// other sentence.
type Transmitter struct {
	mu      sync.Mutex
	sink    io.Writer
	backlog [][]string // sentences queued before sink was set
	closed  bool
}

// NewTransmitter returns a Transmitter with no sink yet attached; writes
// queue until Connect is called.
func NewTransmitter() *Transmitter {
	return &Transmitter{}
}

// Connect attaches the byte sink and drains any backlog onto it in FIFO
// order. Subsequent writes go straight to sink.
func (t *Transmitter) Connect(sink io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
	t.closed = false
	backlog := t.backlog
	t.backlog = nil
	for _, words := range backlog {
		if err := t.writeSentenceLocked(words); err != nil {
			return err
		}
	}
	return nil
}

// WriteSentence writes a complete sentence (words plus terminator). If
// no sink is attached yet, it is queued in the backlog instead.
func (t *Transmitter) WriteSentence(words []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrNotConnected
	}
	if t.sink == nil {
		t.backlog = append(t.backlog, words)
		return nil
	}
	return t.writeSentenceLocked(words)
}

func (t *Transmitter) writeSentenceLocked(words []string) error {
	for _, w := range words {
		if _, err := t.sink.Write(EncodeWord(w)); err != nil {
			return err
		}
	}
	_, err := t.sink.Write(EncodeLength(0))
	return err
}

// Close marks the transmitter closed: further writes fail with
// ErrNotConnected and the backlog (if any) is discarded.
func (t *Transmitter) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.sink = nil
	t.backlog = nil
}
