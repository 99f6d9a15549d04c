package routeros

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nursadev/routeros/proto"
)

func TestStream_DeliversDataWithoutSection(t *testing.T) {
	c, router := newTestClient()
	defer c.Close()

	stCh := make(chan *Stream, 1)
	go func() {
		st, _ := c.Stream([]string{"/ip/address/listen"})
		stCh <- st
	}()
	req := router.Recv()
	tag, _ := req.Tag()
	st := <-stCh

	var mu sync.Mutex
	var batches [][]proto.Sentence
	batchCh := make(chan struct{}, 8)
	st.OnData(func(b []proto.Sentence) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
		batchCh <- struct{}{}
	})

	router.Send("!re", "=address=10.0.0.1/24", ".tag="+tag)
	<-batchCh
	router.Send("!re", "=address=10.0.0.2/24", ".tag="+tag)
	<-batchCh

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 1)
	assert.Equal(t, "10.0.0.1/24", batches[0][0].Map()["address"])
	assert.Equal(t, StreamStreaming, st.State())
}

// Section batching: rows belonging to the same .section are buffered
// and flushed as one batch when the section id changes.
func TestStream_SectionBatchFlushesOnSectionChange(t *testing.T) {
	c, router := newTestClient()
	defer c.Close()

	stCh := make(chan *Stream, 1)
	go func() {
		st, _ := c.Stream([]string{"/tool/torch", "=interface=ether1"})
		stCh <- st
	}()
	req := router.Recv()
	tag, _ := req.Tag()
	st := <-stCh

	batchCh := make(chan []proto.Sentence, 8)
	st.OnData(func(b []proto.Sentence) { batchCh <- b })

	router.Send("!re", "=tx=100", ".section=s1", ".tag="+tag)
	router.Send("!re", "=tx=200", ".section=s1", ".tag="+tag)
	// New section: the first batch (2 rows) must flush now, before any
	// quiescence timer would have fired.
	router.Send("!re", "=tx=10", ".section=s2", ".tag="+tag)

	select {
	case b := <-batchCh:
		require.Len(t, b, 2)
		assert.Equal(t, "100", b[0].Map()["tx"])
		assert.Equal(t, "200", b[1].Map()["tx"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for section flush")
	}
}

// Section batching: a lone section's rows flush after the quiescence
// window even with no section change.
func TestStream_SectionBatchFlushesOnQuiescence(t *testing.T) {
	c, router := newTestClient()
	defer c.Close()

	stCh := make(chan *Stream, 1)
	go func() {
		st, _ := c.Stream([]string{"/tool/torch", "=interface=ether1"})
		stCh <- st
	}()
	req := router.Recv()
	tag, _ := req.Tag()
	st := <-stCh

	batchCh := make(chan []proto.Sentence, 8)
	st.OnData(func(b []proto.Sentence) { batchCh <- b })

	router.Send("!re", "=tx=100", ".section=only", ".tag="+tag)

	select {
	case b := <-batchCh:
		require.Len(t, b, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("quiescence flush never fired")
	}
}

// Invariant 6 — a stream that has transitioned to Stopped never emits
// further data, even from a section timer armed before the transition.
func TestStream_UnsolicitedDoneStopsPendingSectionTimer(t *testing.T) {
	c, router := newTestClient()
	defer c.Close()

	stCh := make(chan *Stream, 1)
	go func() {
		st, _ := c.Stream([]string{"/tool/torch", "=interface=ether1"})
		stCh <- st
	}()
	req := router.Recv()
	tag, _ := req.Tag()
	st := <-stCh

	var mu sync.Mutex
	var batches [][]proto.Sentence
	st.OnData(func(b []proto.Sentence) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	})

	// Arm the section-quiescence timer, then end the command outright
	// (no Pause/Stop in flight) before the timer would fire.
	router.Send("!re", "=tx=100", ".section=only", ".tag="+tag)
	router.Send("!done", ".tag="+tag)

	require.Eventually(t, func() bool { return st.State() == StreamStopped }, time.Second, 5*time.Millisecond)

	time.Sleep(sectionQuiescence + 100*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, batches, "no batch should be delivered after the stream stopped")
}

func TestStream_EmptyDataDebounce(t *testing.T) {
	c, router := newTestClient()
	defer c.Close()

	stCh := make(chan *Stream, 1)
	go func() {
		st, _ := c.Stream([]string{"/interface/monitor-traffic", "=interval=1", "=interface=ether1"})
		stCh <- st
	}()
	req := router.Recv()
	_, _ = req.Tag()
	st := <-stCh

	batchCh := make(chan []proto.Sentence, 8)
	st.OnData(func(b []proto.Sentence) { batchCh <- b })

	select {
	case b := <-batchCh:
		assert.Empty(t, b)
	case <-time.After(3 * time.Second):
		t.Fatal("empty-data debounce never fired")
	}
}

// S4 — pause/resume.
func TestStream_PauseThenResume(t *testing.T) {
	c, router := newTestClient()
	defer c.Close()

	stCh := make(chan *Stream, 1)
	go func() {
		st, _ := c.Stream([]string{"/ip/address/listen"})
		stCh <- st
	}()
	req := router.Recv()
	tag, _ := req.Tag()
	st := <-stCh

	router.Send("!re", "=address=10.0.0.1/24", ".tag="+tag)
	router.Send("!re", "=address=10.0.0.2/24", ".tag="+tag)
	router.Send("!re", "=address=10.0.0.3/24", ".tag="+tag)

	pauseErrCh := make(chan error, 1)
	go func() { pauseErrCh <- st.Pause() }()

	cancelReq := router.Recv()
	assert.Equal(t, "/cancel", cancelReq.Word())
	cancelTag, _ := cancelReq.Tag()

	router.Send("!trap", "=message=interrupted", ".tag="+tag)
	router.Send("!done", ".tag="+tag)
	router.Send("!done", ".tag="+cancelTag)

	require.NoError(t, <-pauseErrCh)
	assert.Equal(t, StreamPaused, st.State())

	require.NoError(t, st.Resume())
	resumeReq := router.Recv()
	assert.Equal(t, "/ip/address/listen", resumeReq.Word())
	resumeTag, ok := resumeReq.Tag()
	require.True(t, ok)
	assert.Equal(t, tag, resumeTag)
	assert.Equal(t, StreamStreaming, st.State())

	gotCh := make(chan []proto.Sentence, 1)
	st.OnData(func(b []proto.Sentence) { gotCh <- b })
	router.Send("!re", "=address=10.0.0.4/24", ".tag="+tag)
	select {
	case b := <-gotCh:
		require.Len(t, b, 1)
		assert.Equal(t, "10.0.0.4/24", b[0].Map()["address"])
	case <-time.After(time.Second):
		t.Fatal("resumed stream never delivered data")
	}
}

func TestStream_Stop(t *testing.T) {
	c, router := newTestClient()
	defer c.Close()

	stCh := make(chan *Stream, 1)
	go func() {
		st, _ := c.Stream([]string{"/ip/address/listen"})
		stCh <- st
	}()
	req := router.Recv()
	tag, _ := req.Tag()
	st := <-stCh

	stopErrCh := make(chan error, 1)
	go func() { stopErrCh <- st.Stop() }()

	cancelReq := router.Recv()
	cancelTag, _ := cancelReq.Tag()
	router.Send("!trap", "=message=interrupted", ".tag="+tag)
	router.Send("!done", ".tag="+tag)
	router.Send("!done", ".tag="+cancelTag)

	require.NoError(t, <-stopErrCh)
	assert.Equal(t, StreamStopped, st.State())
	require.NoError(t, st.Stop()) // idempotent
}

// S6 — fatal during stream: the stream terminates with ConnectionLost
// and further operations report STREAM_CLOSED.
func TestStream_FatalDuringStream(t *testing.T) {
	c, router := newTestClient()

	stCh := make(chan *Stream, 1)
	go func() {
		st, _ := c.Stream([]string{"/tool/torch", "=interface=ether1"})
		stCh <- st
	}()
	router.Recv()
	st := <-stCh

	var gotErr error
	var calls int
	st.OnError(func(err error) {
		calls++
		gotErr = err
	})

	router.Send("!fatal", "connection reset by peer")

	require.Eventually(t, func() bool { return calls > 0 }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, gotErr, ErrConnectionLost)
	assert.Equal(t, StreamTrapped, st.State())
	assert.Equal(t, 1, calls)

	assert.ErrorIs(t, st.Pause(), ErrStreamClosed)
}
