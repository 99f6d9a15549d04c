package routeros

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_OnUnregisteredTagIsNonFatal(t *testing.T) {
	c, router := newTestClient()
	defer c.Close()

	var errs []error
	c.OnError(func(err error) { errs = append(errs, err) })

	router.Send("!re", "=x=1", ".tag=nonexistent")

	require.Eventually(t, func() bool { return len(errs) > 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, errs[0], ErrUnregisteredTag)
	assert.False(t, c.IsClosed(), "an unregistered tag must not close the connection")
}

func TestClient_CloseIsIdempotentAndFiresOnClose(t *testing.T) {
	c, _ := newTestClient()

	var closeCalls int
	var lastErr error
	closedCh := make(chan struct{})
	c.OnClose(func(err error) {
		closeCalls++
		lastErr = err
		close(closedCh)
	})

	require.NoError(t, c.Close())
	<-closedCh
	require.NoError(t, c.Close())

	assert.Equal(t, 1, closeCalls)
	assert.NoError(t, lastErr)
	assert.True(t, c.IsClosed())
	select {
	case <-c.Closed():
	default:
		t.Fatal("Closed() channel should be closed")
	}
}

func TestClient_ProtocolViolationReportsErrorThenCloses(t *testing.T) {
	c, router := newTestClient()

	var errs []error
	c.OnError(func(err error) { errs = append(errs, err) })

	var lastErr error
	closedCh := make(chan struct{})
	c.OnClose(func(err error) {
		lastErr = err
		close(closedCh)
	})

	router.Send("!unknown", "=x=1")

	<-closedCh
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[0], ErrProtocolViolation)
	assert.ErrorIs(t, lastErr, ErrProtocolViolation)
	assert.True(t, c.IsClosed())
}

func TestClient_FatalClosesConnectionAndReportsReason(t *testing.T) {
	c, router := newTestClient()

	var lastErr error
	closedCh := make(chan struct{})
	c.OnClose(func(err error) {
		lastErr = err
		close(closedCh)
	})

	router.Send("!fatal", "TCP connection reset")
	<-closedCh
	require.Error(t, lastErr)
	assert.ErrorIs(t, lastErr, ErrConnectionLost)
	assert.True(t, c.IsClosed())
}

func TestClient_IdleTimeoutClosesConnection(t *testing.T) {
	host, port, done := fakeRouterServer(t, func(r *testRouter) {
		r.Recv()
		r.Send("!done")
		// then go silent so the idle timeout fires
	})

	c, err := Dial(Config{Host: host, Port: port, ConnectTimeout: time.Second, IdleTimeout: 50 * time.Millisecond}, "admin", "admin")
	require.NoError(t, err)

	var timedOut bool
	c.OnTimeout(func() { timedOut = true })

	require.Eventually(t, c.IsClosed, time.Second, 5*time.Millisecond)
	assert.True(t, timedOut)
	<-done
}

func TestClient_WriteAfterCloseFails(t *testing.T) {
	c, _ := newTestClient()
	require.NoError(t, c.Close())

	_, err := c.Write([]string{"/system/resource/getall"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.Stream([]string{"/ip/address/listen"})
	assert.ErrorIs(t, err, ErrNotConnected)
}
