package routeros

import (
	"context"
	"net"

	"github.com/nursadev/routeros/proto"
)

// testRouter plays the role of the MikroTik router on the far end of a
// net.Pipe: it reads the sentences the Client sends and lets the test
// script reply on its own schedule. All of its methods must be called
// from a single goroutine (the pipe is synchronous, unbuffered).
type testRouter struct {
	conn net.Conn
	rx   *proto.Receiver
	in   chan proto.Sentence
}

func newTestRouter(conn net.Conn) *testRouter {
	r := &testRouter{conn: conn, in: make(chan proto.Sentence, 16)}
	r.rx = &proto.Receiver{OnSentence: func(s proto.Sentence) { r.in <- s }}
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				_ = r.rx.Feed(buf[:n])
			}
			if err != nil {
				close(r.in)
				return
			}
		}
	}()
	return r
}

// Recv returns the next sentence the client sent, blocking until one
// arrives.
func (r *testRouter) Recv() proto.Sentence {
	return <-r.in
}

// Send writes a sentence as the router.
func (r *testRouter) Send(words ...string) {
	for _, w := range words {
		_, _ = r.conn.Write(proto.EncodeWord(w))
	}
	_, _ = r.conn.Write(proto.EncodeLength(0))
}

// newTestClient wires a Client directly onto one end of a net.Pipe,
// bypassing Dial/login so tests can script router-side replies via the
// returned testRouter.
func newTestClient() (*Client, *testRouter) {
	clientConn, routerConn := net.Pipe()
	c := newClient(clientConn)
	_ = c.tx.Connect(clientConn)
	c.run(context.Background())
	c.mu.Lock()
	c.state = stateConnected
	c.mu.Unlock()
	return c, newTestRouter(routerConn)
}
