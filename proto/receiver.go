package proto

import "fmt"

// ErrProtocolViolation is returned by Receiver.Feed when the incoming
// byte stream cannot be a valid RouterOS sentence stream (e.g. a length
// prefix whose continuation byte pattern is malformed).
type ErrProtocolViolation struct {
	Reason string
}

func (e *ErrProtocolViolation) Error() string {
	return fmt.Sprintf("routeros/proto: protocol violation: %s", e.Reason)
}

// Receiver is the incremental sentence decoder (spec component L3). It
// consumes arbitrary byte chunks — with no assumption that chunk
// boundaries align with word or sentence boundaries — and emits complete
// sentences through the OnSentence callback as soon as each is decoded.
//
// A Receiver is not safe for concurrent use; the owning Connector must
// serialize calls to Feed.
type Receiver struct {
	// OnSentence is invoked once per complete sentence, in wire order.
	// It must be set before the first call to Feed.
	OnSentence func(Sentence)

	// OnNotice is invoked for non-fatal oddities worth a debug log (the
	// length-1 null-payload word noted in the protocol's open questions).
	// It may be left nil.
	OnNotice func(string)

	expectedBytes int    // remaining bytes needed to complete current word payload; 0 == "next bytes are a length prefix"
	current       []byte // accumulating buffer for the word in progress
	sentence      []string
	pendingPrefix []byte // bytes of a partial length prefix buffered across Feed calls
}

// Feed ingests a chunk of bytes read from the transport. It may invoke
// OnSentence zero or more times before returning. It returns
// *ErrProtocolViolation if the stream is malformed; the connection must
// then be torn down by the caller.
func (r *Receiver) Feed(chunk []byte) error {
	buf := chunk
	if len(r.pendingPrefix) > 0 {
		buf = append(append([]byte(nil), r.pendingPrefix...), chunk...)
		r.pendingPrefix = nil
	}

	for len(buf) > 0 {
		if r.expectedBytes > 0 {
			n := r.expectedBytes
			if n > len(buf) {
				n = len(buf)
			}
			r.current = append(r.current, buf[:n]...)
			buf = buf[n:]
			r.expectedBytes -= n
			if r.expectedBytes == 0 {
				r.sentence = append(r.sentence, DecodeWordPayload(r.current))
				r.current = nil
			}
			continue
		}

		consumed, length, ok, err := DecodeLength(buf)
		if err != nil {
			return err
		}
		if !ok {
			// Insufficient bytes for a full prefix: buffer remainder and
			// wait for more. State is unchanged up to this point, so
			// there is nothing to backtrack.
			r.pendingPrefix = append([]byte(nil), buf...)
			return nil
		}
		buf = buf[consumed:]

		if length == 0 {
			sentence := Sentence{Words: r.sentence}
			r.sentence = nil
			if len(sentence.Words) == 0 {
				// An empty sentence (two consecutive zero-length words)
				// carries no reply word to validate; treat as a no-op
				// rather than a violation.
				continue
			}
			if w := sentence.Word(); w[0] == '!' && !isReplyWord(w) {
				return &ErrProtocolViolation{Reason: fmt.Sprintf("unknown reply word %q", w)}
			}
			if r.OnSentence != nil {
				r.OnSentence(sentence)
			}
			continue
		}

		if length == 1 && r.OnNotice != nil {
			// A length-1 word whose payload happens to be a single NUL
			// byte has been observed to compensate for end-of-packet
			// zero padding in at least one other client; this engine
			// treats it strictly as an ordinary one-byte word and only
			// logs the occurrence (spec open question #1).
			if len(buf) > 0 && buf[0] == 0x00 {
				r.OnNotice("decoded a length-1 null-payload word; treating as an ordinary word, not a sentence terminator")
			}
		}

		r.expectedBytes = length
		r.current = make([]byte, 0, length)
	}
	return nil
}

// Reset clears all in-progress decoding state, discarding any partial
// word/sentence/prefix. Used when tearing down a connection.
func (r *Receiver) Reset() {
	r.expectedBytes = 0
	r.current = nil
	r.sentence = nil
	r.pendingPrefix = nil
}
