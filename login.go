package routeros

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/nursadev/routeros/proto"
)

// login performs the §6 handshake: a plain "=name=/=password=" sentence,
// falling back to the MD5 challenge-response form when the router's
// !done reply carries "=ret=<challenge-hex>" (firmware predating 6.43's
// plain login).
func (c *Client) login(ctx context.Context, user, password string) error {
	if err := c.writeSentence([]string{"/login", "=name=" + user, "=password=" + password}); err != nil {
		return err
	}
	reply, err := c.nextGlobal(ctx)
	if err != nil {
		return err
	}
	switch reply.Word() {
	case proto.ReplyDone:
		if challengeHex, ok := reply.Map()["ret"]; ok {
			return c.loginChallenge(ctx, user, password, challengeHex)
		}
		return nil
	case proto.ReplyTrap:
		return trapFromSentence(reply.Map())
	default:
		return fmt.Errorf("routeros: unexpected reply during login: %v", reply.Words)
	}
}

func (c *Client) loginChallenge(ctx context.Context, user, password, challengeHex string) error {
	challenge, err := hex.DecodeString(challengeHex)
	if err != nil {
		return fmt.Errorf("routeros: malformed login challenge: %w", err)
	}

	h := md5.New()
	h.Write([]byte{0x00})
	io.WriteString(h, password)
	h.Write(challenge)
	response := fmt.Sprintf("00%x", h.Sum(nil))

	if err := c.writeSentence([]string{"/login", "=name=" + user, "=response=" + response}); err != nil {
		return err
	}
	reply, err := c.nextGlobal(ctx)
	if err != nil {
		return err
	}
	switch reply.Word() {
	case proto.ReplyDone:
		return nil
	case proto.ReplyTrap:
		return trapFromSentence(reply.Map())
	default:
		return fmt.Errorf("routeros: unexpected reply during challenge login: %v", reply.Words)
	}
}

// nextGlobal blocks for the next untagged sentence, or returns early on
// context cancellation or connection loss.
func (c *Client) nextGlobal(ctx context.Context) (proto.Sentence, error) {
	select {
	case s := <-c.global:
		return s, nil
	case <-ctx.Done():
		return proto.Sentence{}, fmt.Errorf("%w: %v", ErrConnectionTimeout, ctx.Err())
	case <-c.closed:
		return proto.Sentence{}, ErrConnectionLost
	}
}
