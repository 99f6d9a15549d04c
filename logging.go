package routeros

import (
	"strings"

	"github.com/jcelliott/lumber"
)

// Logging attaches a lumber.Logger to the client. With level "DEBUG",
// every sentence sent/received and every tag subscribe/unsubscribe is
// logged; otherwise only connection-level events are. This mirrors the
// teacher library's Client.Logging method.
func (c *Client) Logging(l lumber.Logger, level string) {
	c.logger = l
	c.debug = strings.EqualFold(level, "DEBUG")
}

func (c *Client) logSent(words []string) {
	if c.logger == nil {
		return
	}
	if c.debug {
		c.logger.Debug("send: %v", words)
	}
}

func (c *Client) logReceived(words []string) {
	if c.logger == nil {
		return
	}
	if c.debug {
		c.logger.Debug("recv: %v", words)
	}
}

func (c *Client) logSubscribe(tag string) {
	if c.logger != nil && c.debug {
		c.logger.Debug("tag subscribe: %s", tag)
	}
}

func (c *Client) logUnsubscribe(tag string) {
	if c.logger != nil && c.debug {
		c.logger.Debug("tag unsubscribe: %s", tag)
	}
}

func (c *Client) logNotice(msg string) {
	if c.logger != nil {
		c.logger.Debug("notice: %s", msg)
	}
}

func (c *Client) logError(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Error(format, args...)
	}
}
