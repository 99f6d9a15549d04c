package routeros

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jcelliott/lumber"
)

// caPool builds a certificate pool from a PEM-encoded CA bundle. A nil
// bundle yields a nil pool, which tells crypto/tls to use the system
// root pool.
func caPool(pemBundle []byte) *x509.CertPool {
	if len(pemBundle) == 0 {
		return nil
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(pemBundle)
	return pool
}

// TLSConfig holds the TLS-specific knobs from spec §4.6's connector
// configuration. Hostname verification is on by default (the zero value
// verifies); set InsecureSkipVerify to match spec §4.6's
// verify_hostname=false escape hatch.
type TLSConfig struct {
	Enabled            bool
	CABundle           []byte
	ClientCert         *tls.Certificate
	InsecureSkipVerify bool // default false: verify_hostname defaults to true
}

// Config is the Connector's configuration (spec §4.6).
type Config struct {
	Host string // required
	Port int    // default 8728 plain / 8729 TLS

	TLS TLSConfig

	ConnectTimeout time.Duration // default 10s
	IdleTimeout    time.Duration // 0 disables the idle timeout

	Keepalive bool // enables TCP keep-alive probes; the zero value (false) leaves them off and is not defaulted to true

	// Retry, when non-nil, enables retrying the initial TCP/TLS dial
	// with exponential backoff (e.g. on a transient ECONNREFUSED) up to
	// ConnectTimeout. When nil, Dial attempts the transport exactly
	// once.
	Retry *backoff.ExponentialBackOff

	// Logger, when set, receives debug/error logs (see Client.Logging).
	// lumber.Logger is itself an interface; *lumber.ConsoleLogger and
	// *lumber.FileLogger both satisfy it directly, so this field holds
	// the interface value, not a pointer to it.
	Logger lumber.Logger
	// LogLevel, when "DEBUG", logs every sentence and tag event.
	LogLevel string
}

func (cfg Config) withDefaults() Config {
	if cfg.Port == 0 {
		if cfg.TLS.Enabled {
			cfg.Port = 8729
		} else {
			cfg.Port = 8728
		}
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return cfg
}

// Dial connects, authenticates as user/password, and returns a ready
// Client. It blocks until login completes or fails.
func Dial(config Config, user, password string) (*Client, error) {
	return DialContext(context.Background(), config, user, password)
}

// DialContext is Dial with a caller-supplied context governing both the
// transport connect and the login handshake.
func DialContext(ctx context.Context, config Config, user, password string) (*Client, error) {
	config = config.withDefaults()
	if config.Host == "" {
		return nil, fmt.Errorf("routeros: Config.Host is required")
	}

	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	conn, err := dialTransport(ctx, config)
	if err != nil {
		return nil, err
	}

	c := newClient(conn)
	if config.Logger != nil {
		c.Logging(config.Logger, config.LogLevel)
	} else {
		c.Logging(lumber.NewConsoleLogger(lumber.WARN), config.LogLevel)
	}

	if err := c.tx.Connect(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.run(context.Background())
	c.emitConnected()

	if config.IdleTimeout > 0 {
		c.armIdleTimeout(config.IdleTimeout)
	}

	if err := c.login(ctx, user, password); err != nil {
		c.teardown(err)
		return nil, fmt.Errorf("%w: %v", ErrLoginRejected, err)
	}

	c.mu.Lock()
	c.state = stateConnected
	c.mu.Unlock()

	return c, nil
}

func dialTransport(ctx context.Context, config Config) (net.Conn, error) {
	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	dial := func() (net.Conn, error) {
		d := net.Dialer{Timeout: config.ConnectTimeout, KeepAlive: -1}
		if config.Keepalive {
			d.KeepAlive = 30 * time.Second
		}
		if config.TLS.Enabled {
			tlsCfg := &tls.Config{
				InsecureSkipVerify: config.TLS.InsecureSkipVerify,
				RootCAs:            caPool(config.TLS.CABundle),
			}
			if config.TLS.ClientCert != nil {
				tlsCfg.Certificates = []tls.Certificate{*config.TLS.ClientCert}
			}
			tlsDialer := &tls.Dialer{NetDialer: &d, Config: tlsCfg}
			conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTLSHandshakeFailed, err)
			}
			return conn, nil
		}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionRefused, err)
		}
		return conn, nil
	}

	if config.Retry == nil {
		conn, err := dial()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionTimeout, ctx.Err())
		}
		return conn, err
	}

	bo := backoff.WithContext(config.Retry, ctx)
	conn, err := backoff.RetryWithData(dial, bo)
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionTimeout, ctx.Err())
	}
	return conn, err
}

func (c *Client) armIdleTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(d, func() {
		c.emitTimeout()
		c.teardown(ErrConnectionTimeout)
	})
	c.idleDuration = d
}

// resetIdleTimeout is called on every byte received; it is a no-op if no
// idle timeout is configured.
func (c *Client) resetIdleTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer == nil {
		return
	}
	c.idleTimer.Reset(c.idleDuration)
}
