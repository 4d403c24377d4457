// Package postgres wraps the pgx connection used by the migration
// engine: TLS-capable connect with retry and backoff, session-scoped
// advisory locking, transient-error classification, and identifier
// quoting.
//
// The engine deliberately holds a single *pgx.Conn rather than a pool:
// advisory locks and SET statement_timeout are session-scoped, so every
// statement of a run must travel over the same session.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	// retryBaseDelay is the first backoff step of the connect cycle.
	retryBaseDelay = 250 * time.Millisecond

	// retryMaxDelay caps the exponential backoff.
	retryMaxDelay = 10 * time.Second
)

// SSLMode selects the TLS behavior of the connection.
type SSLMode string

const (
	// SSLDisable never uses TLS.
	SSLDisable SSLMode = "disable"
	// SSLPrefer tries TLS first and falls back to plaintext.
	SSLPrefer SSLMode = "prefer"
	// SSLRequire requires TLS and fails if the handshake fails.
	SSLRequire SSLMode = "require"
)

// ParseSSLMode parses an ssl_mode configuration value.
func ParseSSLMode(s string) (SSLMode, error) {
	switch strings.ToLower(s) {
	case "", "prefer":
		return SSLPrefer, nil
	case "disable", "disabled":
		return SSLDisable, nil
	case "require", "required":
		return SSLRequire, nil
	default:
		return "", errors.Errorf("invalid ssl_mode %q: use disable, prefer, or require", s)
	}
}

// ConnectOptions configures Connect.
type ConnectOptions struct {
	// URL is a postgres:// connection URL. jdbc: URLs must be normalized
	// by the config layer before reaching here.
	URL string

	// SSLMode selects the TLS behavior. Defaults to prefer.
	SSLMode SSLMode

	// ConnectTimeout bounds a single connection attempt. Zero means no
	// timeout.
	ConnectTimeout time.Duration

	// ConnectRetries is the number of additional attempts after the
	// first failure.
	ConnectRetries int

	// StatementTimeout is applied server-side via SET statement_timeout.
	// Zero leaves statements unbounded.
	StatementTimeout time.Duration

	// Keepalive enables TCP keepalive probes at the given interval.
	// Zero uses the transport default.
	Keepalive time.Duration

	// Logger receives retry progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is the engine's database session. It owns exactly one
// connection; Reconnect replaces it after a transient failure between
// migrations.
type Client struct {
	conn   *pgx.Conn
	opts   ConnectOptions
	logger *slog.Logger
}

// Connect establishes the database session, retrying transport failures
// up to opts.ConnectRetries times with exponential backoff plus jitter
// (base 250ms, cap 10s). Authentication rejections are permanent and not
// retried.
func Connect(ctx context.Context, opts ConnectOptions) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SSLMode == "" {
		opts.SSLMode = SSLPrefer
	}

	c := &Client{opts: opts, logger: logger}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	var lastErr error

	for attempt := 0; attempt <= c.opts.ConnectRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.logger.Info("connection attempt failed, retrying",
				"attempt", attempt+1,
				"max_attempts", c.opts.ConnectRetries+1,
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "connect cancelled")
			}
		}

		conn, err := c.connectOnce(ctx)
		if err == nil {
			c.conn = conn
			if attempt > 0 {
				c.logger.Info("connected after retry", "attempt", attempt+1)
			}
			if err := c.applyStatementTimeout(ctx); err != nil {
				_ = conn.Close(ctx)
				return err
			}
			return nil
		}

		if isAuthError(err) {
			return &ConnectError{Reason: "authentication rejected", Err: err}
		}
		lastErr = err
	}

	return &ConnectError{
		Reason: "exhausted connection retries",
		Err:    lastErr,
	}
}

func (c *Client) connectOnce(ctx context.Context) (*pgx.Conn, error) {
	cfg, err := pgx.ParseConfig(withSSLMode(c.opts.URL, c.opts.SSLMode))
	if err != nil {
		return nil, errors.Wrap(err, "invalid connection URL")
	}

	cfg.ConnectTimeout = c.opts.ConnectTimeout
	if c.opts.SSLMode == SSLRequire && cfg.TLSConfig != nil {
		tlsCfg, err := tlsConfig(cfg.Host)
		if err != nil {
			return nil, err
		}
		cfg.TLSConfig = tlsCfg
	}
	if c.opts.Keepalive > 0 {
		dialer := &net.Dialer{KeepAlive: c.opts.Keepalive}
		cfg.DialFunc = dialer.DialContext
	}

	return pgx.ConnectConfig(ctx, cfg)
}

func (c *Client) applyStatementTimeout(ctx context.Context) error {
	if c.opts.StatementTimeout <= 0 {
		return nil
	}
	// SET does not take bind parameters; the value is a trusted integer.
	sql := fmt.Sprintf("SET statement_timeout = %d", c.opts.StatementTimeout.Milliseconds())
	_, err := c.conn.Exec(ctx, sql)
	return errors.Wrap(err, "failed to set statement_timeout")
}

// Reconnect tears down the current connection and runs a fresh connect
// cycle. Used after a transient failure between migrations.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.conn != nil {
		_ = c.conn.Close(ctx)
	}
	return c.connect(ctx)
}

// Close terminates the session.
func (c *Client) Close(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close(ctx)
}

// Conn exposes the underlying pgx connection.
func (c *Client) Conn() *pgx.Conn { return c.conn }

// Exec runs a statement and discards the result.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.conn.Exec(ctx, sql, args...)
	return err
}

// Query runs a query returning rows.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

// QueryRow runs a query expected to return a single row.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

// Begin opens a transaction on the session.
func (c *Client) Begin(ctx context.Context) (pgx.Tx, error) {
	return c.conn.Begin(ctx)
}

// CurrentUser returns the session user.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	var user string
	if err := c.conn.QueryRow(ctx, "SELECT current_user").Scan(&user); err != nil {
		return "", errors.Wrap(err, "failed to query current_user")
	}
	return user, nil
}

// CurrentDatabase returns the connected database name.
func (c *Client) CurrentDatabase(ctx context.Context) (string, error) {
	var db string
	if err := c.conn.QueryRow(ctx, "SELECT current_database()").Scan(&db); err != nil {
		return "", errors.Wrap(err, "failed to query current_database()")
	}
	return db, nil
}

// Ping verifies the session is still alive with a minimal round-trip.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(retryBaseDelay)))
}

// withSSLMode ensures the URL carries an sslmode parameter matching the
// configured mode. An sslmode already present in the URL wins.
func withSSLMode(connURL string, mode SSLMode) string {
	u, err := url.Parse(connURL)
	if err != nil {
		return connURL
	}
	q := u.Query()
	if q.Get("sslmode") != "" {
		return connURL
	}
	q.Set("sslmode", string(mode))
	u.RawQuery = q.Encode()
	return u.String()
}
