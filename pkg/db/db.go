package db

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// TLS modes accepted by Options.SSLMode.
const (
	SSLDisable = "disable"
	SSLPrefer  = "prefer"
	SSLRequire = "require"
)

// MaxConnectRetries caps Options.ConnectRetries.
const MaxConnectRetries = 20

type (
	// Options configures a database session.
	Options struct {
		// URL is a postgres://, postgresql://, or jdbc:postgresql://
		// connection URL. When empty, the discrete fields below are used
		// instead.
		URL string

		Host     string
		Port     int
		User     string
		Password string
		Database string

		// SSLMode is one of SSLDisable, SSLPrefer, or SSLRequire. Empty
		// leaves the URL's own sslmode (or the driver default) in effect.
		SSLMode string

		// ConnectRetries is the number of additional connection attempts
		// after the first failure. Values above MaxConnectRetries are
		// clamped.
		ConnectRetries int

		// ConnectTimeout bounds each connection attempt, in seconds. Zero
		// means no limit.
		ConnectTimeout int

		// StatementTimeout is applied to the session after connecting via
		// SET statement_timeout, in seconds. Zero leaves statements
		// unbounded.
		StatementTimeout int
	}

	// Session is a single PostgreSQL connection with advisory lock helpers.
	// The embedded pgx connection exposes Exec, Query, QueryRow, and Begin
	// directly.
	Session struct {
		*pgx.Conn
	}
)

// Connect establishes a database session. Transient failures are retried up
// to Options.ConnectRetries times with exponential backoff capped at 30s
// plus up to a second of jitter. Authentication failures (SQLSTATE 28P01 and
// 28000) are permanent and returned without retrying.
//
// Example usage:
//
//	session, err := db.Connect(ctx, db.Options{URL: "postgres://localhost:5432/app"})
//	if err != nil {
//	    return err
//	}
//	defer session.Close(ctx)
func Connect(ctx context.Context, opts Options) (*Session, error) {
	connStr, err := ConnString(opts)
	if err != nil {
		return nil, err
	}

	cfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		return nil, errors.Wrap(err, "parsing connection url")
	}
	cfg.ConnectTimeout = time.Duration(opts.ConnectTimeout) * time.Second
	cfg.DialFunc = (&net.Dialer{KeepAlive: 30 * time.Second}).DialContext

	retries := opts.ConnectRetries
	if retries < 0 {
		retries = 0
	}
	if retries > MaxConnectRetries {
		retries = MaxConnectRetries
	}

	var conn *pgx.Conn
	for attempt := 0; ; attempt++ {
		conn, err = pgx.ConnectConfig(ctx, cfg)
		if err == nil {
			if attempt > 0 {
				slog.Info("connected after retry", "attempt", attempt+1)
			}
			break
		}
		if IsAuthError(err) {
			return nil, errors.Wrap(err, "connecting to database")
		}
		if attempt >= retries {
			return nil, errors.Wrapf(err, "connecting to database after %d attempts", attempt+1)
		}

		delay := backoff(attempt + 1)
		slog.Warn("database connection failed, retrying",
			"attempt", attempt+1,
			"max_attempts", retries+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if opts.StatementTimeout > 0 {
		timeoutSQL := fmt.Sprintf("SET statement_timeout = '%ds'", opts.StatementTimeout)
		if _, err := conn.Exec(ctx, timeoutSQL); err != nil {
			_ = conn.Close(ctx)
			return nil, errors.Wrap(err, "setting statement timeout")
		}
	}

	return &Session{Conn: conn}, nil
}

// backoff returns the delay before retry attempt n.
func backoff(n int) time.Duration {
	base := min(1<<n, 30)
	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond

	return time.Duration(base)*time.Second + jitter
}

// ConnString renders opts into a pgx connection string. It normalizes JDBC
// URLs, assembles a URL from the discrete connection fields when none is
// given, and applies the configured TLS mode as the sslmode parameter.
func ConnString(opts Options) (string, error) {
	switch opts.SSLMode {
	case "", SSLDisable, SSLPrefer, SSLRequire:
	default:
		return "", errors.Errorf("unsupported ssl mode %q: expected disable, prefer, or require", opts.SSLMode)
	}

	raw := opts.URL
	if raw == "" {
		raw = discreteURL(opts)
	}

	u, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}

	if opts.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", opts.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// NormalizeURL parses a connection URL, accepting the JDBC form that Flyway
// configurations carry. The jdbc: prefix is stripped and user/password query
// parameters are lifted into the URL's userinfo; all other parameters are
// preserved.
func NormalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimPrefix(raw, "jdbc:")

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parsing connection url")
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, errors.Errorf("unsupported connection scheme %q: expected postgres:// or postgresql://", u.Scheme)
	}

	q := u.Query()
	user, password := q.Get("user"), q.Get("password")
	if user != "" || password != "" {
		q.Del("user")
		q.Del("password")

		// Userinfo present on the URL itself wins over query parameters.
		if u.User != nil {
			user = u.User.Username()
			if p, ok := u.User.Password(); ok {
				password = p
			}
		}
		if password != "" {
			u.User = url.UserPassword(user, password)
		} else {
			u.User = url.User(user)
		}
		u.RawQuery = q.Encode()
	}

	return u, nil
}

// discreteURL assembles a connection URL from the separate host/port fields.
func discreteURL(opts Options) string {
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	port := opts.Port
	if port == 0 {
		port = 5432
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + opts.Database,
	}
	if opts.User != "" {
		if opts.Password != "" {
			u.User = url.UserPassword(opts.User, opts.Password)
		} else {
			u.User = url.User(opts.User)
		}
	}

	return u.String()
}

// CurrentUser reports the session's effective database role.
func (s *Session) CurrentUser(ctx context.Context) (string, error) {
	var name string
	if err := s.QueryRow(ctx, "SELECT current_user").Scan(&name); err != nil {
		return "", errors.Wrap(err, "querying current_user")
	}

	return name, nil
}

// CurrentDatabase reports the database the session is connected to.
func (s *Session) CurrentDatabase(ctx context.Context) (string, error) {
	var name string
	if err := s.QueryRow(ctx, "SELECT current_database()").Scan(&name); err != nil {
		return "", errors.Wrap(err, "querying current_database")
	}

	return name, nil
}

// SQLState returns the five-character SQLSTATE code carried by err, or the
// empty string when err did not originate from the server.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	return ""
}

// IsAuthError reports whether err is an authentication failure (SQLSTATE
// 28P01 invalid_password or 28000 invalid_authorization_specification).
// Retrying cannot fix bad credentials.
func IsAuthError(err error) bool {
	switch SQLState(err) {
	case "28P01", "28000":
		return true
	}

	return false
}
