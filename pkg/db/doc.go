// Package db manages the PostgreSQL session every waypoint command runs on.
//
// It brings up a single pgx connection from a connection URL or discrete
// host/port fields, normalizing the JDBC form that Flyway configurations
// carry. Transient connection failures are retried with capped exponential
// backoff; authentication failures are permanent and surface immediately.
//
// Key features:
//   - URL normalization: postgres://, postgresql://, and jdbc:postgresql://
//     (the jdbc: prefix is stripped and user/password query parameters are
//     lifted into the URL's userinfo)
//   - TLS modes disable, prefer, and require mapped onto libpq sslmode
//   - Per-session statement timeout and TCP keepalive
//   - Session advisory locks keyed by the history table, serializing
//     concurrent runners against the same database
//   - SQLSTATE extraction for error classification
//
// Example usage:
//
//	session, err := db.Connect(ctx, db.Options{
//	    URL:            "postgres://app@localhost:5432/app",
//	    SSLMode:        db.SSLPrefer,
//	    ConnectRetries: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer session.Close(ctx)
//
//	key := db.LockKey("public", "waypoint_history")
//	if err := session.AcquireLock(ctx, key, 0); err != nil {
//	    return err
//	}
//	defer session.ReleaseLock(ctx, key)
//
// Advisory locks are session scoped. Closing the connection releases them,
// so an interrupted run never leaves the database locked.
package db
