package cmd

import (
	"context"

	"github.com/urfave/cli/v3"
	"github.com/waypointdb/waypoint/pkg/config"
	"github.com/waypointdb/waypoint/pkg/db"
	"github.com/waypointdb/waypoint/pkg/engine"
	"github.com/waypointdb/waypoint/pkg/utils"
)

// overridesFrom maps global flags onto configuration overrides. Only flags
// the user actually set become overrides, so unset flags leave the file and
// environment layers in effect.
func overridesFrom(cmd *cli.Command) config.Overrides {
	var o config.Overrides

	if cmd.IsSet("url") {
		o.URL = utils.Ptr(cmd.String("url"))
	}
	if cmd.IsSet("schema") {
		o.Schema = utils.Ptr(cmd.String("schema"))
	}
	if cmd.IsSet("table") {
		o.Table = utils.Ptr(cmd.String("table"))
	}
	if cmd.IsSet("locations") {
		o.Locations = config.SplitList(cmd.String("locations"))
	}
	if cmd.IsSet("environment") {
		o.Environment = utils.Ptr(cmd.String("environment"))
	}
	if cmd.IsSet("target") {
		o.Target = utils.Ptr(cmd.String("target"))
	}
	switch {
	case cmd.Bool("out-of-order"):
		o.OutOfOrder = utils.Ptr(true)
	case cmd.Bool("no-out-of-order"):
		o.OutOfOrder = utils.Ptr(false)
	}
	switch {
	case cmd.Bool("validate-on-migrate"):
		o.ValidateOnMigrate = utils.Ptr(true)
	case cmd.Bool("no-validate-on-migrate"):
		o.ValidateOnMigrate = utils.Ptr(false)
	}
	if cmd.IsSet("batch") {
		o.Batch = utils.Ptr(cmd.Bool("batch"))
	}
	if cmd.IsSet("connect-retries") {
		o.ConnectRetries = utils.Ptr(int(cmd.Int("connect-retries")))
	}
	if cmd.IsSet("ssl-mode") {
		o.SSLMode = utils.Ptr(cmd.String("ssl-mode"))
	}
	if cmd.IsSet("connect-timeout") {
		o.ConnectTimeoutSecs = utils.Ptr(int(cmd.Int("connect-timeout")))
	}
	if cmd.IsSet("statement-timeout") {
		o.StatementTimeoutSecs = utils.Ptr(int(cmd.Int("statement-timeout")))
	}
	if cmd.IsSet("lock-timeout") {
		o.LockTimeoutSecs = utils.Ptr(int(cmd.Int("lock-timeout")))
	}

	return o
}

// connect opens the primary database session from the resolved configuration.
func (s *State) connect(ctx context.Context) (*db.Session, error) {
	opts, err := s.Config.DBOptions()
	if err != nil {
		return nil, &engine.Error{Kind: engine.KindConfiguration, Err: err}
	}

	session, err := db.Connect(ctx, opts)
	if err != nil {
		return nil, &engine.Error{Kind: engine.KindDB, Err: err}
	}

	return session, nil
}

// engine builds an Engine on the given session. The dial function hands
// simulate its second short-lived connection.
func (s *State) engine(session *db.Session) *engine.Engine {
	return engine.New(engine.Config{
		DB:     session,
		Config: s.Config,
		Dial: func(ctx context.Context) (engine.SessionConn, error) {
			opts, err := s.Config.DBOptions()
			if err != nil {
				return nil, err
			}

			extra, err := db.Connect(ctx, opts)
			if err != nil {
				return nil, err
			}

			return extra, nil
		},
	})
}

// emit renders a report: the JSON document when --json is set, the text
// renderer otherwise.
func (s *State) emit(report any, text func() error) error {
	if s.JSON {
		return s.Renderer.JSON(report)
	}

	return text()
}
