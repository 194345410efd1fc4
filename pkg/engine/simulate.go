package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"

	"github.com/waypointdb/waypoint/pkg/utils"
)

// SimulateReport is the outcome of a scratch-schema rehearsal.
type SimulateReport struct {
	Schema string         `json:"schema"`
	Report *MigrateReport `json:"report"`
}

// Simulate rehearses the pending migrations in a throwaway schema on a second
// connection: it creates the schema, points search_path at it, runs the full
// migrate flow against it, and drops it again no matter what happened. The
// real schema, its history, and the advisory lock are never touched. Any
// failure inside the rehearsal reports as a simulation failure.
func (e *Engine) Simulate(ctx context.Context) (*SimulateReport, error) {
	if e.dial == nil {
		return nil, failf(KindConfiguration, "simulate requires a dialer for its second connection")
	}

	dir, err := e.scan()
	if err != nil {
		return nil, err
	}

	conn, err := e.dial(ctx)
	if err != nil {
		return nil, fail(KindDB, errors.Wrap(err, "dialing simulation connection"))
	}
	defer func() {
		if err := conn.Close(ctx); err != nil {
			e.log.Warn("closing simulation connection", "error", err)
		}
	}()

	scratch, err := scratchSchemaName()
	if err != nil {
		return nil, fail(KindSimulation, err)
	}

	if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", utils.QuoteIdentifier(scratch))); err != nil {
		return nil, fail(KindSimulation, errors.Wrap(err, "creating scratch schema"))
	}
	defer func() {
		if _, err := conn.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", utils.QuoteIdentifier(scratch))); err != nil {
			e.log.Warn("dropping scratch schema", "schema", scratch, "error", err)
		}
	}()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", utils.QuoteIdentifier(scratch))); err != nil {
		return nil, fail(KindSimulation, errors.Wrap(err, "setting search_path"))
	}

	// The rehearsal engine is this engine pointed at the scratch schema.
	// Validation is pointless against an empty history, and safety verdicts
	// would read the scratch tables' sizes rather than production's, so both
	// are off.
	simCfg := *e.cfg
	simCfg.Migrations.Schema = scratch
	simCfg.Migrations.ValidateOnMigrate = false
	simCfg.Safety.BlockOnDanger = false

	sim := &Engine{
		db:        conn,
		cfg:       &simCfg,
		locations: e.locations,
		log:       e.log.With("simulation", scratch),
	}

	report := &MigrateReport{}
	result := &SimulateReport{Schema: scratch, Report: report}
	if err := sim.migrateLocked(ctx, dir, MigrateOptions{}, report); err != nil {
		return result, &Error{Kind: KindSimulation, Err: err}
	}

	e.log.Info("simulation succeeded", "schema", scratch, "applied", report.Applied)

	return result, nil
}

func scratchSchemaName() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.Wrap(err, "naming scratch schema")
	}

	return "waypoint_sim_" + hex.EncodeToString(b[:]), nil
}
