// Package docker provides Docker integration for running temporary
// PostgreSQL instances in integration tests.
//
// The package wraps the testcontainers-go postgres module with waypoint's
// defaults so a test can stand up a throwaway server in one call and tear it
// down with the test. Containers listen on a random host port; the DSN is
// queried after startup rather than assumed.
//
// # Usage Example
//
//	import (
//		"context"
//		"github.com/waypointdb/waypoint/pkg/db"
//		"github.com/waypointdb/waypoint/pkg/docker"
//	)
//
//	container := docker.New()
//
//	ctx := context.Background()
//	defer container.Stop(ctx)
//
//	if err := container.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	// Get connection details and connect
//	dsn, _ := container.GetDSN()
//	session, err := db.Connect(ctx, db.Options{URL: dsn})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close(ctx)
package docker
