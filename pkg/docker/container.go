package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type (
	// DockerOptions represents options for running PostgreSQL in Docker
	DockerOptions struct {
		// Version is the PostgreSQL major version to run (default: 17)
		Version string

		// Database is the database created on startup (default: waypoint)
		Database string

		// Username is the superuser created on startup (default: waypoint)
		Username string

		// Password for Username (default: waypoint)
		Password string
	}

	// Container manages PostgreSQL Docker containers for integration tests
	Container struct {
		options   DockerOptions
		container *postgres.PostgresContainer
	}
)

// New creates a new Docker container with default options
//
// Example:
//
//	container := docker.New()
//
//	// Start PostgreSQL container
//	if err := container.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer container.Stop(ctx)
func New() *Container {
	return &Container{
		options: DockerOptions{},
	}
}

// NewWithOptions creates a new Docker container with custom options
//
// Example:
//
//	opts := docker.DockerOptions{
//		Version:  "16",
//		Database: "orders",
//	}
//	container := docker.NewWithOptions(opts)
//
//	if err := container.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer container.Stop(ctx)
func NewWithOptions(opts DockerOptions) *Container {
	return &Container{
		options: opts,
	}
}

// Start starts a PostgreSQL Docker container with the configured version
func (c *Container) Start(ctx context.Context) error {
	if c.container != nil {
		return errors.New("container is already running")
	}

	version := c.options.Version
	if version == "" {
		version = "17"
	}

	database := c.options.Database
	if database == "" {
		database = "waypoint"
	}

	username := c.options.Username
	if username == "" {
		username = "waypoint"
	}

	password := c.options.Password
	if password == "" {
		password = "waypoint"
	}

	container, err := postgres.Run(ctx,
		fmt.Sprintf("postgres:%s-alpine", version),
		postgres.WithDatabase(database),
		postgres.WithUsername(username),
		postgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			// The log line appears once during initdb and again when the
			// server is actually accepting connections.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return errors.Wrap(err, "failed to start PostgreSQL container")
	}

	c.container = container
	return nil
}

// Stop stops and removes the PostgreSQL Docker container
func (c *Container) Stop(ctx context.Context) error {
	if c.container == nil {
		return nil // Already stopped
	}

	err := c.container.Terminate(ctx)
	c.container = nil

	if err != nil {
		return errors.Wrap(err, "failed to stop PostgreSQL container")
	}

	return nil
}

// GetDSN returns the DSN for connecting to the Docker PostgreSQL instance.
// TLS is not configured on the container, so sslmode=disable is appended.
func (c *Container) GetDSN() (string, error) {
	if c.container == nil {
		return "", errors.New("container is not running")
	}

	dsn, err := c.container.ConnectionString(context.Background(), "sslmode=disable")
	if err != nil {
		return "", errors.Wrap(err, "failed to get connection string")
	}

	return dsn, nil
}

// IsRunning returns true if the container is currently running
func (c *Container) IsRunning() bool {
	return c.container != nil
}
