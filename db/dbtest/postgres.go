// Package dbtest starts a throwaway PostgreSQL for integration tests.
package dbtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"

	"github.com/padraicbc/dhworkers/db"
)

const image = "postgres:16-alpine"

var (
	shared     *bun.DB
	sharedDSN  string
	sharedOnce sync.Once
	sharedErr  error
)

// DB returns a connection to a shared container with all tables created.
// The container is started once per test binary.
func DB(t *testing.T) *bun.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode (requires Docker)")
	}

	sharedOnce.Do(func() {
		shared, sharedDSN, sharedErr = start()
	})
	if sharedErr != nil {
		t.Fatalf("failed to set up test database: %v", sharedErr)
	}
	return shared
}

// Truncate empties every table.
func Truncate(t *testing.T, bdb *bun.DB) {
	t.Helper()
	_, err := bdb.ExecContext(context.Background(), `TRUNCATE ra_runners, ra_races, ra_horses, ra_jockeys,
		ra_trainers, ra_owners, ra_sires, ra_dams, ra_damsires, ra_courses, ra_bookmakers, ra_entity_stats`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func start() (*bun.DB, string, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "darkhorses",
			"POSTGRES_USER":     "darkhorses",
			"POSTGRES_PASSWORD": "test_password",
		},
		// postgres logs readiness twice: once for the init server, once for the real one
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://darkhorses:test_password@%s:%s/darkhorses?sslmode=disable", host, port.Port())

	var bdb *bun.DB
	for i := 0; i < 10; i++ {
		if bdb, err = db.Open(ctx, dsn, false); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, "", err
	}
	if err := db.CreateTables(ctx, bdb); err != nil {
		return nil, "", err
	}
	return bdb, dsn, nil
}

// DSN returns the connection string of the shared container.
func DSN(t *testing.T) string {
	t.Helper()
	DB(t)
	return sharedDSN
}
