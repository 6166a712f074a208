// Package testutil provides shared test database setup for store and queue
// integration tests, mirroring the teacher's shared-testcontainer-plus-
// per-test-schema pattern.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	stdsql "database/sql"

	"github.com/evalforge/evalcore/pkg/database"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// SetupTestDatabase provisions a uniquely-schemad Postgres database, applies
// migrations, and returns a ready connection pool. The schema is dropped via
// t.Cleanup when the test finishes.
func SetupTestDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	connStr := getOrCreateSharedDatabase(t)
	schemaName := GenerateSchemaName(t)

	admin, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)

	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	_ = admin.Close()

	connStrWithSchema := AddSearchPathToConnString(connStr, schemaName)

	client, err := database.NewClient(ctx, connStrWithSchema, 5, 1)
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		dropConn, err := stdsql.Open("pgx", connStr)
		if err != nil {
			t.Logf("warning: failed to reconnect to drop schema %s: %v", schemaName, err)
			return
		}
		defer dropConn.Close()
		if _, err := dropConn.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schemaName, err)
		}
	})

	return client.Pool
}

// getOrCreateSharedDatabase returns a base connection string (no schema),
// preferring CI_DATABASE_URL and otherwise starting one shared testcontainer
// per test binary.
func getOrCreateSharedDatabase(t *testing.T) string {
	t.Helper()

	if ci := os.Getenv("CI_DATABASE_URL"); ci != "" {
		t.Log("using external postgres from CI_DATABASE_URL")
		return ci
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("starting shared postgres testcontainer")

		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("evalcore_test"),
			postgres.WithUsername("evalcore"),
			postgres.WithPassword("evalcore"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres testcontainer: %w", err)
			return
		}

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("resolve testcontainer connection string: %w", err)
			return
		}
		sharedConnStr = connStr
		t.Logf("shared postgres testcontainer ready")
	})

	require.NoError(t, containerErr, "failed to start shared test container")
	return sharedConnStr
}

// GenerateSchemaName builds a unique, Postgres-safe schema name from the
// running test's name.
func GenerateSchemaName(t *testing.T) string {
	t.Helper()
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}

	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("generate random schema suffix: %v", err)
	}
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(buf))
}

// AddSearchPathToConnString appends a search_path parameter so every pooled
// connection resolves unqualified tables against schemaName.
func AddSearchPathToConnString(connStr, schemaName string) string {
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", connStr, sep, schemaName)
}
