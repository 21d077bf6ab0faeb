//go:build integration

// Package testutil provides the PostgreSQL database used by integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/socialblocklabs/arp-agent/migrations"
)

// PostgresImage is the container image used when POSTGRES_URL is unset.
const PostgresImage = "postgres:16-alpine"

// One container per test binary; Ryuk reaps it when the process exits.
var shared struct {
	once sync.Once
	dsn  string
	err  error
}

// PostgresDB is a migrated, empty database for one test.
type PostgresDB struct {
	DB  *sql.DB
	DSN string
}

// NewPostgres connects to POSTGRES_URL, or to a shared postgres container
// when it is unset, applies the embedded migrations and truncates the
// application tables. The test is skipped when no database can be started.
// The connection is closed on test cleanup.
func NewPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		shared.once.Do(func() { shared.dsn, shared.err = startContainer(ctx) })
		if shared.err != nil {
			t.Skipf("testutil: POSTGRES_URL not set and postgres container unavailable: %v", shared.err)
		}
		dsn = shared.dsn
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("testutil: open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("testutil: connect to database: %v", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		t.Fatalf("testutil: apply migrations: %v", err)
	}

	p := &PostgresDB{DB: db, DSN: dsn}
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("testutil: reset database: %v", err)
	}
	return p
}

// Reset removes every row written by the application.
func (p *PostgresDB) Reset(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, `TRUNCATE attestations`)
	return err
}

func startContainer(ctx context.Context) (string, error) {
	ctr, err := tcpostgres.Run(ctx, PostgresImage,
		tcpostgres.WithDatabase("arp_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return "", err
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return "", err
	}
	return dsn, nil
}
