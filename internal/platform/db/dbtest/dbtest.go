// Package dbtest opens a throwaway facility schema for store tests that need
// a real Postgres. Tests using it are skipped unless OPD_TEST_DATABASE_URL is
// set.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/opd/internal/platform/db"
	"github.com/ehr/opd/migrations"
)

const EnvURL = "OPD_TEST_DATABASE_URL"

// Open migrates a fresh schema and returns a pool whose connections use it.
// The schema is dropped when the test ends.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skipf("%s not set", EnvURL)
	}
	ctx := context.Background()

	facility := "t" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	schema := db.SchemaName(facility)

	admin, err := db.NewPool(ctx, url, 4, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.CreateFacilitySchema(ctx, admin, facility, db.NewMigrator(admin, migrations.FS)); err != nil {
		admin.Close()
		t.Fatalf("migrate %s: %v", schema, err)
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	cfg.MaxConns = 16
	cfg.ConnConfig.RuntimeParams["search_path"] = fmt.Sprintf("%s, public", schema)
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
		admin.Close()
	})
	return pool
}

// InsertPatient adds a minimal patient row and returns its id.
func InsertPatient(t *testing.T, pool *pgxpool.Pool, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	mrn := "MRN-" + strings.ToUpper(id.String()[:8])
	if _, err := pool.Exec(context.Background(),
		`INSERT INTO patient (id, mrn, full_name) VALUES ($1, $2, $3)`, id, mrn, name); err != nil {
		t.Fatalf("insert patient: %v", err)
	}
	return id
}

// InsertDoctor adds an active doctor and returns its id.
func InsertDoctor(t *testing.T, pool *pgxpool.Pool, name string, fee float64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := pool.Exec(context.Background(),
		`INSERT INTO doctor (id, full_name, consultation_fee) VALUES ($1, $2, $3)`, id, name, fee); err != nil {
		t.Fatalf("insert doctor: %v", err)
	}
	return id
}
