// Package dbtest opens a migrated Postgres pool for integration tests. Tests
// are skipped unless CLINIC_TEST_POSTGRES_DSN is set.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/db"
)

const dsnEnv = "CLINIC_TEST_POSTGRES_DSN"

func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skip(dsnEnv + " not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.WithApplicationName("clinic-tests"))
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.NewMigrator(pool).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// Practitioner inserts a practitioner with a unique email. Tests scope
// their rows to it so they can share one database.
func Practitioner(t testing.TB, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	return insertPerson(t, pool, "practitioners")
}

func Patient(t testing.TB, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	return insertPerson(t, pool, "patients")
}

func insertPerson(t testing.TB, pool *pgxpool.Pool, table string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	email := id.String()[:8] + "." + gofakeit.Email()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO `+table+` (id, name, email, phone) VALUES ($1, $2, $3, $4)`,
		id, gofakeit.Name(), email, gofakeit.Phone(),
	)
	if err != nil {
		t.Fatalf("insert into %s: %v", table, err)
	}
	return id
}

// CountEvents counts outbox rows of one type for an aggregate.
func CountEvents(t testing.TB, pool *pgxpool.Pool, eventType string, aggregateID uuid.UUID) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(),
		`SELECT count(*) FROM event_logs WHERE event_type = $1 AND aggregate_id = $2`,
		eventType, aggregateID,
	).Scan(&n)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}
