package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
)

func main() {
	log := logger.New(os.Getenv("APP_ENV")).With().Str("service", "seed").Logger()
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	patients := 500
	if v := os.Getenv("SEED_PATIENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			log.Fatal().Str("SEED_PATIENTS", v).Msg("invalid patient count")
		}
		patients = n
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.WithApplicationName("clinic-seed"))
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	applied, err := db.NewMigrator(pool).Up(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	log.Info().Int("applied", applied).Msg("migrations up to date")

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	pid, err := seedPractitioner(ctx, pool, faker)
	if err != nil {
		log.Fatal().Err(err).Msg("seed practitioner")
	}
	log.Info().Str("practitioner_id", pid.String()).Msg("practitioner ready")

	if err := seedPatients(ctx, pool, faker, patients, log); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

// seedPractitioner keeps single-practitioner deployments single: an
// existing practitioner is reused.
func seedPractitioner(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker) (uuid.UUID, error) {
	var id uuid.UUID
	err := pool.QueryRow(ctx, `SELECT id FROM practitioners ORDER BY created_at LIMIT 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	id = uuid.New()
	_, err = pool.Exec(ctx, `
		INSERT INTO practitioners (id, name, email, phone)
		VALUES ($1, $2, $3, $4)
	`, id, "Dr. "+faker.Name(), faker.Email(), faker.Phone())
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert practitioner: %w", err)
	}
	return id, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, log zerolog.Logger) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for i := offset; i < end; i++ {
				batch.Queue(`
					INSERT INTO patients (id, name, email, phone)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (email) DO NOTHING
				`, uuid.New(), faker.Name(), faker.Email(), faker.Phone())
			}
			return tx.SendBatch(ctx, batch).Close()
		})
		if err != nil {
			return err
		}

		log.Info().Int("seeded", end).Int("total", count).Msg("patients seeded")
	}
	return nil
}
