package events

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/db"
)

// Stored is an outbox row with its sequence id.
type Stored struct {
	Seq int64
	Event
}

// Source hands out batches of unpublished events. A batch is marked
// published only when fn returns nil.
type Source interface {
	WithUnpublished(ctx context.Context, limit int, fn func(batch []Stored) error) error
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) WithUnpublished(ctx context.Context, limit int, fn func(batch []Stored) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch, err := fetchUnpublished(ctx, tx, limit)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		seqs := make([]int64, 0, len(batch))
		for _, r := range batch {
			seqs = append(seqs, r.Seq)
		}
		return markPublished(ctx, tx, seqs)
	})
}

func fetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Stored, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, event_type, aggregate_id, payload, created_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, db.Wrap(err, "fetch unpublished events")
	}
	defer rows.Close()

	var out []Stored
	for rows.Next() {
		var r Stored
		if err := rows.Scan(&r.Seq, &r.ID, &r.Type, &r.AggregateID, &r.Payload, &r.CreatedAt); err != nil {
			return nil, db.Wrap(err, "scan event")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func markPublished(ctx context.Context, tx pgx.Tx, seqs []int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE event_logs
		SET published_at = now()
		WHERE id = ANY($1)
	`, seqs)
	if err != nil {
		return db.Wrap(err, "mark events published")
	}
	return nil
}
