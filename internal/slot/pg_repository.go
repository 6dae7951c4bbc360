package slot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const slotColumns = `id, practitioner_id, start_at, end_at, mode, is_booked, created_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.PractitionerID,
		&s.StartAt,
		&s.EndAt,
		&s.Mode,
		&s.IsBooked,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, db.Wrap(err, "scan slot")
	}

	return &s, nil
}

func scanDayOff(row pgx.Row) (*DayOff, error) {
	var d DayOff
	var day time.Time

	err := row.Scan(
		&d.ID,
		&d.PractitionerID,
		&day,
		&d.Reason,
		&d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDayOffNotFound
		}
		return nil, db.Wrap(err, "scan day-off")
	}

	d.Date = schedule.DateFromTime(day)
	return &d, nil
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap(err, "read slots")
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) DayOffsBetween(ctx context.Context, practitionerID uuid.UUID, from, to schedule.Date) (schedule.DayOffSet, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day
		FROM doctor_day_offs
		WHERE practitioner_id = $1
		  AND day BETWEEN $2 AND $3
	`, practitionerID, from.Time(), to.Time())
	if err != nil {
		return nil, db.Wrap(err, "query day-offs")
	}
	defer rows.Close()

	set := schedule.DayOffSet{}
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, db.Wrap(err, "scan day-off")
		}
		set[schedule.DateFromTime(day)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap(err, "read day-offs")
	}
	return set, nil
}

func (r *PgRepository) InsertSlots(ctx context.Context, practitionerID uuid.UUID, rows []NewSlot, trigger Trigger) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	starts := make([]time.Time, len(rows))
	ends := make([]time.Time, len(rows))
	modes := make([]string, len(rows))
	for i, row := range rows {
		starts[i] = row.StartAt
		ends[i] = row.EndAt
		modes[i] = string(row.Mode)
	}

	var inserted int
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO slots (id, practitioner_id, start_at, end_at, mode)
			SELECT gen_random_uuid(), $1, u.start_at, u.end_at, u.mode
			FROM unnest($2::timestamptz[], $3::timestamptz[], $4::text[]) AS u(start_at, end_at, mode)
			ON CONFLICT (practitioner_id, start_at) DO NOTHING
		`, practitionerID, starts, ends, modes)
		if err != nil {
			return err
		}
		inserted = int(tag.RowsAffected())
		if inserted == 0 {
			return nil
		}
		return events.Record(ctx, tx, events.TypeSlotsMaterialized, practitionerID, map[string]any{
			"practitioner_id": practitionerID.String(),
			"planned":         len(rows),
			"created":         inserted,
			"first_start":     starts[0],
			"last_start":      starts[len(starts)-1],
			"trigger":         trigger,
		})
	})
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return 0, ErrPractitionerNotFound
		}
		return 0, db.Wrap(err, "insert slots")
	}
	return inserted, nil
}

func (r *PgRepository) ListUnbooked(ctx context.Context, practitionerID uuid.UUID, mode schedule.Mode, from, to, after time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE practitioner_id = $1
		  AND mode = $2
		  AND NOT is_booked
		  AND start_at >= $3
		  AND start_at < $4
		  AND start_at > $5
		ORDER BY start_at
	`, practitionerID, string(mode), from, to, after)
	if err != nil {
		return nil, db.Wrap(err, "query available slots")
	}
	return collectSlots(rows)
}

func (r *PgRepository) ListRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]AdminSlot, error) {
	// Prefer the active appointment; otherwise show the most recent one.
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.practitioner_id, s.start_at, s.end_at, s.mode, s.is_booked, s.created_at,
		       ap.id, ap.status, ap.patient_id, ap.patient_name
		FROM slots s
		LEFT JOIN LATERAL (
			SELECT a.id, a.status, a.patient_id, p.name AS patient_name
			FROM appointments a
			JOIN patients p ON p.id = a.patient_id
			WHERE a.slot_id = s.id
			ORDER BY (a.status IN ('PENDING', 'CONFIRMED')) DESC, a.created_at DESC
			LIMIT 1
		) ap ON true
		WHERE s.practitioner_id = $1
		  AND s.start_at >= $2
		  AND s.start_at < $3
		ORDER BY s.start_at
	`, practitionerID, from, to)
	if err != nil {
		return nil, db.Wrap(err, "query admin slots")
	}
	defer rows.Close()

	var result []AdminSlot
	for rows.Next() {
		var (
			s           AdminSlot
			apptID      *uuid.UUID
			status      *string
			patientID   *uuid.UUID
			patientName *string
		)
		if err := rows.Scan(
			&s.ID, &s.PractitionerID, &s.StartAt, &s.EndAt, &s.Mode, &s.IsBooked, &s.CreatedAt,
			&apptID, &status, &patientID, &patientName,
		); err != nil {
			return nil, db.Wrap(err, "scan admin slot")
		}
		if apptID != nil {
			s.Appointment = &AppointmentRef{ID: *apptID, Status: *status, PatientID: *patientID, PatientName: *patientName}
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap(err, "read admin slots")
	}
	return result, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) SetDayOff(ctx context.Context, off DayOff, dayStart, dayEnd time.Time) (*DayOffResult, error) {
	var result DayOffResult

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		saved, err := scanDayOff(tx.QueryRow(ctx, `
			INSERT INTO doctor_day_offs (id, practitioner_id, day, reason)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (practitioner_id, day) DO UPDATE SET reason = EXCLUDED.reason
			RETURNING id, practitioner_id, day, reason, created_at
		`, off.ID, off.PractitionerID, off.Date.Time(), off.Reason))
		if err != nil {
			return err
		}
		result.DayOff = *saved

		rows, err := tx.Query(ctx, `
			DELETE FROM slots
			WHERE practitioner_id = $1
			  AND start_at >= $2
			  AND start_at < $3
			RETURNING `+slotColumns, off.PractitionerID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		removed, err := collectSlots(rows)
		if err != nil {
			return err
		}
		result.RemovedSlots = len(removed)

		for _, s := range removed {
			if !s.IsBooked {
				continue
			}
			result.BookedRemoved = append(result.BookedRemoved, s)
			if err := events.Record(ctx, tx, events.TypeSlotBookedDeleted, s.ID, map[string]any{
				"slot_id":         s.ID.String(),
				"practitioner_id": s.PractitionerID.String(),
				"start_at":        s.StartAt,
				"day_off":         saved.Date.String(),
			}); err != nil {
				return err
			}
		}

		return events.Record(ctx, tx, events.TypeDayOffSet, saved.ID, map[string]any{
			"practitioner_id": saved.PractitionerID.String(),
			"date":            saved.Date.String(),
			"removed_slots":   result.RemovedSlots,
			"booked_removed":  len(result.BookedRemoved),
		})
	})
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, ErrPractitionerNotFound
		}
		return nil, db.Wrap(err, "set day-off")
	}
	return &result, nil
}

func (r *PgRepository) DeleteDayOff(ctx context.Context, id uuid.UUID) (*DayOff, error) {
	var deleted *DayOff
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		d, err := scanDayOff(tx.QueryRow(ctx, `
			DELETE FROM doctor_day_offs
			WHERE id = $1
			RETURNING id, practitioner_id, day, reason, created_at
		`, id))
		if err != nil {
			return err
		}
		deleted = d
		return events.Record(ctx, tx, events.TypeDayOffRemoved, d.ID, map[string]any{
			"practitioner_id": d.PractitionerID.String(),
			"date":            d.Date.String(),
		})
	})
	if err != nil {
		if errors.Is(err, ErrDayOffNotFound) {
			return nil, err
		}
		return nil, db.Wrap(err, "delete day-off")
	}
	return deleted, nil
}

func (r *PgRepository) ListDayOffs(ctx context.Context, practitionerID uuid.UUID) ([]DayOff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, practitioner_id, day, reason, created_at
		FROM doctor_day_offs
		WHERE practitioner_id = $1
		ORDER BY day
	`, practitionerID)
	if err != nil {
		return nil, db.Wrap(err, "query day-offs")
	}
	defer rows.Close()

	var result []DayOff
	for rows.Next() {
		d, err := scanDayOff(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap(err, "read day-offs")
	}
	return result, nil
}

func (r *PgRepository) PractitionerExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM practitioners WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, db.Wrap(err, "check practitioner")
	}
	return exists, nil
}

func (r *PgRepository) SolePractitioner(ctx context.Context) (uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM practitioners ORDER BY created_at LIMIT 2`)
	if err != nil {
		return uuid.Nil, db.Wrap(err, "query practitioners")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return uuid.Nil, db.Wrap(err, "scan practitioner")
	}
	switch len(ids) {
	case 0:
		return uuid.Nil, ErrPractitionerNotFound
	case 1:
		return ids[0], nil
	default:
		return uuid.Nil, ErrPractitionerAmbiguous
	}
}
