package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/slot"
)

const (
	constraintActiveSlot = "appointments_active_slot_key"
	constraintPaymentRef = "appointments_payment_order_ref_key"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const appointmentColumns = `id, patient_id, practitioner_id, slot_id, start_at, end_at, mode, status,
	payment_order_ref, amount, currency, plan_slug, plan_name, reminder_at, reminder_sent_at,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&a.SlotID,
		&a.StartAt,
		&a.EndAt,
		&a.Mode,
		&a.Status,
		&a.PaymentOrderRef,
		&a.Amount,
		&a.Currency,
		&a.PlanSlug,
		&a.PlanName,
		&a.ReminderAt,
		&a.ReminderSentAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, db.Wrap(err, "scan appointment")
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap(err, "read appointments")
	}
	return result, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func eventType(to Status) string {
	switch to {
	case StatusConfirmed:
		return events.TypeAppointmentConfirmed
	case StatusCancelled:
		return events.TypeAppointmentCancelled
	case StatusCompleted:
		return events.TypeAppointmentCompleted
	default:
		return events.TypeAppointmentCreated
	}
}

// Interface methods

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*slot.Slot, error) {
	var s slot.Slot
	err := r.pool.QueryRow(ctx, `
		SELECT id, practitioner_id, start_at, end_at, mode, is_booked, created_at
		FROM slots
		WHERE id = $1
	`, id).Scan(&s.ID, &s.PractitionerID, &s.StartAt, &s.EndAt, &s.Mode, &s.IsBooked, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, slot.ErrSlotNotFound
		}
		return nil, db.Wrap(err, "load slot")
	}
	return &s, nil
}

func (r *PgRepository) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, db.Wrap(err, "check patient")
	}
	return exists, nil
}

func (r *PgRepository) Claim(ctx context.Context, appt Appointment) (*Appointment, error) {
	var created *Appointment

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE slots
			SET is_booked = true
			WHERE id = $1
			  AND NOT is_booked
		`, appt.SlotID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrSlotAlreadyBooked
		}

		created, err = scanAppointment(tx.QueryRow(ctx, `
			INSERT INTO appointments (
				id, patient_id, practitioner_id, slot_id, start_at, end_at, mode, status,
				payment_order_ref, amount, currency, plan_slug, plan_name, reminder_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', $8, $9, $10, $11, $12, $13)
			RETURNING `+appointmentColumns,
			appt.ID, appt.PatientID, appt.PractitionerID, appt.SlotID, appt.StartAt, appt.EndAt,
			string(appt.Mode), appt.PaymentOrderRef, appt.Amount, appt.Currency,
			appt.PlanSlug, appt.PlanName, appt.ReminderAt,
		))
		if err != nil {
			return err
		}

		return events.Record(ctx, tx, events.TypeAppointmentCreated, created.ID, map[string]any{
			"slot_id":           appt.SlotID.String(),
			"patient_id":        created.PatientID.String(),
			"start_at":          created.StartAt,
			"mode":              created.Mode,
			"payment_order_ref": created.PaymentOrderRef,
		})
	})
	switch {
	case err == nil:
		return created, nil
	case errors.Is(err, ErrSlotAlreadyBooked), db.IsUniqueViolation(err, constraintActiveSlot):
		return nil, ErrSlotAlreadyBooked
	case db.IsUniqueViolation(err, constraintPaymentRef):
		return nil, ErrDuplicatePaymentRef
	case db.IsForeignKeyViolation(err):
		return nil, ErrPatientNotFound
	default:
		return nil, db.Wrap(err, "claim slot")
	}
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetByPaymentRef(ctx context.Context, ref string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_order_ref = $1
	`, ref)
	return scanAppointment(row)
}

func (r *PgRepository) Transition(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error) {
	var updated *Appointment

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		updated, err = scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2,
			    updated_at = now()
			WHERE id = $1
			  AND status = $3
			RETURNING `+appointmentColumns, id, string(to), string(from)))
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrStaleStatus
		}
		if err != nil {
			return err
		}

		if occupied := slotOccupancy(to); occupied != nil && updated.SlotID != nil {
			if _, err := tx.Exec(ctx, `UPDATE slots SET is_booked = $2 WHERE id = $1`, *updated.SlotID, *occupied); err != nil {
				return db.Wrap(err, "update slot occupancy")
			}
		}

		return events.Record(ctx, tx, eventType(to), updated.ID, map[string]any{
			"from":   from,
			"to":     to,
			"reason": reason,
		})
	})
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			// Tell a missing row apart from a lost race.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStaleStatus
		}
		return nil, db.Wrap(err, "transition appointment "+id.String())
	}
	return updated, nil
}

func (r *PgRepository) ClaimDueReminders(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	var due []Appointment

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE status = 'CONFIRMED'
			  AND reminder_sent_at IS NULL
			  AND reminder_at <= $1
			  AND start_at > $1
			ORDER BY reminder_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, now, limit)
		if err != nil {
			return err
		}
		due, err = collectAppointments(rows)
		if err != nil || len(due) == 0 {
			return err
		}

		ids := make([]uuid.UUID, 0, len(due))
		for i := range due {
			ids = append(ids, due[i].ID)
			due[i].ReminderSentAt = &now
			if err := events.Record(ctx, tx, events.TypeReminderDue, due[i].ID, map[string]any{
				"patient_id": due[i].PatientID.String(),
				"start_at":   due[i].StartAt,
				"mode":       due[i].Mode,
			}); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE appointments
			SET reminder_sent_at = $2
			WHERE id = ANY($1)
		`, ids, now)
		return err
	})
	if err != nil {
		return nil, db.Wrap(err, "claim due reminders")
	}
	return due, nil
}

func (r *PgRepository) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'PENDING'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, db.Wrap(err, "find stale pending appointments")
	}
	return collectAppointments(rows)
}
