package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	TypeSlotsMaterialized    = "slot.materialized"
	TypeSlotBookedDeleted    = "slot.booked_deleted"
	TypeDayOffSet            = "dayoff.set"
	TypeDayOffRemoved        = "dayoff.removed"
	TypeAppointmentCreated   = "appointment.created"
	TypeAppointmentConfirmed = "appointment.confirmed"
	TypeAppointmentCancelled = "appointment.cancelled"
	TypeAppointmentCompleted = "appointment.completed"
	TypeReminderDue          = "appointment.reminder_due"
)

// Event is one row of the event_logs outbox. It is written in the same
// transaction as the state change it describes.
type Event struct {
	ID          uuid.UUID
	Type        string
	AggregateID uuid.UUID
	Payload     []byte
	CreatedAt   time.Time
}

func New(eventType string, aggregateID uuid.UUID, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Execer is satisfied by pgx.Tx, *pgxpool.Pool and *pgx.Conn.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func Insert(ctx context.Context, q Execer, ev Event) error {
	_, err := q.Exec(ctx, `
		INSERT INTO event_logs (event_id, event_type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID, ev.Type, ev.AggregateID, ev.Payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event log %s: %w", ev.Type, err)
	}
	return nil
}

// Record builds and inserts an event in one step.
func Record(ctx context.Context, q Execer, eventType string, aggregateID uuid.UUID, payload any) error {
	ev, err := New(eventType, aggregateID, payload)
	if err != nil {
		return err
	}
	return Insert(ctx, q, ev)
}
