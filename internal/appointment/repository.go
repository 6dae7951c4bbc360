package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/slot"
)

var (
	ErrAppointmentNotFound = apperr.New(apperr.KindNotFound, "appointment not found")
	ErrPatientNotFound     = apperr.New(apperr.KindNotFound, "patient not found")
	ErrSlotAlreadyBooked   = apperr.New(apperr.KindConflict, "slot already booked")
	ErrDuplicatePaymentRef = apperr.New(apperr.KindConflict, "payment order already linked to an appointment")
	// ErrStaleStatus means a conditional update found the row in another
	// status than expected. The coordinator reloads and decides.
	ErrStaleStatus = apperr.New(apperr.KindConflict, "appointment status changed concurrently")
)

// Repository contains all DB interactions needed by the coordinator.
type Repository interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*slot.Slot, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)

	// Claim flips the slot to booked and inserts the PENDING appointment
	// atomically. A slot that is already booked yields ErrSlotAlreadyBooked.
	Claim(ctx context.Context, appt Appointment) (*Appointment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByPaymentRef(ctx context.Context, ref string) (*Appointment, error)

	// Transition moves the appointment from one status to another and
	// applies the slot side effect in the same transaction.
	Transition(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error)

	// ClaimDueReminders marks up to limit confirmed appointments whose
	// reminder time has passed as sent and emits their reminder events.
	ClaimDueReminders(ctx context.Context, now time.Time, limit int) ([]Appointment, error)

	FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Appointment, error)
}
