package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// transitions lists every legal move. Anything absent is rejected.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, nil
	}
	return "", apperr.Validationf("unknown appointment status %q", s)
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// slotOccupancy is the occupancy a transition into to leaves on the slot;
// nil means the slot is untouched.
func slotOccupancy(to Status) *bool {
	var v bool
	switch to {
	case StatusPending, StatusConfirmed:
		v = true
	case StatusCancelled:
		v = false
	default:
		return nil
	}
	return &v
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	PractitionerID  uuid.UUID
	SlotID          *uuid.UUID
	StartAt         time.Time
	EndAt           time.Time
	Mode            schedule.Mode
	Status          Status
	PaymentOrderRef *string
	Amount          int64
	Currency        string
	PlanSlug        *string
	PlanName        *string
	ReminderAt      *time.Time
	ReminderSentAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ClaimRequest asks for a PENDING appointment on one slot.
type ClaimRequest struct {
	SlotID          uuid.UUID
	PatientID       uuid.UUID
	Mode            schedule.Mode
	PaymentOrderRef string
	Amount          int64
	Currency        string
	PlanSlug        string
	PlanName        string
}

// Result is returned by the payment-driven paths. Changed is false when the
// call was a no-op, such as a replayed confirmation.
type Result struct {
	Appointment *Appointment
	Changed     bool
}

// ErrIllegalTransition matches every *TransitionError with errors.Is.
var ErrIllegalTransition = apperr.New(apperr.KindIllegalTransition, "illegal status transition")

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	if e.From.Terminal() {
		return fmt.Sprintf("appointment is %s, a terminal status; cannot move to %s", e.From, e.To)
	}
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

func (e *TransitionError) ErrorKind() apperr.Kind { return apperr.KindIllegalTransition }

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }
