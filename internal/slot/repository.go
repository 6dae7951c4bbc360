package slot

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

var (
	ErrSlotNotFound          = apperr.New(apperr.KindNotFound, "slot not found")
	ErrDayOffNotFound        = apperr.New(apperr.KindNotFound, "day-off not found")
	ErrPractitionerNotFound  = apperr.New(apperr.KindNotFound, "practitioner not found")
	ErrPractitionerAmbiguous = apperr.New(apperr.KindValidation, "more than one practitioner exists; set PRACTITIONER_ID")
)

// Repository contains all DB interactions needed by the slot service.
type Repository interface {
	DayOffsBetween(ctx context.Context, practitionerID uuid.UUID, from, to schedule.Date) (schedule.DayOffSet, error)

	// InsertSlots writes every row in one statement, skipping rows whose
	// (practitioner, start) already exists, and returns the number inserted.
	InsertSlots(ctx context.Context, practitionerID uuid.UUID, rows []NewSlot, trigger Trigger) (int, error)

	ListUnbooked(ctx context.Context, practitionerID uuid.UUID, mode schedule.Mode, from, to, after time.Time) ([]Slot, error)
	ListRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]AdminSlot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)

	// SetDayOff upserts the day-off and deletes every slot starting in
	// [dayStart, dayEnd) in the same transaction.
	SetDayOff(ctx context.Context, off DayOff, dayStart, dayEnd time.Time) (*DayOffResult, error)
	DeleteDayOff(ctx context.Context, id uuid.UUID) (*DayOff, error)
	ListDayOffs(ctx context.Context, practitionerID uuid.UUID) ([]DayOff, error)

	PractitionerExists(ctx context.Context, id uuid.UUID) (bool, error)
	SolePractitioner(ctx context.Context) (uuid.UUID, error)
}
