package slot

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

type Slot struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	Mode           schedule.Mode
	IsBooked       bool
	CreatedAt      time.Time
}

// NewSlot is a planned slot that has not been persisted.
type NewSlot struct {
	PractitionerID uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	Mode           schedule.Mode
}

// Summary is the public view of an available slot.
type Summary struct {
	ID      uuid.UUID     `json:"id"`
	StartAt time.Time     `json:"start_at"`
	EndAt   time.Time     `json:"end_at"`
	Mode    schedule.Mode `json:"mode"`
	Label   string        `json:"label"`
}

// AppointmentRef summarises the appointment linked to a slot in admin views.
type AppointmentRef struct {
	ID          uuid.UUID
	Status      string
	PatientID   uuid.UUID
	PatientName string
}

type AdminSlot struct {
	Slot
	Appointment *AppointmentRef
}

type DayOff struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	Date           schedule.Date
	Reason         *string
	CreatedAt      time.Time
}

// DayOffResult reports what setting a day-off removed.
type DayOffResult struct {
	DayOff        DayOff
	RemovedSlots  int
	BookedRemoved []Slot
}

// Trigger names what caused a materialization run.
type Trigger string

const (
	TriggerAdmin   Trigger = "admin"
	TriggerLazy    Trigger = "lazy"
	TriggerHorizon Trigger = "horizon"
)
