package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/schedule"
	"github.com/hackgods/clinic-booking/internal/slot"
)

type CreateAppointmentRequest struct {
	SlotID    string `json:"slot_id"`
	PatientID string `json:"patient_id,omitempty"` // admins only; patients book for themselves
	Mode      string `json:"mode"`
	Plan      string `json:"plan"`
}

type VerifyPaymentRequest struct {
	OrderRef string `json:"order_ref"`
}

type GenerateSlotsRequest struct {
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Modes     []string `json:"modes"`
}

type SetDayOffRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID              uuid.UUID     `json:"id"`
	PatientID       uuid.UUID     `json:"patient_id"`
	PractitionerID  uuid.UUID     `json:"practitioner_id"`
	SlotID          *uuid.UUID    `json:"slot_id"`
	StartAt         time.Time     `json:"start_at"`
	EndAt           time.Time     `json:"end_at"`
	Mode            schedule.Mode `json:"mode"`
	Status          string        `json:"status"`
	PaymentOrderRef *string       `json:"payment_order_ref,omitempty"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency"`
	Plan            *string       `json:"plan,omitempty"`
	ReminderAt      *time.Time    `json:"reminder_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		PractitionerID:  a.PractitionerID,
		SlotID:          a.SlotID,
		StartAt:         a.StartAt,
		EndAt:           a.EndAt,
		Mode:            a.Mode,
		Status:          string(a.Status),
		PaymentOrderRef: a.PaymentOrderRef,
		Amount:          a.Amount,
		Currency:        a.Currency,
		Plan:            a.PlanName,
		ReminderAt:      a.ReminderAt,
		CreatedAt:       a.CreatedAt,
	}
}

type BookingResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Order       *payment.Order      `json:"order"`
	Plan        payment.Plan        `json:"plan"`
}

type VerifyPaymentResponse struct {
	OrderStatus payment.OrderStatus  `json:"order_status"`
	Changed     bool                 `json:"changed"`
	Appointment *AppointmentResponse `json:"appointment,omitempty"`
}

type AvailableSlotsResponse struct {
	Date  schedule.Date  `json:"date"`
	Mode  schedule.Mode  `json:"mode"`
	Zone  string         `json:"zone"`
	Slots []slot.Summary `json:"slots"`
}

type GenerateSlotsResponse struct {
	Created int `json:"created"`
}

type PlannedSlot struct {
	StartAt time.Time     `json:"start_at"`
	EndAt   time.Time     `json:"end_at"`
	Mode    schedule.Mode `json:"mode"`
	Label   string        `json:"label"`
}

type PreviewSlotsResponse struct {
	Count int           `json:"count"`
	Slots []PlannedSlot `json:"slots"`
}

type AdminSlotResponse struct {
	ID          uuid.UUID                `json:"id"`
	StartAt     time.Time                `json:"start_at"`
	EndAt       time.Time                `json:"end_at"`
	Mode        schedule.Mode            `json:"mode"`
	IsBooked    bool                     `json:"is_booked"`
	Label       string                   `json:"label"`
	Appointment *AdminAppointmentSummary `json:"appointment,omitempty"`
}

type AdminAppointmentSummary struct {
	ID          uuid.UUID `json:"id"`
	Status      string    `json:"status"`
	PatientID   uuid.UUID `json:"patient_id"`
	PatientName string    `json:"patient_name"`
}

type DayOffResponse struct {
	ID     uuid.UUID     `json:"id"`
	Date   schedule.Date `json:"date"`
	Reason *string       `json:"reason,omitempty"`
}

type SetDayOffResponse struct {
	DayOff        DayOffResponse `json:"day_off"`
	RemovedSlots  int            `json:"removed_slots"`
	BookedRemoved []uuid.UUID    `json:"booked_slots_removed"`
}

func toDayOffResponse(d slot.DayOff) DayOffResponse {
	return DayOffResponse{ID: d.ID, Date: d.Date, Reason: d.Reason}
}

type WebhookResponse struct {
	Outcome payment.Outcome `json:"outcome"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
