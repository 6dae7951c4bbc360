package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

// maxStatusAttempts bounds how often SetStatus re-reads after losing a race.
const maxStatusAttempts = 3

var (
	ErrSlotInPast   = apperr.New(apperr.KindValidation, "slot has already started")
	ErrModeMismatch = apperr.New(apperr.KindValidation, "slot mode does not match the requested mode")
)

var tracer = otel.Tracer("github.com/hackgods/clinic-booking/internal/appointment")

// Coordinator owns the appointment state machine and its coupling to slot
// occupancy. The database is the only coordination point.
type Coordinator struct {
	repo         Repository
	reminderLead time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

func NewCoordinator(repo Repository, reminderLead time.Duration, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		repo:         repo,
		reminderLead: reminderLead,
		now:          time.Now,
		log:          log.With().Str("component", "appointment").Logger(),
	}
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func endSpan(span trace.Span, err error) {
	if err != nil && !apperr.Is(err, apperr.KindConflict) && !apperr.Is(err, apperr.KindValidation) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ClaimSlot reserves a slot for a patient by creating a PENDING appointment.
// Concurrent claims for one slot produce exactly one winner; the others get
// ErrSlotAlreadyBooked.
func (c *Coordinator) ClaimSlot(ctx context.Context, req ClaimRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.ClaimSlot", trace.WithAttributes(
		attribute.String("slot.id", req.SlotID.String()),
		attribute.String("patient.id", req.PatientID.String()),
	))
	defer func() { endSpan(span, err) }()

	if req.SlotID == uuid.Nil || req.PatientID == uuid.Nil {
		return nil, apperr.Validationf("slot and patient are required")
	}
	if !req.Mode.Valid() {
		return nil, apperr.Validationf("unknown appointment mode %q", req.Mode)
	}

	sl, err := c.repo.GetSlot(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	now := c.now()
	if !sl.StartAt.After(now) {
		return nil, ErrSlotInPast
	}
	if sl.Mode != req.Mode {
		return nil, ErrModeMismatch
	}
	if sl.IsBooked {
		return nil, ErrSlotAlreadyBooked
	}

	ok, err := c.repo.PatientExists(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPatientNotFound
	}

	slotID := sl.ID
	candidate := Appointment{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		PractitionerID:  sl.PractitionerID,
		SlotID:          &slotID,
		StartAt:         sl.StartAt,
		EndAt:           sl.EndAt,
		Mode:            sl.Mode,
		Status:          StatusPending,
		PaymentOrderRef: nullable(req.PaymentOrderRef),
		Amount:          req.Amount,
		Currency:        req.Currency,
		PlanSlug:        nullable(req.PlanSlug),
		PlanName:        nullable(req.PlanName),
	}
	if c.reminderLead > 0 {
		at := sl.StartAt.Add(-c.reminderLead)
		candidate.ReminderAt = &at
	}

	appt, err = c.repo.Claim(ctx, candidate)
	if err != nil {
		if errors.Is(err, ErrSlotAlreadyBooked) {
			c.log.Info().Str("slot_id", slotID.String()).Msg("claim lost: slot already booked")
		}
		return nil, err
	}

	c.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", slotID.String()).
		Str("patient_id", appt.PatientID.String()).
		Msg("slot claimed")
	return appt, nil
}

// ConfirmByPaymentRef applies a payment success signal. Replays on a
// CONFIRMED appointment succeed without writing.
func (c *Coordinator) ConfirmByPaymentRef(ctx context.Context, ref string) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "appointment.ConfirmByPaymentRef")
	defer func() { endSpan(span, err) }()

	if ref == "" {
		return nil, apperr.Validationf("payment order reference is required")
	}

	appt, err := c.repo.GetByPaymentRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("appointment.id", appt.ID.String()))

	switch appt.Status {
	case StatusConfirmed:
		return &Result{Appointment: appt}, nil
	case StatusPending:
	default:
		return nil, &TransitionError{From: appt.Status, To: StatusConfirmed}
	}

	updated, err := c.repo.Transition(ctx, appt.ID, StatusPending, StatusConfirmed, "payment_captured")
	if errors.Is(err, ErrStaleStatus) {
		// Another path decided first.
		current, getErr := c.repo.GetByID(ctx, appt.ID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == StatusConfirmed {
			return &Result{Appointment: current}, nil
		}
		return nil, &TransitionError{From: current.Status, To: StatusConfirmed}
	}
	if err != nil {
		return nil, err
	}

	c.log.Info().
		Str("appointment_id", updated.ID.String()).
		Str("payment_order_ref", ref).
		Msg("appointment confirmed")
	return &Result{Appointment: updated, Changed: true}, nil
}

// FailByPaymentRef applies a payment failure signal. Only PENDING
// appointments are cancelled; anything else is left as is.
func (c *Coordinator) FailByPaymentRef(ctx context.Context, ref string) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "appointment.FailByPaymentRef")
	defer func() { endSpan(span, err) }()

	if ref == "" {
		return nil, apperr.Validationf("payment order reference is required")
	}

	appt, err := c.repo.GetByPaymentRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending {
		c.log.Info().
			Str("appointment_id", appt.ID.String()).
			Str("status", string(appt.Status)).
			Msg("payment failure ignored")
		return &Result{Appointment: appt}, nil
	}

	updated, err := c.repo.Transition(ctx, appt.ID, StatusPending, StatusCancelled, "payment_failed")
	if errors.Is(err, ErrStaleStatus) {
		current, getErr := c.repo.GetByID(ctx, appt.ID)
		if getErr != nil {
			return nil, getErr
		}
		return &Result{Appointment: current}, nil
	}
	if err != nil {
		return nil, err
	}

	c.log.Info().
		Str("appointment_id", updated.ID.String()).
		Str("payment_order_ref", ref).
		Msg("appointment cancelled after payment failure")
	return &Result{Appointment: updated, Changed: true}, nil
}

// SetStatus is the admin override. The target is checked against the
// transition table using the status read from the store.
func (c *Coordinator) SetStatus(ctx context.Context, id uuid.UUID, target Status) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.SetStatus", trace.WithAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("status.target", string(target)),
	))
	defer func() { endSpan(span, err) }()

	if _, err := ParseStatus(string(target)); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		current, err := c.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !CanTransition(current.Status, target) {
			return nil, &TransitionError{From: current.Status, To: target}
		}

		updated, err := c.repo.Transition(ctx, id, current.Status, target, "admin")
		if errors.Is(err, ErrStaleStatus) {
			continue
		}
		if err != nil {
			return nil, err
		}

		c.log.Info().
			Str("appointment_id", id.String()).
			Str("from", string(current.Status)).
			Str("to", string(target)).
			Msg("appointment status changed by admin")
		return updated, nil
	}
	return nil, fmt.Errorf("set status of %s: %w", id, ErrStaleStatus)
}

func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return c.repo.GetByID(ctx, id)
}

func (c *Coordinator) GetByPaymentRef(ctx context.Context, ref string) (*Appointment, error) {
	if ref == "" {
		return nil, apperr.Validationf("payment order reference is required")
	}
	return c.repo.GetByPaymentRef(ctx, ref)
}

// DispatchDueReminders emits reminder events for confirmed appointments
// whose reminder time has come. Delivery happens downstream of the outbox.
func (c *Coordinator) DispatchDueReminders(ctx context.Context, limit int) (int, error) {
	due, err := c.repo.ClaimDueReminders(ctx, c.now(), limit)
	if err != nil {
		return 0, err
	}
	for _, a := range due {
		c.log.Info().
			Str("appointment_id", a.ID.String()).
			Time("start_at", a.StartAt).
			Msg("reminder dispatched")
	}
	return len(due), nil
}

// ExpireStalePending cancels PENDING appointments older than ttl so their
// slots return to the pool. Appointments that moved on meanwhile are skipped.
func (c *Coordinator) ExpireStalePending(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	stale, err := c.repo.FindStalePending(ctx, c.now().Add(-ttl), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, a := range stale {
		_, err := c.repo.Transition(ctx, a.ID, StatusPending, StatusCancelled, "payment_timeout")
		if errors.Is(err, ErrStaleStatus) {
			continue
		}
		if err != nil {
			c.log.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to expire pending appointment")
			continue
		}
		expired++
	}
	return expired, nil
}
