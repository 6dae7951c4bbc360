package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

// Coordinator is the booking surface the payment layer drives.
type Coordinator interface {
	ClaimSlot(ctx context.Context, req appointment.ClaimRequest) (*appointment.Appointment, error)
	ConfirmByPaymentRef(ctx context.Context, ref string) (*appointment.Result, error)
	FailByPaymentRef(ctx context.Context, ref string) (*appointment.Result, error)
	GetByPaymentRef(ctx context.Context, ref string) (*appointment.Appointment, error)
}

type BookingRequest struct {
	SlotID    uuid.UUID
	PatientID uuid.UUID
	Mode      schedule.Mode
	PlanSlug  string
}

type Booking struct {
	Appointment *appointment.Appointment `json:"appointment"`
	Order       *Order                   `json:"order"`
	Plan        Plan                     `json:"plan"`
}

type Service struct {
	gateway  Gateway
	coord    Coordinator
	currency string
	log      zerolog.Logger
}

func NewService(gateway Gateway, coord Coordinator, currency string, log zerolog.Logger) *Service {
	return &Service{
		gateway:  gateway,
		coord:    coord,
		currency: currency,
		log:      log.With().Str("component", "payment").Logger(),
	}
}

// Book prices the plan, opens a gateway order and claims the slot against
// it. If the claim fails the order is cancelled best-effort.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Booking, error) {
	plan, err := LookupPlan(req.PlanSlug)
	if err != nil {
		return nil, err
	}
	if !req.Mode.Valid() {
		return nil, apperr.Validationf("unknown appointment mode %q", req.Mode)
	}

	order, err := s.gateway.CreateOrder(ctx, OrderRequest{
		Amount:    plan.Amount,
		Currency:  s.currency,
		SlotID:    req.SlotID,
		PatientID: req.PatientID,
		PlanSlug:  plan.Slug,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment order: %w", err)
	}

	appt, err := s.coord.ClaimSlot(ctx, appointment.ClaimRequest{
		SlotID:          req.SlotID,
		PatientID:       req.PatientID,
		Mode:            req.Mode,
		PaymentOrderRef: order.Ref,
		Amount:          plan.Amount,
		Currency:        s.currency,
		PlanSlug:        plan.Slug,
		PlanName:        plan.Name,
	})
	if err != nil {
		if cancelErr := s.gateway.CancelOrder(context.WithoutCancel(ctx), order.Ref); cancelErr != nil {
			s.log.Warn().Err(cancelErr).Str("order_ref", order.Ref).Msg("failed to cancel orphaned payment order")
		}
		return nil, err
	}

	return &Booking{Appointment: appt, Order: order, Plan: plan}, nil
}

// Verify asks the gateway for the order state and applies it. It is the
// fallback for clients whose webhook has not arrived. A non-nil owner must
// be the patient on the appointment; others see it as not found.
func (s *Service) Verify(ctx context.Context, ref string, owner uuid.UUID) (*appointment.Result, OrderStatus, error) {
	if owner != uuid.Nil {
		appt, err := s.coord.GetByPaymentRef(ctx, ref)
		if err != nil {
			return nil, "", err
		}
		if appt.PatientID != owner {
			return nil, "", appointment.ErrAppointmentNotFound
		}
	}

	status, err := s.gateway.OrderStatus(ctx, ref)
	if err != nil {
		return nil, "", err
	}

	var res *appointment.Result
	switch status {
	case OrderPaid:
		res, err = s.coord.ConfirmByPaymentRef(ctx, ref)
	case OrderFailed:
		res, err = s.coord.FailByPaymentRef(ctx, ref)
	default:
		return nil, status, nil
	}
	if err != nil {
		return nil, status, err
	}
	return res, status, nil
}
