package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
)

type OrderRequest struct {
	Amount    int64
	Currency  string
	SlotID    uuid.UUID
	PatientID uuid.UUID
	PlanSlug  string
}

// Order is a gateway-side payment order. Ref is what appointments store as
// their payment order reference.
type Order struct {
	Ref          string      `json:"ref"`
	Amount       int64       `json:"amount"`
	Currency     string      `json:"currency"`
	ClientSecret string      `json:"client_secret,omitempty"`
	Status       OrderStatus `json:"status"`
}

type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	OrderStatus(ctx context.Context, ref string) (OrderStatus, error)
	CancelOrder(ctx context.Context, ref string) error
}

// StripeGateway backs orders with PaymentIntents.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil)}
}

func (g *StripeGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("slot_id", req.SlotID.String())
	params.AddMetadata("patient_id", req.PatientID.String())
	params.AddMetadata("plan_slug", req.PlanSlug)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &Order{
		Ref:          pi.ID,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		ClientSecret: pi.ClientSecret,
		Status:       statusFromIntent(pi.Status),
	}, nil
}

func (g *StripeGateway) OrderStatus(ctx context.Context, ref string) (OrderStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(ref, params)
	if err != nil {
		return "", fmt.Errorf("get payment intent %s: %w", ref, err)
	}
	return statusFromIntent(pi.Status), nil
}

func (g *StripeGateway) CancelOrder(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := g.api.PaymentIntents.Cancel(ref, params); err != nil {
		return fmt.Errorf("cancel payment intent %s: %w", ref, err)
	}
	return nil
}

func statusFromIntent(s stripe.PaymentIntentStatus) OrderStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return OrderPaid
	case stripe.PaymentIntentStatusCanceled:
		return OrderFailed
	default:
		return OrderPending
	}
}

// OfflineGateway issues local order refs and never settles them. It keeps
// development and load simulation running without gateway credentials.
type OfflineGateway struct{}

func (OfflineGateway) CreateOrder(_ context.Context, req OrderRequest) (*Order, error) {
	return &Order{
		Ref:      "offline_" + uuid.NewString(),
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   OrderPending,
	}, nil
}

func (OfflineGateway) OrderStatus(context.Context, string) (OrderStatus, error) {
	return OrderPending, nil
}

func (OfflineGateway) CancelOrder(context.Context, string) error { return nil }
