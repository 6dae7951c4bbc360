package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

const testSecret = "whsec_test_secret"

type fakeCoordinator struct {
	claimErr  error
	confirmed []string
	failed    []string
	resultErr error
	claims    []appointment.ClaimRequest
	owner     uuid.UUID
}

func (f *fakeCoordinator) ClaimSlot(_ context.Context, req appointment.ClaimRequest) (*appointment.Appointment, error) {
	f.claims = append(f.claims, req)
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	ref := req.PaymentOrderRef
	return &appointment.Appointment{ID: uuid.New(), Status: appointment.StatusPending, PaymentOrderRef: &ref, Amount: req.Amount}, nil
}

func (f *fakeCoordinator) ConfirmByPaymentRef(_ context.Context, ref string) (*appointment.Result, error) {
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	f.confirmed = append(f.confirmed, ref)
	return &appointment.Result{Appointment: &appointment.Appointment{Status: appointment.StatusConfirmed}, Changed: true}, nil
}

func (f *fakeCoordinator) FailByPaymentRef(_ context.Context, ref string) (*appointment.Result, error) {
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	f.failed = append(f.failed, ref)
	return &appointment.Result{Appointment: &appointment.Appointment{Status: appointment.StatusCancelled}, Changed: true}, nil
}

func (f *fakeCoordinator) GetByPaymentRef(_ context.Context, ref string) (*appointment.Appointment, error) {
	if f.owner == uuid.Nil {
		return nil, appointment.ErrAppointmentNotFound
	}
	r := ref
	return &appointment.Appointment{ID: uuid.New(), PatientID: f.owner, Status: appointment.StatusPending, PaymentOrderRef: &r}, nil
}

type fakeGateway struct {
	status    OrderStatus
	cancelled []string
	createErr error
}

func (g *fakeGateway) CreateOrder(_ context.Context, req OrderRequest) (*Order, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &Order{Ref: "pi_" + req.SlotID.String()[:8], Amount: req.Amount, Currency: req.Currency, Status: OrderPending}, nil
}

func (g *fakeGateway) OrderStatus(context.Context, string) (OrderStatus, error) { return g.status, nil }

func (g *fakeGateway) CancelOrder(_ context.Context, ref string) error {
	g.cancelled = append(g.cancelled, ref)
	return nil
}

type memoryEventLog map[string]bool

func (m memoryEventLog) Seen(_ context.Context, provider, id string) (bool, error) {
	return m[provider+":"+id], nil
}

func (m memoryEventLog) Remember(_ context.Context, provider, id, _ string) error {
	m[provider+":"+id] = true
	return nil
}

func signedEvent(t *testing.T, eventID, eventType, intentID string) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{
				"id":     intentID,
				"object": "payment_intent",
				"status": "succeeded",
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return payload, signed.Header
}

func newProcessor(coord Coordinator, log EventLog) *WebhookProcessor {
	return NewWebhookProcessor(testSecret, 5*time.Minute, coord, log, zerolog.Nop())
}

func TestWebhook_ConfirmsAndDedupes(t *testing.T) {
	coord := &fakeCoordinator{}
	p := newProcessor(coord, memoryEventLog{})
	payload, sig := signedEvent(t, "evt_1", "payment_intent.succeeded", "pi_123")

	out, err := p.Handle(context.Background(), payload, sig)
	if err != nil || out != OutcomeProcessed {
		t.Fatalf("expected processed, got %s, %v", out, err)
	}
	if len(coord.confirmed) != 1 || coord.confirmed[0] != "pi_123" {
		t.Fatalf("expected confirmation of pi_123, got %v", coord.confirmed)
	}

	out, err = p.Handle(context.Background(), payload, sig)
	if err != nil || out != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s, %v", out, err)
	}
	if len(coord.confirmed) != 1 {
		t.Fatalf("replay must not reach the coordinator")
	}
}

func TestWebhook_FailureSignals(t *testing.T) {
	coord := &fakeCoordinator{}
	p := newProcessor(coord, memoryEventLog{})

	for i, typ := range []string{"payment_intent.payment_failed", "payment_intent.canceled"} {
		payload, sig := signedEvent(t, fmt.Sprintf("evt_f%d", i), typ, "pi_fail")
		if out, err := p.Handle(context.Background(), payload, sig); err != nil || out != OutcomeProcessed {
			t.Fatalf("%s: expected processed, got %s, %v", typ, out, err)
		}
	}
	if len(coord.failed) != 2 {
		t.Fatalf("expected two failure signals, got %v", coord.failed)
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	p := newProcessor(&fakeCoordinator{}, memoryEventLog{})
	payload, _ := signedEvent(t, "evt_2", "payment_intent.succeeded", "pi_1")

	_, err := p.Handle(context.Background(), payload, "t=1,v1=deadbeef")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestWebhook_NotConfigured(t *testing.T) {
	p := NewWebhookProcessor("", time.Minute, &fakeCoordinator{}, memoryEventLog{}, zerolog.Nop())
	if _, err := p.Handle(context.Background(), []byte("{}"), "sig"); !errors.Is(err, ErrWebhookNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}

func TestWebhook_IgnoresOtherTypes(t *testing.T) {
	coord := &fakeCoordinator{}
	p := newProcessor(coord, memoryEventLog{})
	payload, sig := signedEvent(t, "evt_3", "charge.refunded", "pi_1")

	out, err := p.Handle(context.Background(), payload, sig)
	if err != nil || out != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s, %v", out, err)
	}
	if len(coord.confirmed)+len(coord.failed) != 0 {
		t.Fatalf("unhandled types must not reach the coordinator")
	}
}

func TestWebhook_TerminalAppointmentIsAcknowledged(t *testing.T) {
	coord := &fakeCoordinator{resultErr: &appointment.TransitionError{From: appointment.StatusCancelled, To: appointment.StatusConfirmed}}
	p := newProcessor(coord, memoryEventLog{})
	payload, sig := signedEvent(t, "evt_4", "payment_intent.succeeded", "pi_late")

	if out, err := p.Handle(context.Background(), payload, sig); err != nil || out != OutcomeProcessed {
		t.Fatalf("expected acknowledgement, got %s, %v", out, err)
	}
}

func TestWebhook_TransientErrorAsksForRetry(t *testing.T) {
	log := memoryEventLog{}
	coord := &fakeCoordinator{resultErr: db.Wrap(context.DeadlineExceeded, "load appointment")}
	p := newProcessor(coord, log)
	payload, sig := signedEvent(t, "evt_5", "payment_intent.succeeded", "pi_retry")

	if _, err := p.Handle(context.Background(), payload, sig); !apperr.Is(err, apperr.KindTransient) {
		t.Fatalf("expected a transient error so the provider retries, got %v", err)
	}
	if log["stripe:evt_5"] {
		t.Fatalf("failed delivery must not be remembered")
	}
}

func TestBook_PricesFromCatalog(t *testing.T) {
	coord := &fakeCoordinator{}
	svc := NewService(&fakeGateway{}, coord, "inr", zerolog.Nop())

	b, err := svc.Book(context.Background(), BookingRequest{
		SlotID:    uuid.New(),
		PatientID: uuid.New(),
		Mode:      schedule.ModeOnline,
		PlanSlug:  "follow-up",
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if b.Order.Amount != 30000 || coord.claims[0].Amount != 30000 {
		t.Fatalf("expected catalog price, got order %d claim %d", b.Order.Amount, coord.claims[0].Amount)
	}
	if coord.claims[0].PaymentOrderRef != b.Order.Ref || coord.claims[0].PlanName != "Follow-up Visit" {
		t.Fatalf("claim must carry the order ref and plan snapshot: %+v", coord.claims[0])
	}
}

func TestBook_CancelsOrderWhenClaimFails(t *testing.T) {
	gw := &fakeGateway{}
	coord := &fakeCoordinator{claimErr: appointment.ErrSlotAlreadyBooked}
	svc := NewService(gw, coord, "inr", zerolog.Nop())

	_, err := svc.Book(context.Background(), BookingRequest{
		SlotID:    uuid.New(),
		PatientID: uuid.New(),
		Mode:      schedule.ModeInPerson,
		PlanSlug:  "single-consultation",
	})
	if !errors.Is(err, appointment.ErrSlotAlreadyBooked) {
		t.Fatalf("expected already booked, got %v", err)
	}
	if len(gw.cancelled) != 1 {
		t.Fatalf("expected the orphaned order to be cancelled")
	}
}

func TestBook_UnknownPlan(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("must not be called")}
	svc := NewService(gw, &fakeCoordinator{}, "inr", zerolog.Nop())
	if _, err := svc.Book(context.Background(), BookingRequest{Mode: schedule.ModeOnline, PlanSlug: "gold"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestVerify(t *testing.T) {
	cases := []struct {
		status    OrderStatus
		confirmed int
		failed    int
	}{
		{OrderPaid, 1, 0},
		{OrderFailed, 0, 1},
		{OrderPending, 0, 0},
	}
	for _, tc := range cases {
		coord := &fakeCoordinator{}
		svc := NewService(&fakeGateway{status: tc.status}, coord, "inr", zerolog.Nop())
		_, status, err := svc.Verify(context.Background(), "pi_v", uuid.Nil)
		if err != nil || status != tc.status {
			t.Fatalf("%s: unexpected %s, %v", tc.status, status, err)
		}
		if len(coord.confirmed) != tc.confirmed || len(coord.failed) != tc.failed {
			t.Fatalf("%s: confirmed %d failed %d", tc.status, len(coord.confirmed), len(coord.failed))
		}
	}
}

func TestVerify_OnlyTheOwnerMayVerify(t *testing.T) {
	patient := uuid.New()
	coord := &fakeCoordinator{owner: patient}
	svc := NewService(&fakeGateway{status: OrderPaid}, coord, "inr", zerolog.Nop())

	_, _, err := svc.Verify(context.Background(), "pi_other", uuid.New())
	if !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected not found for a foreign order, got %v", err)
	}
	if len(coord.confirmed) != 0 {
		t.Fatalf("a foreign verify must not confirm anything")
	}

	res, status, err := svc.Verify(context.Background(), "pi_own", patient)
	if err != nil || status != OrderPaid || res == nil {
		t.Fatalf("owner verify failed: %v %s %v", res, status, err)
	}
	if len(coord.confirmed) != 1 {
		t.Fatalf("expected the owner's order to be confirmed")
	}
}

func TestStatusFromIntent(t *testing.T) {
	cases := map[stripe.PaymentIntentStatus]OrderStatus{
		stripe.PaymentIntentStatusSucceeded:             OrderPaid,
		stripe.PaymentIntentStatusCanceled:              OrderFailed,
		stripe.PaymentIntentStatusProcessing:            OrderPending,
		stripe.PaymentIntentStatusRequiresPaymentMethod: OrderPending,
	}
	for in, want := range cases {
		if got := statusFromIntent(in); got != want {
			t.Fatalf("%s: expected %s, got %s", in, want, got)
		}
	}
}

func TestOfflineGateway_IssuesUniqueRefs(t *testing.T) {
	gw := OfflineGateway{}
	a, _ := gw.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "inr"})
	b, _ := gw.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "inr"})
	if a.Ref == b.Ref || a.Status != OrderPending {
		t.Fatalf("expected distinct pending orders, got %+v %+v", a, b)
	}
}
