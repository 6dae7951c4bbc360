package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/db"
)

const providerStripe = "stripe"

var (
	ErrWebhookNotConfigured = errors.New("payment webhook secret not configured")
	ErrInvalidSignature     = apperr.New(apperr.KindValidation, "invalid webhook signature")
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// EventLog remembers provider event ids so replayed deliveries are skipped.
type EventLog interface {
	Seen(ctx context.Context, provider, eventID string) (bool, error)
	Remember(ctx context.Context, provider, eventID, eventType string) error
}

type PgEventLog struct {
	pool *pgxpool.Pool
}

func NewPgEventLog(pool *pgxpool.Pool) *PgEventLog {
	return &PgEventLog{pool: pool}
}

func (l *PgEventLog) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	var seen bool
	err := l.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM webhook_events WHERE provider = $1 AND event_id = $2)
	`, provider, eventID).Scan(&seen)
	if err != nil {
		return false, db.Wrap(err, "check webhook event")
	}
	return seen, nil
}

func (l *PgEventLog) Remember(ctx context.Context, provider, eventID, eventType string) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType)
	if err != nil {
		return db.Wrap(err, "remember webhook event")
	}
	return nil
}

// WebhookProcessor verifies Stripe deliveries and turns payment intent
// events into confirm or fail signals.
type WebhookProcessor struct {
	secret    string
	tolerance time.Duration
	coord     Coordinator
	seen      EventLog
	log       zerolog.Logger
}

func NewWebhookProcessor(secret string, tolerance time.Duration, coord Coordinator, seen EventLog, log zerolog.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		secret:    secret,
		tolerance: tolerance,
		coord:     coord,
		seen:      seen,
		log:       log.With().Str("component", "payment_webhook").Logger(),
	}
}

// Handle returns an error only when the provider should retry the delivery.
func (p *WebhookProcessor) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if p.secret == "" {
		return "", ErrWebhookNotConfigured
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	log := p.log.With().Str("provider_event_id", evt.ID).Str("event_type", string(evt.Type)).Logger()

	seen, err := p.seen.Seen(ctx, providerStripe, evt.ID)
	if err != nil {
		return "", err
	}
	if seen {
		log.Info().Msg("duplicate webhook event ignored")
		return OutcomeDuplicate, nil
	}

	var apply func(context.Context, string) (*appointment.Result, error)
	switch evt.Type {
	case "payment_intent.succeeded":
		apply = p.coord.ConfirmByPaymentRef
	case "payment_intent.payment_failed", "payment_intent.canceled":
		apply = p.coord.FailByPaymentRef
	default:
		log.Debug().Msg("webhook event type not handled")
		return OutcomeIgnored, p.seen.Remember(ctx, providerStripe, evt.ID, string(evt.Type))
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil || intent.ID == "" {
		log.Warn().Err(err).Msg("webhook payload is not a payment intent")
		return OutcomeIgnored, nil
	}

	res, err := apply(ctx, intent.ID)
	switch {
	case err == nil:
		log.Info().Str("order_ref", intent.ID).Bool("changed", res.Changed).Msg("webhook applied")
	case apperr.Is(err, apperr.KindNotFound), apperr.Is(err, apperr.KindIllegalTransition):
		// Redelivery cannot fix these.
		log.Warn().Err(err).Str("order_ref", intent.ID).Msg("webhook not applicable")
	case apperr.Is(err, apperr.KindTransient):
		log.Warn().Err(err).Str("order_ref", intent.ID).Msg("webhook deferred, store unavailable")
		return "", err
	default:
		return "", err
	}

	if err := p.seen.Remember(ctx, providerStripe, evt.ID, string(evt.Type)); err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}
