package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/schedule"
	"github.com/hackgods/clinic-booking/internal/slot"
)

type SlotService interface {
	Zone() schedule.Zone
	ListAvailable(ctx context.Context, practitionerID uuid.UUID, date schedule.Date, mode schedule.Mode) ([]slot.Summary, error)
	Materialize(ctx context.Context, practitionerID uuid.UUID, start, end schedule.Date, modes []schedule.Mode) (int, error)
	Preview(ctx context.Context, practitionerID uuid.UUID, start, end schedule.Date, modes []schedule.Mode) ([]slot.NewSlot, error)
	ListForAdmin(ctx context.Context, practitionerID uuid.UUID, from, to schedule.Date) ([]slot.AdminSlot, error)
	SetDayOff(ctx context.Context, practitionerID uuid.UUID, date schedule.Date, reason string) (*slot.DayOffResult, error)
	RemoveDayOff(ctx context.Context, id uuid.UUID) error
	ListDayOffs(ctx context.Context, practitionerID uuid.UUID) ([]slot.DayOff, error)
}

type AppointmentService interface {
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	SetStatus(ctx context.Context, id uuid.UUID, target appointment.Status) (*appointment.Appointment, error)
}

type BookingService interface {
	Book(ctx context.Context, req payment.BookingRequest) (*payment.Booking, error)
	Verify(ctx context.Context, ref string, owner uuid.UUID) (*appointment.Result, payment.OrderStatus, error)
}

type WebhookService interface {
	Handle(ctx context.Context, payload []byte, signature string) (payment.Outcome, error)
}

type RouterConfig struct {
	Slots        SlotService
	Appointments AppointmentService
	Bookings     BookingService
	Webhooks     WebhookService
	Limiter      Limiter // nil disables rate limiting

	PractitionerID uuid.UUID
	JWTSecret      string
	Postgres       Pinger
	Redis          Pinger
	Logger         zerolog.Logger
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Signed by the gateway, not by our callers.
	r.Post("/payments/webhook", webhookHandler(cfg.Webhooks))

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(RateLimitMiddleware(cfg.Limiter, true))
		}
		r.Get("/plans", listPlansHandler())
		r.Get("/slots/available", availableSlotsHandler(cfg.Slots, cfg.PractitionerID))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret))
			r.Post("/appointments", createAppointmentHandler(cfg.Bookings))
			r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
			r.Post("/payments/verify", verifyPaymentHandler(cfg.Bookings))
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))
		r.Use(RequireRole(auth.RoleAdmin))

		r.Post("/slots/generate", generateSlotsHandler(cfg.Slots, cfg.PractitionerID))
		r.Post("/slots/preview", previewSlotsHandler(cfg.Slots, cfg.PractitionerID))
		r.Get("/slots", adminSlotsHandler(cfg.Slots, cfg.PractitionerID))
		r.Get("/day-offs", listDayOffsHandler(cfg.Slots, cfg.PractitionerID))
		r.Post("/day-offs", setDayOffHandler(cfg.Slots, cfg.PractitionerID))
		r.Delete("/day-offs/{id}", removeDayOffHandler(cfg.Slots))
		r.Patch("/appointments/{id}/status", setStatusHandler(cfg.Appointments))
	})

	return otelhttp.NewHandler(r, "clinic-api", otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return r.Method + " " + r.URL.Path
	}))
}
