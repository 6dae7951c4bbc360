// Package app wires the core services from configuration. Every binary
// builds its dependencies through here so they agree on zone, templates
// and repositories.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/schedule"
	"github.com/hackgods/clinic-booking/internal/slot"
)

type Core struct {
	Pool           *pgxpool.Pool
	Zone           schedule.Zone
	Slots          *slot.Service
	Appointments   *appointment.Coordinator
	PractitionerID uuid.UUID
}

// Open connects to Postgres and builds the slot and appointment services.
// The practitioner is resolved once; a database with several practitioners
// needs PRACTITIONER_ID.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Core, error) {
	zone, err := schedule.ParseOffset(cfg.PracticeOffset)
	if err != nil {
		return nil, fmt.Errorf("PRACTICE_UTC_OFFSET: %w", err)
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.WithApplicationName("clinic-booking"))
	cancel()
	if err != nil {
		return nil, err
	}

	slots := slot.NewService(slot.NewPgRepository(pool), schedule.NewEngine(zone, nil), log)
	coord := appointment.NewCoordinator(appointment.NewPgRepository(pool), cfg.ReminderLead, log)

	pid, err := slots.ResolvePractitioner(ctx, cfg.PractitionerID)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("resolve practitioner: %w", err)
	}

	return &Core{
		Pool:           pool,
		Zone:           zone,
		Slots:          slots,
		Appointments:   coord,
		PractitionerID: pid,
	}, nil
}

func (c *Core) Close() { c.Pool.Close() }

// Gateway picks Stripe when a secret key is configured and the offline
// gateway otherwise.
func Gateway(cfg config.Config, log zerolog.Logger) payment.Gateway {
	if cfg.StripeSecretKey == "" {
		log.Warn().Msg("STRIPE_SECRET_KEY not set, using offline payment gateway")
		return payment.OfflineGateway{}
	}
	return payment.NewStripeGateway(cfg.StripeSecretKey)
}
