package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

// MaxRangeDays caps a single materialization or admin listing.
const MaxRangeDays = 366

var tracer = otel.Tracer("github.com/hackgods/clinic-booking/internal/slot")

type Service struct {
	repo     Repository
	engine   *schedule.Engine
	calendar schedule.Calendar
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(repo Repository, engine *schedule.Engine, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		engine:   engine,
		calendar: schedule.NewCalendar(),
		now:      time.Now,
		log:      log.With().Str("component", "slot").Logger(),
	}
}

// WithClock replaces the wall clock, for tests and simulations.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Zone() schedule.Zone { return s.engine.Zone() }

// IsBookable reports whether date may carry slots for the practitioner.
func (s *Service) IsBookable(ctx context.Context, practitionerID uuid.UUID, date schedule.Date) (bool, error) {
	offs, err := s.repo.DayOffsBetween(ctx, practitionerID, date, date)
	if err != nil {
		return false, db.Wrap(err, "load day-offs")
	}
	return s.calendar.Bookable(date, offs), nil
}

func validateRange(start, end schedule.Date) ([]schedule.Date, error) {
	dates, err := schedule.DatesBetween(start, end)
	if err != nil {
		return nil, err
	}
	if len(dates) > MaxRangeDays {
		return nil, apperr.Validationf("date range spans %d days, at most %d allowed", len(dates), MaxRangeDays)
	}
	return dates, nil
}

// validateModes rejects unknown modes. An empty list is valid and plans
// nothing.
func validateModes(modes []schedule.Mode) error {
	for _, m := range modes {
		if !m.Valid() {
			return apperr.Validationf("unknown appointment mode %q", m)
		}
	}
	return nil
}

// plan stages every future templated interval on bookable dates. It does
// no writes.
func (s *Service) plan(ctx context.Context, practitionerID uuid.UUID, dates []schedule.Date, modes []schedule.Mode) ([]NewSlot, error) {
	offs, err := s.repo.DayOffsBetween(ctx, practitionerID, dates[0], dates[len(dates)-1])
	if err != nil {
		return nil, db.Wrap(err, "load day-offs")
	}

	now := s.now()
	var staged []NewSlot
	for _, d := range dates {
		if !s.calendar.Bookable(d, offs) {
			continue
		}
		for _, mode := range modes {
			for _, iv := range s.engine.Intervals(d, mode) {
				if !iv.Start.After(now) {
					continue
				}
				staged = append(staged, NewSlot{
					PractitionerID: practitionerID,
					StartAt:        iv.Start,
					EndAt:          iv.End,
					Mode:           mode,
				})
			}
		}
	}
	return staged, nil
}

// Materialize inserts the planned slots for [start, end] and returns how
// many rows were actually created. Running it twice creates nothing new.
func (s *Service) Materialize(ctx context.Context, practitionerID uuid.UUID, start, end schedule.Date, modes []schedule.Mode) (int, error) {
	return s.materialize(ctx, practitionerID, start, end, modes, TriggerAdmin)
}

// MaterializeHorizon fills the next days starting today in the practice zone.
func (s *Service) MaterializeHorizon(ctx context.Context, practitionerID uuid.UUID, days int) (int, error) {
	if days <= 0 {
		return 0, apperr.Validationf("horizon must be positive, got %d", days)
	}
	today := s.engine.Zone().DateOf(s.now())
	return s.materialize(ctx, practitionerID, today, today.AddDays(days-1), schedule.AllModes, TriggerHorizon)
}

func (s *Service) materialize(ctx context.Context, practitionerID uuid.UUID, start, end schedule.Date, modes []schedule.Mode, trigger Trigger) (int, error) {
	ctx, span := tracer.Start(ctx, "slot.Materialize")
	defer span.End()
	span.SetAttributes(
		attribute.String("practitioner.id", practitionerID.String()),
		attribute.String("range.start", start.String()),
		attribute.String("range.end", end.String()),
		attribute.String("trigger", string(trigger)),
	)

	dates, err := validateRange(start, end)
	if err != nil {
		return 0, err
	}
	if err := validateModes(modes); err != nil {
		return 0, err
	}
	if len(modes) == 0 {
		return 0, nil
	}

	staged, err := s.plan(ctx, practitionerID, dates, modes)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	created, err := s.repo.InsertSlots(ctx, practitionerID, staged, trigger)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int("slots.planned", len(staged)), attribute.Int("slots.created", created))

	s.log.Info().
		Str("practitioner_id", practitionerID.String()).
		Str("start", start.String()).
		Str("end", end.String()).
		Str("trigger", string(trigger)).
		Int("planned", len(staged)).
		Int("created", created).
		Msg("slots materialized")

	return created, nil
}

// Preview returns what Materialize would try to insert, without writing.
func (s *Service) Preview(ctx context.Context, practitionerID uuid.UUID, start, end schedule.Date, modes []schedule.Mode) ([]NewSlot, error) {
	dates, err := validateRange(start, end)
	if err != nil {
		return nil, err
	}
	if err := validateModes(modes); err != nil {
		return nil, err
	}
	if len(modes) == 0 {
		return []NewSlot{}, nil
	}
	return s.plan(ctx, practitionerID, dates, modes)
}

// ListAvailable returns the open future slots of one civil day. When the
// day has none yet it is materialized on the spot and read again.
func (s *Service) ListAvailable(ctx context.Context, practitionerID uuid.UUID, date schedule.Date, mode schedule.Mode) ([]Summary, error) {
	if !mode.Valid() {
		return nil, apperr.Validationf("unknown appointment mode %q", mode)
	}

	offs, err := s.repo.DayOffsBetween(ctx, practitionerID, date, date)
	if err != nil {
		return nil, db.Wrap(err, "load day-offs")
	}
	if !s.calendar.Bookable(date, offs) {
		return []Summary{}, nil
	}

	zone := s.engine.Zone()
	dayStart, dayEnd := zone.DayBounds(date)

	slots, err := s.repo.ListUnbooked(ctx, practitionerID, mode, dayStart, dayEnd, s.now())
	if err != nil {
		return nil, err
	}

	if len(slots) == 0 {
		created, err := s.materialize(ctx, practitionerID, date, date, []schedule.Mode{mode}, TriggerLazy)
		if err != nil {
			return nil, fmt.Errorf("materialize on read: %w", err)
		}
		if created > 0 {
			slots, err = s.repo.ListUnbooked(ctx, practitionerID, mode, dayStart, dayEnd, s.now())
			if err != nil {
				return nil, err
			}
		}
	}

	out := make([]Summary, 0, len(slots))
	for _, sl := range slots {
		out = append(out, Summary{
			ID:      sl.ID,
			StartAt: sl.StartAt,
			EndAt:   sl.EndAt,
			Mode:    sl.Mode,
			Label:   zone.Label(sl.StartAt, sl.EndAt),
		})
	}
	return out, nil
}

// ListForAdmin returns every slot in [from, to] with its occupancy and
// linked appointment, past slots included.
func (s *Service) ListForAdmin(ctx context.Context, practitionerID uuid.UUID, from, to schedule.Date) ([]AdminSlot, error) {
	if _, err := validateRange(from, to); err != nil {
		return nil, err
	}
	zone := s.engine.Zone()
	start, _ := zone.DayBounds(from)
	_, end := zone.DayBounds(to)
	return s.repo.ListRange(ctx, practitionerID, start, end)
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.repo.GetSlot(ctx, id)
}

// SetDayOff records the override and removes every slot of that day,
// booked or not. Booked removals are logged and emitted as events; their
// appointments are left for the admin to resolve.
func (s *Service) SetDayOff(ctx context.Context, practitionerID uuid.UUID, date schedule.Date, reason string) (*DayOffResult, error) {
	if date.IsZero() {
		return nil, apperr.Validationf("date is required")
	}

	off := DayOff{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Date:           date,
	}
	if reason != "" {
		off.Reason = &reason
	}

	dayStart, dayEnd := s.engine.Zone().DayBounds(date)
	res, err := s.repo.SetDayOff(ctx, off, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	for _, b := range res.BookedRemoved {
		s.log.Warn().
			Str("slot_id", b.ID.String()).
			Str("practitioner_id", practitionerID.String()).
			Time("start_at", b.StartAt).
			Str("day_off", date.String()).
			Msg("booked slot removed by day-off")
	}
	s.log.Info().
		Str("practitioner_id", practitionerID.String()).
		Str("date", date.String()).
		Int("removed_slots", res.RemovedSlots).
		Msg("day-off set")

	return res, nil
}

// RemoveDayOff deletes the override only; slots come back through the
// next materialization.
func (s *Service) RemoveDayOff(ctx context.Context, id uuid.UUID) error {
	off, err := s.repo.DeleteDayOff(ctx, id)
	if err != nil {
		return err
	}
	s.log.Info().
		Str("day_off_id", id.String()).
		Str("date", off.Date.String()).
		Msg("day-off removed")
	return nil
}

func (s *Service) ListDayOffs(ctx context.Context, practitionerID uuid.UUID) ([]DayOff, error) {
	return s.repo.ListDayOffs(ctx, practitionerID)
}

// ResolvePractitioner returns id when it exists, or the only practitioner
// when id is zero.
func (s *Service) ResolvePractitioner(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	if id == uuid.Nil {
		return s.repo.SolePractitioner(ctx)
	}
	ok, err := s.repo.PractitionerExists(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, ErrPractitionerNotFound
	}
	return id, nil
}
