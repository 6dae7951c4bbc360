package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/schedule"
	"github.com/hackgods/clinic-booking/internal/slot"
)

const testSecret = "api-test-secret"

var practitionerID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

type fakeSlots struct {
	zone      schedule.Zone
	available []slot.Summary
	created   int
	gotModes  []schedule.Mode
	gotPID    uuid.UUID
	dayOffErr error
}

func (f *fakeSlots) Zone() schedule.Zone { return f.zone }

func (f *fakeSlots) ListAvailable(_ context.Context, pid uuid.UUID, _ schedule.Date, _ schedule.Mode) ([]slot.Summary, error) {
	f.gotPID = pid
	return f.available, nil
}

func (f *fakeSlots) Materialize(_ context.Context, pid uuid.UUID, _, _ schedule.Date, modes []schedule.Mode) (int, error) {
	f.gotPID = pid
	f.gotModes = modes
	return f.created, nil
}

func (f *fakeSlots) Preview(context.Context, uuid.UUID, schedule.Date, schedule.Date, []schedule.Mode) ([]slot.NewSlot, error) {
	return nil, nil
}

func (f *fakeSlots) ListForAdmin(context.Context, uuid.UUID, schedule.Date, schedule.Date) ([]slot.AdminSlot, error) {
	return nil, nil
}

func (f *fakeSlots) SetDayOff(_ context.Context, pid uuid.UUID, date schedule.Date, _ string) (*slot.DayOffResult, error) {
	if f.dayOffErr != nil {
		return nil, f.dayOffErr
	}
	return &slot.DayOffResult{DayOff: slot.DayOff{ID: uuid.New(), PractitionerID: pid, Date: date}}, nil
}

func (f *fakeSlots) RemoveDayOff(context.Context, uuid.UUID) error { return slot.ErrDayOffNotFound }

func (f *fakeSlots) ListDayOffs(context.Context, uuid.UUID) ([]slot.DayOff, error) { return nil, nil }

type fakeAppointments struct {
	appt      *appointment.Appointment
	statusErr error
}

func (f *fakeAppointments) Get(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if f.appt == nil || f.appt.ID != id {
		return nil, appointment.ErrAppointmentNotFound
	}
	return f.appt, nil
}

func (f *fakeAppointments) SetStatus(_ context.Context, _ uuid.UUID, target appointment.Status) (*appointment.Appointment, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	a := *f.appt
	a.Status = target
	return &a, nil
}

type fakeBookings struct {
	req      payment.BookingRequest
	err      error
	patient  uuid.UUID // owner of every order ref
	gotOwner uuid.UUID
}

func (f *fakeBookings) Book(_ context.Context, req payment.BookingRequest) (*payment.Booking, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &payment.Booking{
		Appointment: &appointment.Appointment{ID: uuid.New(), PatientID: req.PatientID, Status: appointment.StatusPending},
		Order:       &payment.Order{Ref: "pi_1", Status: payment.OrderPending},
	}, nil
}

func (f *fakeBookings) Verify(_ context.Context, _ string, owner uuid.UUID) (*appointment.Result, payment.OrderStatus, error) {
	f.gotOwner = owner
	if owner != uuid.Nil && owner != f.patient {
		return nil, "", appointment.ErrAppointmentNotFound
	}
	return &appointment.Result{Appointment: &appointment.Appointment{ID: uuid.New(), PatientID: f.patient, Status: appointment.StatusConfirmed}, Changed: true}, payment.OrderPaid, nil
}

type fakeWebhooks struct{ err error }

func (f fakeWebhooks) Handle(context.Context, []byte, string) (payment.Outcome, error) {
	return payment.OutcomeProcessed, f.err
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (bool, error) { return false, nil }

type env struct {
	slots    *fakeSlots
	appts    *fakeAppointments
	bookings *fakeBookings
	webhooks fakeWebhooks
	limiter  Limiter
}

func newEnv() *env {
	return &env{
		slots:    &fakeSlots{zone: schedule.FixedZone(5*3600 + 30*60)},
		appts:    &fakeAppointments{},
		bookings: &fakeBookings{},
	}
}

func (e *env) handler() http.Handler {
	return NewRouter(RouterConfig{
		Slots:          e.slots,
		Appointments:   e.appts,
		Bookings:       e.bookings,
		Webhooks:       e.webhooks,
		Limiter:        e.limiter,
		PractitionerID: practitionerID,
		JWTSecret:      testSecret,
		Postgres:       PingFunc(func(context.Context) error { return nil }),
		Logger:         zerolog.Nop(),
		Env:            "test",
	})
}

func token(t *testing.T, id uuid.UUID, role auth.Role) string {
	t.Helper()
	tok, err := auth.Issue(testSecret, id, role, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tok
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAvailableSlots(t *testing.T) {
	e := newEnv()
	e.slots.available = []slot.Summary{{ID: uuid.New(), Mode: schedule.ModeOnline, Label: "2:00 PM – 2:40 PM"}}

	rec := do(t, e.handler(), http.MethodGet, "/slots/available?date=2030-03-04&mode=video", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp AvailableSlotsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Mode != schedule.ModeOnline || len(resp.Slots) != 1 || resp.Zone != "+05:30" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if e.slots.gotPID != practitionerID {
		t.Fatalf("expected default practitioner")
	}
}

func TestAvailableSlots_Validation(t *testing.T) {
	h := newEnv().handler()
	for _, path := range []string{
		"/slots/available?mode=online",
		"/slots/available?date=04-03-2030&mode=online",
		"/slots/available?date=2030-03-04&mode=phone",
	} {
		if rec := do(t, h, http.MethodGet, path, "", nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestCreateAppointment_UsesCallerIdentity(t *testing.T) {
	e := newEnv()
	patient := uuid.New()

	rec := do(t, e.handler(), http.MethodPost, "/appointments", token(t, patient, auth.RolePatient), CreateAppointmentRequest{
		SlotID: uuid.NewString(),
		Mode:   "in-person",
		Plan:   "follow-up",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if e.bookings.req.PatientID != patient || e.bookings.req.Mode != schedule.ModeInPerson {
		t.Fatalf("unexpected booking request %+v", e.bookings.req)
	}
}

func TestCreateAppointment_Errors(t *testing.T) {
	patient := uuid.New()

	t.Run("unauthenticated", func(t *testing.T) {
		rec := do(t, newEnv().handler(), http.MethodPost, "/appointments", "", CreateAppointmentRequest{})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("patient booking for someone else", func(t *testing.T) {
		rec := do(t, newEnv().handler(), http.MethodPost, "/appointments", token(t, patient, auth.RolePatient), CreateAppointmentRequest{
			SlotID:    uuid.NewString(),
			PatientID: uuid.NewString(),
			Mode:      "online",
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("slot taken", func(t *testing.T) {
		e := newEnv()
		e.bookings.err = appointment.ErrSlotAlreadyBooked
		rec := do(t, e.handler(), http.MethodPost, "/appointments", token(t, patient, auth.RolePatient), CreateAppointmentRequest{
			SlotID: uuid.NewString(),
			Mode:   "online",
			Plan:   "follow-up",
		})
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("internal errors are not leaked", func(t *testing.T) {
		e := newEnv()
		e.bookings.err = errors.New("pq: relation does not exist")
		rec := do(t, e.handler(), http.MethodPost, "/appointments", token(t, patient, auth.RolePatient), CreateAppointmentRequest{
			SlotID: uuid.NewString(),
			Mode:   "online",
			Plan:   "follow-up",
		})
		if rec.Code != http.StatusInternalServerError || bytes.Contains(rec.Body.Bytes(), []byte("relation")) {
			t.Fatalf("expected opaque 500, got %d: %s", rec.Code, rec.Body)
		}
	})
}

func TestGetAppointment_HidesOtherPatients(t *testing.T) {
	e := newEnv()
	owner := uuid.New()
	e.appts.appt = &appointment.Appointment{ID: uuid.New(), PatientID: owner, Status: appointment.StatusPending}
	path := "/appointments/" + e.appts.appt.ID.String()

	if rec := do(t, e.handler(), http.MethodGet, path, token(t, owner, auth.RolePatient), nil); rec.Code != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d", rec.Code)
	}
	if rec := do(t, e.handler(), http.MethodGet, path, token(t, uuid.New(), auth.RolePatient), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("stranger: expected 404, got %d", rec.Code)
	}
	if rec := do(t, e.handler(), http.MethodGet, path, token(t, uuid.New(), auth.RoleAdmin), nil); rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", rec.Code)
	}
}

func TestAdmin_RequiresRole(t *testing.T) {
	rec := do(t, newEnv().handler(), http.MethodGet, "/admin/day-offs", token(t, uuid.New(), auth.RolePatient), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAdmin_GenerateSlots(t *testing.T) {
	e := newEnv()
	e.slots.created = 9
	admin := token(t, uuid.New(), auth.RoleAdmin)

	rec := do(t, e.handler(), http.MethodPost, "/admin/slots/generate", admin, GenerateSlotsRequest{
		StartDate: "2030-03-04",
		EndDate:   "2030-03-06",
		Modes:     []string{"IN_PERSON", "clinic"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp GenerateSlotsResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Created != 9 || len(e.slots.gotModes) != 1 {
		t.Fatalf("unexpected created=%d modes=%v", resp.Created, e.slots.gotModes)
	}

	other := uuid.New()
	rec = do(t, e.handler(), http.MethodPost, "/admin/slots/generate?practitioner_id="+other.String(), admin, GenerateSlotsRequest{
		StartDate: "2030-03-04",
		EndDate:   "2030-03-04",
		Modes:     []string{"online"},
	})
	if rec.Code != http.StatusOK || e.slots.gotPID != other {
		t.Fatalf("expected practitioner override, got %d %s", rec.Code, e.slots.gotPID)
	}
}

func TestAdmin_GenerateSlotsModesDefault(t *testing.T) {
	e := newEnv()
	admin := token(t, uuid.New(), auth.RoleAdmin)

	rec := do(t, e.handler(), http.MethodPost, "/admin/slots/generate", admin, map[string]any{
		"start_date": "2030-03-04",
		"end_date":   "2030-03-04",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if len(e.slots.gotModes) != len(schedule.AllModes) {
		t.Fatalf("expected every mode when omitted, got %v", e.slots.gotModes)
	}

	rec = do(t, e.handler(), http.MethodPost, "/admin/slots/generate", admin, GenerateSlotsRequest{
		StartDate: "2030-03-04",
		EndDate:   "2030-03-04",
		Modes:     []string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty mode list, got %d", rec.Code)
	}
}

func TestAdmin_DayOffs(t *testing.T) {
	e := newEnv()
	admin := token(t, uuid.New(), auth.RoleAdmin)

	rec := do(t, e.handler(), http.MethodPost, "/admin/day-offs", admin, SetDayOffRequest{Date: "2030-03-05", Reason: "conference"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, e.handler(), http.MethodDelete, "/admin/day-offs/"+uuid.NewString(), admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown day-off, got %d", rec.Code)
	}
}

func TestAdmin_SetStatus(t *testing.T) {
	e := newEnv()
	e.appts.appt = &appointment.Appointment{ID: uuid.New(), Status: appointment.StatusConfirmed}
	admin := token(t, uuid.New(), auth.RoleAdmin)
	path := "/admin/appointments/" + e.appts.appt.ID.String() + "/status"

	rec := do(t, e.handler(), http.MethodPatch, path, admin, SetStatusRequest{Status: "completed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, e.handler(), http.MethodPatch, path, admin, SetStatusRequest{Status: "ARCHIVED"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}

	e.appts.statusErr = &appointment.TransitionError{From: appointment.StatusCompleted, To: appointment.StatusPending}
	rec = do(t, e.handler(), http.MethodPatch, path, admin, SetStatusRequest{Status: "PENDING"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for illegal transition, got %d", rec.Code)
	}
}

func TestAdmin_SetStatusTransientStoreFailure(t *testing.T) {
	e := newEnv()
	e.appts.appt = &appointment.Appointment{ID: uuid.New(), Status: appointment.StatusPending}
	e.appts.statusErr = apperr.Wrap(apperr.KindTransient, context.DeadlineExceeded, "transition appointment")
	admin := token(t, uuid.New(), auth.RoleAdmin)

	rec := do(t, e.handler(), http.MethodPatch, "/admin/appointments/"+e.appts.appt.ID.String()+"/status", admin, SetStatusRequest{Status: "CONFIRMED"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	e.appts.statusErr = errors.New("disk full")
	rec = do(t, e.handler(), http.MethodPatch, "/admin/appointments/"+e.appts.appt.ID.String()+"/status", admin, SetStatusRequest{Status: "CONFIRMED"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unclassified errors, got %d", rec.Code)
	}
}

func TestVerifyPayment_OwnerOrAdmin(t *testing.T) {
	e := newEnv()
	e.bookings.patient = uuid.New()
	body := VerifyPaymentRequest{OrderRef: "pi_1"}

	rec := do(t, e.handler(), http.MethodPost, "/payments/verify", token(t, e.bookings.patient, auth.RolePatient), body)
	if rec.Code != http.StatusOK || e.bookings.gotOwner != e.bookings.patient {
		t.Fatalf("owner: expected 200 scoped to the caller, got %d owner=%s", rec.Code, e.bookings.gotOwner)
	}

	rec = do(t, e.handler(), http.MethodPost, "/payments/verify", token(t, uuid.New(), auth.RolePatient), body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other patient: expected 404, got %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, e.handler(), http.MethodPost, "/payments/verify", token(t, uuid.New(), auth.RoleAdmin), body)
	if rec.Code != http.StatusOK || e.bookings.gotOwner != uuid.Nil {
		t.Fatalf("admin: expected unscoped 200, got %d owner=%s", rec.Code, e.bookings.gotOwner)
	}
}

func TestWebhook(t *testing.T) {
	e := newEnv()
	if rec := do(t, e.handler(), http.MethodPost, "/payments/webhook", "", map[string]string{}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	e.webhooks.err = payment.ErrInvalidSignature
	if rec := do(t, e.handler(), http.MethodPost, "/payments/webhook", "", map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	e.webhooks.err = payment.ErrWebhookNotConfigured
	if rec := do(t, e.handler(), http.MethodPost, "/payments/webhook", "", map[string]string{}); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	e := newEnv()
	e.limiter = denyAll{}
	rec := do(t, e.handler(), http.MethodGet, "/plans", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	// Health stays reachable.
	if rec := do(t, e.handler(), http.MethodGet, "/health/ready", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := clientKey(req); got != "192.0.2.1" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientKey(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	newEnv().handler().ServeHTTP(rec, req)
	if rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("expected request id to be echoed")
	}
}
