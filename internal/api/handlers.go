package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

const maxWebhookBody = 64 << 10

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validationf("%s must be a valid UUID", name)
	}
	return id, nil
}

func requiredDate(raw, field string) (schedule.Date, error) {
	if strings.TrimSpace(raw) == "" {
		return schedule.Date{}, apperr.Validationf("%s is required", field)
	}
	return schedule.ParseDate(raw)
}

func listPlansHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, payment.Plans())
	}
}

func availableSlotsHandler(svc SlotService, practitionerID uuid.UUID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		date, err := requiredDate(q.Get("date"), "date")
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		mode, err := schedule.ParseMode(q.Get("mode"))
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		slots, err := svc.ListAvailable(r.Context(), practitionerID, date, mode)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailableSlotsResponse{
			Date:  date,
			Mode:  mode,
			Zone:  svc.Zone().String(),
			Slots: slots,
		})
	}
}

func createAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := auth.FromContext(r.Context())

		var req CreateAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		patientID := caller.ID
		if req.PatientID != "" {
			if !caller.IsAdmin() {
				writeError(w, http.StatusForbidden, "forbidden", "patients can only book for themselves")
				return
			}
			patientID, err = uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
		}

		mode, err := schedule.ParseMode(req.Mode)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		booking, err := svc.Book(r.Context(), payment.BookingRequest{
			SlotID:    slotID,
			PatientID: patientID,
			Mode:      mode,
			PlanSlug:  req.Plan,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookingResponse{
			Appointment: toAppointmentResponse(booking.Appointment),
			Order:       booking.Order,
			Plan:        booking.Plan,
		})
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := auth.FromContext(r.Context())

		id, err := parseUUIDParam(r, "id")
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if !caller.IsAdmin() && appt.PatientID != caller.ID {
			writeAppError(w, r, appointment.ErrAppointmentNotFound)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func verifyPaymentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyPaymentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if strings.TrimSpace(req.OrderRef) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "order_ref is required")
			return
		}

		caller, _ := auth.FromContext(r.Context())
		owner := caller.ID
		if caller.IsAdmin() {
			owner = uuid.Nil
		}

		res, status, err := svc.Verify(r.Context(), req.OrderRef, owner)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		resp := VerifyPaymentResponse{OrderStatus: status}
		if res != nil {
			appt := toAppointmentResponse(res.Appointment)
			resp.Appointment = &appt
			resp.Changed = res.Changed
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func webhookHandler(svc WebhookService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
			return
		}

		outcome, err := svc.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, payment.ErrInvalidSignature) {
				writeError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
				return
			}
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, WebhookResponse{Outcome: outcome})
	}
}
