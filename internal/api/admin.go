package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

// practitionerFor lets an admin target another practitioner with
// ?practitioner_id=; the configured one is the default.
func practitionerFor(r *http.Request, def uuid.UUID) (uuid.UUID, error) {
	raw := r.URL.Query().Get("practitioner_id")
	if raw == "" {
		return def, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validationf("practitioner_id must be a valid UUID")
	}
	return id, nil
}

func parseGenerateRequest(r *http.Request) (schedule.Date, schedule.Date, []schedule.Mode, error) {
	var req GenerateSlotsRequest
	if err := decodeJSON(r, &req); err != nil {
		return schedule.Date{}, schedule.Date{}, nil, apperr.Validationf("could not parse JSON")
	}
	start, err := requiredDate(req.StartDate, "start_date")
	if err != nil {
		return schedule.Date{}, schedule.Date{}, nil, err
	}
	end, err := requiredDate(req.EndDate, "end_date")
	if err != nil {
		return schedule.Date{}, schedule.Date{}, nil, err
	}
	// Omitted modes mean every mode; an explicit empty list is a mistake.
	if req.Modes == nil {
		return start, end, schedule.AllModes, nil
	}
	if len(req.Modes) == 0 {
		return schedule.Date{}, schedule.Date{}, nil, apperr.Validationf("modes must not be empty")
	}
	modes, err := schedule.ParseModes(req.Modes)
	if err != nil {
		return schedule.Date{}, schedule.Date{}, nil, err
	}
	return start, end, modes, nil
}

func generateSlotsHandler(svc SlotService, def uuid.UUID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, err := practitionerFor(r, def)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		start, end, modes, err := parseGenerateRequest(r)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		created, err := svc.Materialize(r.Context(), pid, start, end, modes)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, GenerateSlotsResponse{Created: created})
	}
}

func previewSlotsHandler(svc SlotService, def uuid.UUID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, err := practitionerFor(r, def)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		start, end, modes, err := parseGenerateRequest(r)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		planned, err := svc.Preview(r.Context(), pid, start, end, modes)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		zone := svc.Zone()
		resp := PreviewSlotsResponse{Count: len(planned), Slots: make([]PlannedSlot, 0, len(planned))}
		for _, p := range planned {
			resp.Slots = append(resp.Slots, PlannedSlot{
				StartAt: p.StartAt,
				EndAt:   p.EndAt,
				Mode:    p.Mode,
				Label:   zone.Label(p.StartAt, p.EndAt),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func adminSlotsHandler(svc SlotService, def uuid.UUID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, err := practitionerFor(r, def)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		q := r.URL.Query()
		from, err := requiredDate(q.Get("from"), "from")
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		to := from
		if raw := q.Get("to"); raw != "" {
			if to, err = schedule.ParseDate(raw); err != nil {
				writeAppError(w, r, err)
				return
			}
		}

		slots, err := svc.ListForAdmin(r.Context(), pid, from, to)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		zone := svc.Zone()
		resp := make([]AdminSlotResponse, 0, len(slots))
		for _, s := range slots {
			item := AdminSlotResponse{
				ID:       s.ID,
				StartAt:  s.StartAt,
				EndAt:    s.EndAt,
				Mode:     s.Mode,
				IsBooked: s.IsBooked,
				Label:    zone.Label(s.StartAt, s.EndAt),
			}
			if a := s.Appointment; a != nil {
				item.Appointment = &AdminAppointmentSummary{
					ID:          a.ID,
					Status:      a.Status,
					PatientID:   a.PatientID,
					PatientName: a.PatientName,
				}
			}
			resp = append(resp, item)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listDayOffsHandler(svc SlotService, def uuid.UUID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, err := practitionerFor(r, def)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		offs, err := svc.ListDayOffs(r.Context(), pid)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		resp := make([]DayOffResponse, 0, len(offs))
		for _, d := range offs {
			resp = append(resp, toDayOffResponse(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func setDayOffHandler(svc SlotService, def uuid.UUID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, err := practitionerFor(r, def)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		var req SetDayOffRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, err := requiredDate(req.Date, "date")
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		res, err := svc.SetDayOff(r.Context(), pid, date, req.Reason)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		booked := make([]uuid.UUID, 0, len(res.BookedRemoved))
		for _, s := range res.BookedRemoved {
			booked = append(booked, s.ID)
		}
		writeJSON(w, http.StatusOK, SetDayOffResponse{
			DayOff:        toDayOffResponse(res.DayOff),
			RemovedSlots:  res.RemovedSlots,
			BookedRemoved: booked,
		})
	}
}

func removeDayOffHandler(svc SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "id")
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if err := svc.RemoveDayOff(r.Context(), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func setStatusHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "id")
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		var req SetStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		target, err := appointment.ParseStatus(req.Status)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		appt, err := svc.SetStatus(r.Context(), id, target)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}
