package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hearth/api/model"
)

type scheduleView struct {
	model.Schedule
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
}

func (h *Handler) view(sc model.Schedule) scheduleView {
	v := scheduleView{Schedule: sc}
	if next := h.schedules.NextRun(sc.ID); !next.IsZero() {
		v.NextRunAt = &next
	}
	return v
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := h.schedules.List(r.Context(), actor(r), serverID(r))
	if err != nil {
		fail(w, err)
		return
	}
	out := make([]scheduleView, 0, len(list))
	for _, sc := range list {
		out = append(out, h.view(sc))
	}
	writeJSON(w, out)
}

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var sc model.Schedule
	if !decode(w, r, &sc) {
		return
	}
	created, err := h.schedules.Create(r.Context(), actor(r), serverID(r), sc)
	if err != nil {
		fail(w, err)
		return
	}
	writeStatus(w, http.StatusCreated, h.view(*created))
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var sc model.Schedule
	if !decode(w, r, &sc) {
		return
	}
	sc.ID = chi.URLParam(r, "schedule")
	updated, err := h.schedules.Update(r.Context(), actor(r), serverID(r), sc)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, h.view(*updated))
}

func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, h.schedules.Delete(r.Context(), actor(r), serverID(r), chi.URLParam(r, "schedule")))
}

func (h *Handler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, h.schedules.Trigger(r.Context(), actor(r), serverID(r), chi.URLParam(r, "schedule")))
}
