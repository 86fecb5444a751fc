package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"hearth/api/model"
)

type createUserRequest struct {
	Username string           `json:"username"`
	Email    string           `json:"email"`
	Password string           `json:"password"`
	Admin    bool             `json:"admin"`
	Limits   model.UserLimits `json:"limits"`
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.Users.List(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	writeJSON(w, users)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decode(w, r, &req) {
		return
	}
	switch {
	case req.Username == "":
		fail(w, &model.ValidationError{Field: "username", Reason: "required"})
		return
	case len(req.Password) < 8:
		fail(w, &model.ValidationError{Field: "password", Reason: "at least 8 characters"})
		return
	}
	if _, err := h.store.FindUserByUsername(r.Context(), req.Username); err == nil {
		fail(w, &model.ValidationError{Field: "username", Reason: "already taken"})
		return
	} else if !errors.Is(err, model.ErrNotFound) {
		fail(w, err)
		return
	}

	u := &model.User{ID: uuid.NewString(), Username: req.Username, Email: req.Email, Admin: req.Admin, Limits: req.Limits}
	if err := u.SetPassword(req.Password); err != nil {
		fail(w, err)
		return
	}
	if err := h.store.Users.Insert(r.Context(), u); err != nil {
		fail(w, err)
		return
	}
	u.PasswordHash = ""
	writeStatus(w, http.StatusCreated, u)
}

func (h *Handler) ListEggs(w http.ResponseWriter, r *http.Request) {
	eggs, err := h.store.Eggs.List(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, eggs)
}

func (h *Handler) CreateEgg(w http.ResponseWriter, r *http.Request) {
	var egg model.Egg
	if !decode(w, r, &egg) {
		return
	}
	switch {
	case egg.Name == "":
		fail(w, &model.ValidationError{Field: "name", Reason: "required"})
		return
	case egg.DockerImage == "":
		fail(w, &model.ValidationError{Field: "dockerImage", Reason: "required"})
		return
	case egg.Startup == "":
		fail(w, &model.ValidationError{Field: "startup", Reason: "required"})
		return
	}
	if egg.ID == "" {
		egg.ID = uuid.NewString()
	}
	if err := h.store.Eggs.Insert(r.Context(), &egg); err != nil {
		fail(w, err)
		return
	}
	writeStatus(w, http.StatusCreated, egg)
}

func (h *Handler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.activity.ListRecent(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, entries)
}
