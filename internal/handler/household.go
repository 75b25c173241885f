package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chorechart/internal/auth"
	"github.com/dukerupert/chorechart/internal/docstore"
	"github.com/dukerupert/chorechart/internal/websocket"
)

// HouseholdHandler serves the task config and weekly state documents.
type HouseholdHandler struct {
	config docstore.Store
	state  docstore.Store
	hub    websocket.Broadcaster
	logger *slog.Logger
}

func NewHouseholdHandler(config, state docstore.Store, hub websocket.Broadcaster, logger *slog.Logger) *HouseholdHandler {
	return &HouseholdHandler{config: config, state: state, hub: hub, logger: logger}
}

func (h *HouseholdHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := h.config.Load(r.Context())
	if err != nil {
		h.logger.Error("load config", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	writeData(w, http.StatusOK, doc)
}

// UpdateConfig replaces the config document. Users, task lists and
// messages must have the right JSON shape when present.
func (h *HouseholdHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeObject(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := docstore.DecodeTaskConfig(doc); err != nil {
		writeError(w, http.StatusBadRequest, "config does not match the expected shape")
		return
	}

	if !h.config.Save(r.Context(), doc) {
		writeError(w, http.StatusInternalServerError, "failed to save config")
		return
	}
	h.logger.Info("config updated", "by", auth.Username(r.Context()))
	broadcast(h.hub, websocket.NewMessage("config", "updated", "", nil))
	writeData(w, http.StatusOK, doc)
}

func (h *HouseholdHandler) GetState(w http.ResponseWriter, r *http.Request) {
	doc, err := h.state.Load(r.Context())
	if err != nil {
		h.logger.Error("load state", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load state")
		return
	}
	writeData(w, http.StatusOK, doc)
}

// UpdateState replaces the state document. Every value must be a list of
// booleans.
func (h *HouseholdHandler) UpdateState(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeObject(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for key, v := range doc {
		if err := checkFlags(v); err != nil {
			writeError(w, http.StatusBadRequest, key+": "+err.Error())
			return
		}
	}

	if !h.state.Save(r.Context(), doc) {
		writeError(w, http.StatusInternalServerError, "failed to save state")
		return
	}
	broadcast(h.hub, websocket.NewMessage("state", "updated", "", nil))
	writeData(w, http.StatusOK, doc)
}

func (h *HouseholdHandler) ResetState(w http.ResponseWriter, r *http.Request) {
	doc, err := h.state.Reset(r.Context())
	if err != nil {
		h.logger.Error("reset state", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reset state")
		return
	}
	h.logger.Info("state reset", "by", auth.Username(r.Context()))
	broadcast(h.hub, websocket.NewMessage("state", "reset", "", nil))
	writeData(w, http.StatusOK, doc)
}

func checkFlags(v any) error {
	list, ok := v.([]any)
	if !ok {
		return errors.New("must be a list of booleans")
	}
	for _, e := range list {
		if _, ok := e.(bool); !ok {
			return errors.New("must be a list of booleans")
		}
	}
	return nil
}
