package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chorechart/internal/auth"
	"github.com/dukerupert/chorechart/internal/factory"
	"github.com/dukerupert/chorechart/internal/settlement"
	"github.com/dukerupert/chorechart/internal/websocket"
)

const serviceName = "chorechart"

type Settler interface {
	Settle(ctx context.Context) (*settlement.Report, error)
}

type StorageInfo interface {
	Info() factory.Info
}

// SystemHandler serves health, storage introspection and settlement.
type SystemHandler struct {
	storage StorageInfo
	settler Settler
	hub     websocket.Broadcaster
	logger  *slog.Logger
}

func NewSystemHandler(storage StorageInfo, settler Settler, hub websocket.Broadcaster, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{storage: storage, settler: settler, hub: hub, logger: logger}
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

func (h *SystemHandler) Storage(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.storage.Info())
}

func (h *SystemHandler) Settle(w http.ResponseWriter, r *http.Request) {
	report, err := h.settler.Settle(r.Context())
	if err != nil {
		h.logger.Error("settle week", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to settle week")
		return
	}
	h.logger.Info("week settled", "users", len(report.Users), "by", auth.Username(r.Context()))
	broadcast(h.hub, websocket.NewMessage("state", "reset", "", nil))
	for _, u := range report.Users {
		broadcast(h.hub, websocket.NewMessage("transaction", "created", u.UserID, map[string]any{"balance": u.Balance}))
	}
	writeData(w, http.StatusOK, report)
}
