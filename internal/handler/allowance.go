package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/chorechart/internal/auth"
	"github.com/dukerupert/chorechart/internal/ledger"
	"github.com/dukerupert/chorechart/internal/model"
	"github.com/dukerupert/chorechart/internal/websocket"
)

// AllowanceHandler serves each user's allowance account and transactions.
type AllowanceHandler struct {
	repo   ledger.Repository
	hub    websocket.Broadcaster
	logger *slog.Logger
}

func NewAllowanceHandler(repo ledger.Repository, hub websocket.Broadcaster, logger *slog.Logger) *AllowanceHandler {
	return &AllowanceHandler{repo: repo, hub: hub, logger: logger}
}

type transactionRequest struct {
	Amount      json.RawMessage `json:"amount"`
	Type        string          `json:"type"`
	Description *string         `json:"description"`
}

type transactionResult struct {
	Account     *model.Account `json:"account"`
	Transaction any            `json:"transaction"`
	Message     string         `json:"message,omitempty"`
}

var (
	errAmountRequired  = errors.New("amount is required")
	errAmountNotNumber = errors.New("amount must be a number")
)

// parseAmount accepts only a JSON number token. Numeric strings such as
// "5" are rejected.
func parseAmount(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errAmountRequired
	}
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return 0, errAmountNotNumber
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, errAmountNotNumber
	}
	f, err := n.Float64()
	if err != nil {
		return 0, errAmountNotNumber
	}
	return f, nil
}

func userParam(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("user"))
	return id, id != ""
}

// backendError logs err and writes a 500 that does not leak its detail.
func (h *AllowanceHandler) backendError(w http.ResponseWriter, msg, userID string, err error) {
	h.logger.Error(msg, "user", userID, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

func (h *AllowanceHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	acc, err := h.repo.GetAccount(r.Context(), userID)
	if err != nil {
		h.backendError(w, "failed to get account", userID, err)
		return
	}
	writeData(w, http.StatusOK, acc)
}

func (h *AllowanceHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	limit := ledger.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	txs, err := h.repo.RecentTransactions(r.Context(), userID, limit)
	if errors.Is(err, ledger.ErrInvalidLimit) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.backendError(w, "failed to list transactions", userID, err)
		return
	}
	writeData(w, http.StatusOK, txs)
}

func (h *AllowanceHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	var req transactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	txType := model.TransactionManual
	if req.Type != "" {
		txType = model.TransactionType(strings.ToUpper(req.Type))
	}
	if !txType.Valid() {
		writeError(w, http.StatusBadRequest, "type must be ALLOWANCE, BONUS or MANUAL")
		return
	}

	acc, tx, err := h.repo.AddTransaction(r.Context(), userID, amount, txType, req.Description)
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidType):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.backendError(w, "failed to add transaction", userID, err)
		return
	}

	h.logger.Info("transaction recorded", "user", userID, "type", txType, "amount", amount, "by", auth.Username(r.Context()))
	broadcast(h.hub, websocket.NewMessage("transaction", "created", userID, map[string]any{"balance": acc.CurrentBalance}))
	writeData(w, http.StatusOK, transactionResult{Account: acc, Transaction: tx})
}

func (h *AllowanceHandler) DeleteLastTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	acc, tx, err := h.repo.DeleteLastTransaction(r.Context(), userID)
	if err != nil {
		h.backendError(w, "failed to delete transaction", userID, err)
		return
	}
	if tx == nil {
		writeData(w, http.StatusOK, transactionResult{
			Account:     acc,
			Transaction: struct{}{},
			Message:     "nothing to delete",
		})
		return
	}

	broadcast(h.hub, websocket.NewMessage("transaction", "deleted", userID, map[string]any{"balance": acc.CurrentBalance}))
	writeData(w, http.StatusOK, transactionResult{Account: acc, Transaction: tx})
}

// MergeSettings handles PATCH; ReplaceSettings handles PUT.
func (h *AllowanceHandler) MergeSettings(w http.ResponseWriter, r *http.Request) {
	h.updateSettings(w, r, false)
}

func (h *AllowanceHandler) ReplaceSettings(w http.ResponseWriter, r *http.Request) {
	h.updateSettings(w, r, true)
}

func (h *AllowanceHandler) updateSettings(w http.ResponseWriter, r *http.Request, replace bool) {
	userID, ok := userParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	settings, err := decodeObject(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	acc, err := h.repo.UpdateSettings(r.Context(), userID, settings, replace)
	if err != nil {
		h.backendError(w, "failed to update settings", userID, err)
		return
	}
	action := "updated"
	if replace {
		action = "replaced"
	}
	broadcast(h.hub, websocket.NewMessage("settings", action, userID, nil))
	writeData(w, http.StatusOK, acc)
}

func (h *AllowanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	rec, err := h.repo.Reconcile(r.Context(), userID)
	if err != nil {
		h.backendError(w, "failed to reconcile account", userID, err)
		return
	}
	if rec.Repaired {
		broadcast(h.hub, websocket.NewMessage("account", "repaired", userID, map[string]any{"balance": rec.ComputedBalance}))
	}
	writeData(w, http.StatusOK, rec)
}
