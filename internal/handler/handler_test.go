package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/chorechart/internal/docstore"
	"github.com/dukerupert/chorechart/internal/factory"
	"github.com/dukerupert/chorechart/internal/ledger"
	"github.com/dukerupert/chorechart/internal/model"
	"github.com/dukerupert/chorechart/internal/settlement"
	"github.com/dukerupert/chorechart/internal/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []websocket.Message
}

func (h *recordingHub) Broadcast(msg websocket.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.msgs {
		out = append(out, m.Type)
	}
	return out
}

// failingRepo fails every call with an error that must not reach clients.
type failingRepo struct{ ledger.Repository }

var errBackend = errors.New("connection refused: mongo-1.internal:27017")

func (failingRepo) GetAccount(context.Context, string) (*model.Account, error) {
	return nil, errBackend
}

func (failingRepo) AddTransaction(context.Context, string, float64, model.TransactionType, *string) (*model.Account, *model.Transaction, error) {
	return nil, nil, errBackend
}

type testEnv struct {
	mux    *http.ServeMux
	config docstore.Store
	state  docstore.Store
	repo   ledger.Repository
	hub    *recordingHub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := testLogger()
	config := docstore.NewConfigStore(docstore.FileMedium{Path: filepath.Join(dir, "task_config.json")}, logger)
	state := docstore.NewStateStore(docstore.FileMedium{Path: filepath.Join(dir, "household_state.json")}, config, logger)
	repo := ledger.NewFileRepository(filepath.Join(dir, "allowance_test.json"), logger)
	return newTestEnvWith(t, config, state, repo)
}

type staticInfo struct{}

func (staticInfo) Info() factory.Info {
	return factory.Info{Requested: "mongo", Tenant: "household", State: "file", Allowance: "file"}
}

func newTestEnvWith(t *testing.T, config, state docstore.Store, repo ledger.Repository) *testEnv {
	t.Helper()
	hub := &recordingHub{}
	logger := testLogger()
	hh := NewHouseholdHandler(config, state, hub, logger)
	ah := NewAllowanceHandler(repo, hub, logger)
	sh := NewSystemHandler(staticInfo{}, settlement.New(config, state, repo, 0, logger), hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", sh.Health)
	mux.HandleFunc("GET /api/storage", sh.Storage)
	mux.HandleFunc("POST /api/settle", sh.Settle)
	mux.HandleFunc("GET /api/config", hh.GetConfig)
	mux.HandleFunc("POST /api/config", hh.UpdateConfig)
	mux.HandleFunc("GET /api/state", hh.GetState)
	mux.HandleFunc("POST /api/state", hh.UpdateState)
	mux.HandleFunc("POST /api/reset", hh.ResetState)
	mux.HandleFunc("GET /api/allowance/{user}/account", ah.GetAccount)
	mux.HandleFunc("GET /api/allowance/{user}/transactions", ah.ListTransactions)
	mux.HandleFunc("POST /api/allowance/{user}/transactions", ah.CreateTransaction)
	mux.HandleFunc("DELETE /api/allowance/{user}/transactions/last", ah.DeleteLastTransaction)
	mux.HandleFunc("PATCH /api/allowance/{user}/settings", ah.MergeSettings)
	mux.HandleFunc("PUT /api/allowance/{user}/settings", ah.ReplaceSettings)
	mux.HandleFunc("POST /api/allowance/{user}/reconcile", ah.Reconcile)

	return &testEnv{mux: mux, config: config, state: state, repo: repo, hub: hub}
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, response) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)

	var resp response
	if rec.Code != http.StatusNotFound || strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodGet, "/api/health", "")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d, success = %v", code, resp.Success)
	}
	if !strings.Contains(string(resp.Data), `"healthy"`) {
		t.Errorf("data = %s", resp.Data)
	}
}

func TestStorageInfo(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodGet, "/api/storage", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var info factory.Info
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Requested != "mongo" || info.State != "file" {
		t.Errorf("info = %+v", info)
	}
}

func TestConfigAndStateFlow(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/config",
		`{"users":{"milou":{"name":"Milou"}},"generalTasks":["trash"],"personalTasks":["bed","dishes"],"messages":["Well done"]}`)
	if code != http.StatusOK {
		t.Fatalf("POST config status = %d", code)
	}

	code, resp := env.do(t, http.MethodPost, "/api/reset", "")
	if code != http.StatusOK {
		t.Fatalf("POST reset status = %d", code)
	}
	var st map[string][]bool
	if err := json.Unmarshal(resp.Data, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(st["milou"]) != 14 || len(st[model.GeneralKey]) != 7 {
		t.Errorf("state sizes = %d/%d, want 14/7", len(st["milou"]), len(st[model.GeneralKey]))
	}

	code, _ = env.do(t, http.MethodPost, "/api/state", `{"milou":[true,false],"general":[false]}`)
	if code != http.StatusOK {
		t.Fatalf("POST state status = %d", code)
	}
	code, resp = env.do(t, http.MethodGet, "/api/state", "")
	if code != http.StatusOK {
		t.Fatalf("GET state status = %d", code)
	}
	if string(resp.Data) != `{"general":[false],"milou":[true,false]}` {
		t.Errorf("state = %s", resp.Data)
	}

	want := []string{"config_updated", "state_reset", "state_updated"}
	if got := env.hub.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("broadcasts = %v, want %v", got, want)
	}
}

func TestHouseholdValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name, path, body string
	}{
		{"empty config", "/api/config", ""},
		{"empty object", "/api/config", "{}"},
		{"malformed config", "/api/config", "{"},
		{"config wrong shape", "/api/config", `{"users":"milou"}`},
		{"state not a list", "/api/state", `{"milou":"done"}`},
		{"state non-boolean", "/api/state", `{"milou":[1,0]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, http.MethodPost, tt.path, tt.body)
			if code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
			}
			if resp.Success || resp.Error == "" {
				t.Errorf("response = %+v, want failure envelope", resp)
			}
		})
	}
}

func TestAllowanceFlow(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/api/allowance/milou/account", "")
	if code != http.StatusOK {
		t.Fatalf("GET account status = %d", code)
	}
	var acc model.Account
	json.Unmarshal(resp.Data, &acc)
	if acc.Version != 1 || acc.Currency != "EUR" {
		t.Errorf("account = %+v", acc)
	}

	code, resp = env.do(t, http.MethodPost, "/api/allowance/milou/transactions", `{"amount":2.0,"type":"ALLOWANCE","description":"week 1"}`)
	if code != http.StatusOK {
		t.Fatalf("POST transaction status = %d (%s)", code, resp.Error)
	}
	var created struct {
		Account     model.Account     `json:"account"`
		Transaction model.Transaction `json:"transaction"`
	}
	json.Unmarshal(resp.Data, &created)
	if created.Account.CurrentBalance != 2.0 || created.Account.Version != 2 {
		t.Errorf("account = %+v", created.Account)
	}
	if created.Transaction.Type != model.TransactionAllowance || *created.Transaction.Description != "week 1" {
		t.Errorf("transaction = %+v", created.Transaction)
	}

	code, resp = env.do(t, http.MethodPost, "/api/allowance/milou/transactions", `{"amount":-0.5}`)
	if code != http.StatusOK {
		t.Fatalf("POST debit status = %d", code)
	}
	json.Unmarshal(resp.Data, &created)
	if created.Transaction.Type != model.TransactionManual || created.Transaction.Direction != model.DirectionDebit {
		t.Errorf("default type/direction = %s/%s", created.Transaction.Type, created.Transaction.Direction)
	}

	code, resp = env.do(t, http.MethodGet, "/api/allowance/milou/transactions?limit=1", "")
	if code != http.StatusOK {
		t.Fatalf("GET transactions status = %d", code)
	}
	var txs []model.Transaction
	json.Unmarshal(resp.Data, &txs)
	if len(txs) != 1 || txs[0].Amount != -0.5 {
		t.Errorf("transactions = %+v, want only the newest", txs)
	}

	code, resp = env.do(t, http.MethodDelete, "/api/allowance/milou/transactions/last", "")
	if code != http.StatusOK {
		t.Fatalf("DELETE status = %d", code)
	}
	json.Unmarshal(resp.Data, &created)
	if created.Account.CurrentBalance != 2.0 {
		t.Errorf("balance after delete = %v, want 2", created.Account.CurrentBalance)
	}

	code, resp = env.do(t, http.MethodPatch, "/api/allowance/milou/settings", `{"weeklyAllowance":3}`)
	if code != http.StatusOK {
		t.Fatalf("PATCH settings status = %d", code)
	}
	json.Unmarshal(resp.Data, &acc)
	if acc.Settings.Float(model.SettingWeeklyAllowance) != 3 || acc.Settings.Int(model.SettingTasksPerWeek) != 5 {
		t.Errorf("merged settings = %v", acc.Settings)
	}

	code, resp = env.do(t, http.MethodPut, "/api/allowance/milou/settings", `{"weeklyAllowance":4}`)
	if code != http.StatusOK {
		t.Fatalf("PUT settings status = %d", code)
	}
	acc = model.Account{}
	json.Unmarshal(resp.Data, &acc)
	if len(acc.Settings) != 1 {
		t.Errorf("replaced settings = %v", acc.Settings)
	}

	code, resp = env.do(t, http.MethodPost, "/api/allowance/milou/reconcile", "")
	if code != http.StatusOK {
		t.Fatalf("POST reconcile status = %d", code)
	}
	var rec ledger.Reconciliation
	json.Unmarshal(resp.Data, &rec)
	if rec.Repaired || rec.ComputedBalance != 2.0 {
		t.Errorf("reconcile = %+v", rec)
	}
}

func TestDeleteOnEmptyLedger(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodDelete, "/api/allowance/luca/transactions/last", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	var got map[string]any
	json.Unmarshal(resp.Data, &got)
	if got["message"] != "nothing to delete" {
		t.Errorf("message = %v", got["message"])
	}
	if tx, ok := got["transaction"].(map[string]any); !ok || len(tx) != 0 {
		t.Errorf("transaction = %v, want {}", got["transaction"])
	}
}

func TestAllowanceValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name, method, path, body string
	}{
		{"missing amount", http.MethodPost, "/api/allowance/milou/transactions", `{"type":"BONUS"}`},
		{"amount not a number", http.MethodPost, "/api/allowance/milou/transactions", `{"amount":true}`},
		{"amount numeric string", http.MethodPost, "/api/allowance/milou/transactions", `{"amount":"5"}`},
		{"amount null", http.MethodPost, "/api/allowance/milou/transactions", `{"amount":null}`},
		{"amount object", http.MethodPost, "/api/allowance/milou/transactions", `{"amount":{"value":5}}`},
		{"unknown type", http.MethodPost, "/api/allowance/milou/transactions", `{"amount":1,"type":"GIFT"}`},
		{"malformed body", http.MethodPost, "/api/allowance/milou/transactions", `{"amount":`},
		{"limit not integer", http.MethodGet, "/api/allowance/milou/transactions?limit=abc", ""},
		{"limit zero", http.MethodGet, "/api/allowance/milou/transactions?limit=0", ""},
		{"limit negative", http.MethodGet, "/api/allowance/milou/transactions?limit=-3", ""},
		{"empty settings", http.MethodPatch, "/api/allowance/milou/settings", `{}`},
		{"no settings body", http.MethodPut, "/api/allowance/milou/settings", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, tt.method, tt.path, tt.body)
			if code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
			}
			if resp.Success {
				t.Error("success = true on a rejected request")
			}
		})
	}

	code, resp := env.do(t, http.MethodGet, "/api/allowance/milou/transactions", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	// None of the rejected requests may have booked anything.
	if string(resp.Data) != "[]" {
		t.Errorf("data = %s, want []", resp.Data)
	}
}

func TestBackendFailureIsSanitized(t *testing.T) {
	base := newTestEnv(t)
	env := newTestEnvWith(t, base.config, base.state, failingRepo{})

	for _, tt := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/allowance/milou/account", ""},
		{http.MethodPost, "/api/allowance/milou/transactions", `{"amount":1}`},
	} {
		code, resp := env.do(t, tt.method, tt.path, tt.body)
		if code != http.StatusInternalServerError {
			t.Errorf("%s %s: status = %d, want 500", tt.method, tt.path, code)
		}
		if strings.Contains(resp.Error, "mongo-1") || resp.Error == "" {
			t.Errorf("%s %s: error = %q, want a sanitized message", tt.method, tt.path, resp.Error)
		}
	}
}

func TestSettle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.config.Save(ctx, model.Document{
		"users":         map[string]any{"milou": map[string]any{}},
		"personalTasks": []any{"bed"},
	})

	code, resp := env.do(t, http.MethodPost, "/api/settle", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d (%s)", code, resp.Error)
	}
	var report settlement.Report
	json.Unmarshal(resp.Data, &report)
	if len(report.Users) != 1 || report.Users[0].Balance != 2.0 {
		t.Errorf("report = %+v", report)
	}
	if report.SettledAt.IsZero() || report.SettledAt.After(time.Now().Add(time.Minute)) {
		t.Errorf("settledAt = %v", report.SettledAt)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr error
	}{
		{"2.5", 2.5, nil},
		{"-0.75", -0.75, nil},
		{" 3 ", 3, nil},
		{"", 0, errAmountRequired},
		{"null", 0, errAmountRequired},
		{`"5"`, 0, errAmountNotNumber},
		{"true", 0, errAmountNotNumber},
		{"[1]", 0, errAmountNotNumber},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseAmount(json.RawMessage(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("parseAmount(%q) err = %v, want %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseAmount(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
