package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/chorechart/internal/config"
	"github.com/dukerupert/chorechart/internal/docstore"
	"github.com/dukerupert/chorechart/internal/handler"
	"github.com/dukerupert/chorechart/internal/ledger"
	"github.com/dukerupert/chorechart/internal/middleware"
	ws "github.com/dukerupert/chorechart/internal/websocket"
)

// Stores are the persistence components the API serves.
type Stores struct {
	Config  docstore.Store
	State   docstore.Store
	Ledger  ledger.Repository
	Storage handler.StorageInfo
	Settler handler.Settler
}

type Server struct {
	cfg         config.HTTP
	hub         *ws.Hub
	householdH  *handler.HouseholdHandler
	allowanceH  *handler.AllowanceHandler
	systemH     *handler.SystemHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(cfg config.HTTP, stores Stores, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	return &Server{
		cfg:         cfg,
		hub:         hub,
		householdH:  handler.NewHouseholdHandler(stores.Config, stores.State, hub, logger.With("component", "household")),
		allowanceH:  handler.NewAllowanceHandler(stores.Ledger, hub, logger.With("component", "allowance")),
		systemH:     handler.NewSystemHandler(stores.Storage, stores.Settler, hub, logger.With("component", "system")),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the change feed hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /api/health", s.systemH.Health)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	protected := middleware.RateLimit(s.rateLimiter, s.cfg.RateLimit, time.Minute)(protectedMux)
	outerMux.Handle("/", middleware.BasicAuth(s.cfg.Username, s.cfg.PasswordHash)(protected))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/storage", s.systemH.Storage)
	mux.HandleFunc("POST /api/settle", s.systemH.Settle)

	// Household documents
	mux.HandleFunc("GET /api/config", s.householdH.GetConfig)
	mux.HandleFunc("POST /api/config", s.householdH.UpdateConfig)
	mux.HandleFunc("GET /api/state", s.householdH.GetState)
	mux.HandleFunc("POST /api/state", s.householdH.UpdateState)
	mux.HandleFunc("POST /api/reset", s.householdH.ResetState)

	// Allowance ledger
	mux.HandleFunc("GET /api/allowance/{user}/account", s.allowanceH.GetAccount)
	mux.HandleFunc("GET /api/allowance/{user}/transactions", s.allowanceH.ListTransactions)
	mux.HandleFunc("POST /api/allowance/{user}/transactions", s.allowanceH.CreateTransaction)
	mux.HandleFunc("DELETE /api/allowance/{user}/transactions/last", s.allowanceH.DeleteLastTransaction)
	mux.HandleFunc("PATCH /api/allowance/{user}/settings", s.allowanceH.MergeSettings)
	mux.HandleFunc("PUT /api/allowance/{user}/settings", s.allowanceH.ReplaceSettings)
	mux.HandleFunc("POST /api/allowance/{user}/reconcile", s.allowanceH.Reconcile)

	mux.HandleFunc("GET /ws", ws.Handle(s.hub, nil, s.logger.With("component", "websocket")))

	mux.HandleFunc("/", handler.NotFound)
}
