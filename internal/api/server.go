package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/pfrace/internal/events"
	"github.com/MJE43/pfrace/internal/game"
	"github.com/MJE43/pfrace/internal/store"
)

// Pinger reports storage connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AuditLog exposes the audit chain to the API.
type AuditLog interface {
	Height() uint64
	Stats() (recorded, failed uint64)
	Transactions(ctx context.Context, gameID string, page, perPage int) (*store.TxPage, error)
}

// Options configures a Server. Engine is required.
type Options struct {
	Engine         *game.Engine
	Store          Pinger
	Chain          AuditLog
	Hub            *events.Hub
	CORSOrigins    []string
	RequestTimeout time.Duration
	Logger         *log.Logger
	SecurityLogger *SecurityLogger
}

// Server handles HTTP requests
type Server struct {
	engine         *game.Engine
	store          Pinger
	chain          AuditLog
	hub            *events.Hub
	corsOrigins    []string
	requestTimeout time.Duration
	errorHandler   *ErrorHandler
	logger         *log.Logger
	securityLogger *SecurityLogger
	startTime      time.Time
}

// NewServer creates a new API server
func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[API] ", log.LstdFlags|log.Lshortfile)
	}
	if opts.SecurityLogger == nil {
		opts.SecurityLogger = NewSecurityLogger()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		engine:         opts.Engine,
		store:          opts.Store,
		chain:          opts.Chain,
		hub:            opts.Hub,
		corsOrigins:    opts.CORSOrigins,
		requestTimeout: opts.RequestTimeout,
		errorHandler:   NewErrorHandler(opts.Logger, opts.SecurityLogger),
		logger:         opts.Logger,
		securityLogger: opts.SecurityLogger,
		startTime:      time.Now(),
	}

	s.securityLogger.LogSystemStartup(map[string]interface{}{
		"store_enabled":  s.store != nil,
		"chain_enabled":  s.chain != nil,
		"events_enabled": s.hub != nil,
	})
	return s, nil
}

// Routes sets up the HTTP routes with middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.SecurityLoggingMiddleware)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(corsMiddleware(s.corsOrigins))

	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/version", s.handleVersion)

	r.Route("/api/v1", func(r chi.Router) {
		// Websocket streams outlive the request timeout.
		r.Get("/ws/{gameID}", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout))

			r.Route("/games", func(r chi.Router) {
				r.Post("/", s.handleCreateGame)
				r.Get("/", s.handleListGames)
				r.Get("/active", s.handleActiveGame)
				r.Route("/{gameID}", func(r chi.Router) {
					r.Get("/", s.handleGetGame)
					r.Post("/players", s.handleRegisterPlayer)
					r.Post("/seed/retry", s.handleRetrySeed)
					r.Post("/commitments", s.handleSubmitCommitment)
					r.Post("/variations/request", s.handleRequestVariation)
					r.Post("/variations/compute", s.handleComputeVariation)
					r.Post("/final", s.handleSubmitFinal)
					r.Get("/transactions", s.handleTransactions)
				})
			})

			r.Get("/players", s.handleAccounts)
			r.Get("/players/{address}/tokens", s.handleTokenBalance)

			r.Route("/crypto", func(r chi.Router) {
				r.Post("/derive-numbers", s.handleDeriveNumbers)
				r.Post("/keypair", s.handleKeypair)
				r.Post("/proofs/commitment", s.handleCommitmentProof)
				r.Post("/proofs/final", s.handleFinalProof)
			})
		})
	})

	return r
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Printf("response_encode_failed status=%d error=%v", status, err)
	}
}

// decodeJSON decodes the request body into dst, writing a 400 on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON format")
		return false
	}
	return true
}
