// Package server exposes the lbpaird pairs over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"liquiditybook/services/lbpaird/events"
	"liquiditybook/services/lbpaird/manager"
	"liquiditybook/services/lbpaird/middleware"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	AdminScope    string
	RateLimit     middleware.RateLimit
}

// Server hosts the pair API.
type Server struct {
	cfg     Config
	manager *manager.Manager
	hub     *events.Hub
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	logger  *slog.Logger
	handler http.Handler
}

// New wires the router. The hub may be nil, which disables the event stream.
func New(cfg Config, mgr *manager.Manager, hub *events.Hub, auth *middleware.Authenticator, logger *slog.Logger) (*Server, error) {
	if mgr == nil {
		return nil, errors.New("server: pair manager required")
	}
	if auth == nil {
		return nil, errors.New("server: admin authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AdminScope == "" {
		cfg.AdminScope = "lb:admin"
	}
	s := &Server{
		cfg:     cfg,
		manager: mgr,
		hub:     hub,
		auth:    auth,
		limiter: middleware.NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
	s.handler = otelhttp.NewHandler(s.routes(), "lbpaird")
	return s, nil
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.Observe(s.logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/pairs", func(r chi.Router) {
		r.With(s.limiter.Middleware("pairs")).Get("/", s.handleListPairs)
		r.Route("/{pair}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.limiter.Middleware("trade"))
				r.Post("/swap", s.handleSwap)
				r.Post("/swap/exact-out", s.handleSwapExactOut)
				r.Post("/liquidity/add", s.handleAddLiquidity)
				r.Post("/liquidity/remove", s.handleRemoveLiquidity)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.limiter.Middleware("query"))
				r.Get("/quote/in", s.handleQuoteIn)
				r.Get("/quote/out", s.handleQuoteOut)
				r.Get("/fees/static", s.handleGetStaticFees)
				r.Get("/fees/variable", s.handleGetVariableFees)
				r.Get("/fees/protocol", s.handleGetProtocolFees)
				r.Get("/price/{id}", s.handlePriceFromID)
				r.Get("/id", s.handleIDFromPrice)
				r.Get("/reserves", s.handleReserves)
				r.Get("/active", s.handleActiveID)
				r.Get("/bins/{id}", s.handleBin)
				r.Get("/bins/{id}/next", s.handleNextBin)
				r.Get("/oracle", s.handleOracleParameters)
				r.Get("/oracle/sample", s.handleOracleSample)
				r.Get("/rewards", s.handleRewardsDistribution)
				r.Get("/rewards/algorithm", s.handleGetRewardsAlgorithm)
				r.Get("/rewards/{epoch}/export", s.handleExportEpoch)
				r.Get("/positions/{owner}", s.handlePositions)
				r.Get("/history/swaps", s.handleSwapHistory)
				r.Get("/history/liquidity/{owner}", s.handleLiquidityHistory)
				r.Get("/events", s.handleEvents)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.auth.Middleware(s.cfg.AdminScope))
				r.Put("/fees/static", s.handleSetStaticFees)
				r.Post("/fees/decay", s.handleForceDecay)
				r.Post("/fees/collect", s.handleCollectProtocolFees)
				r.Post("/oracle/length", s.handleIncreaseOracleLength)
				r.Post("/rewards/close", s.handleCloseEpoch)
				r.Put("/rewards/algorithm", s.handleSetRewardsAlgorithm)
			})
		})
	})
	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pairs": len(s.manager.Names())})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	name := pairParam(r)
	if _, err := s.manager.Pair(name); err != nil {
		writeError(w, err)
		return
	}
	if s.hub == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "event stream disabled"})
		return
	}
	s.hub.ServeWS(w, r, name)
}
