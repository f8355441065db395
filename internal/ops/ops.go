// Package ops serves liveness, readiness and Prometheus metrics over HTTP
// and the standard gRPC health service.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported next to the
// overall ("") status.
const ServiceName = "slotbook.Booking"

const (
	pingTimeout     = time.Second
	shutdownTimeout = 3 * time.Second
)

// Check is a named readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// SessionCounter reports the number of connected clients.
type SessionCounter interface {
	Count() int
}

type Config struct {
	HTTPAddr string
	GRPCAddr string
	// Metrics mounts /metrics when true.
	Metrics       bool
	ProbeInterval time.Duration
}

type Server struct {
	cfg      Config
	checks   []Check
	sessions SessionCounter
	router   *httprouter.Router
	grpc     *grpc.Server
	health   *health.Server
	started  time.Time
	logger   zerolog.Logger
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type statusResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// New builds the ops server. sessions may be nil.
func New(cfg Config, checks []Check, sessions SessionCounter, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 5 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		checks:   checks,
		sessions: sessions,
		router:   httprouter.New(),
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		started:  time.Now(),
		logger:   logger.With().Str("component", "ops").Logger(),
	}

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/readyz", s.handleReady)
	s.router.GET("/status", s.handleStatus)
	if cfg.Metrics {
		s.router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	}

	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setServing(true)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// GRPC exposes the gRPC server so callers can serve it on their own listener.
func (s *Server) GRPC() *grpc.Server {
	return s.grpc
}

// ListenAndServe binds the configured addresses and serves until ctx is done.
// An empty address disables that listener.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var httpLn, grpcLn net.Listener
	var err error
	if s.cfg.HTTPAddr != "" {
		if httpLn, err = net.Listen("tcp", s.cfg.HTTPAddr); err != nil {
			return err
		}
	}
	if s.cfg.GRPCAddr != "" {
		if grpcLn, err = net.Listen("tcp", s.cfg.GRPCAddr); err != nil {
			if httpLn != nil {
				_ = httpLn.Close()
			}
			return err
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve runs the HTTP and gRPC servers on the given listeners (either may be
// nil) together with the readiness probe loop.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	if httpLn != nil {
		s.logger.Info().Str("addr", httpLn.Addr().String()).Msg("HTTP ops server listening")
		g.Go(func() error {
			if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if grpcLn != nil {
		s.logger.Info().Str("addr", grpcLn.Addr().String()).Msg("gRPC health server listening")
		g.Go(func() error {
			if err := s.grpc.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.Probe(gctx)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.grpc.GracefulStop()
		return nil
	})

	return g.Wait()
}

// Probe runs every readiness check and updates the gRPC serving status.
func (s *Server) Probe(ctx context.Context) bool {
	_, ok := s.runChecks(ctx)
	s.setServing(ok)
	return ok
}

func (s *Server) setServing(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) runChecks(ctx context.Context) (map[string]string, bool) {
	results := make(map[string]string, len(s.checks))
	ok := true
	for _, c := range s.checks {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := c.Ping(pingCtx)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("check", c.Name).Msg("readiness check failed")
			results[c.Name] = "error"
			ok = false
			continue
		}
		results[c.Name] = "ok"
	}
	return results, ok
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	results, ok := s.runChecks(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Checks: results})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ready", Checks: results})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	resp := statusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.sessions != nil {
		resp.Sessions = s.sessions.Count()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to write JSON response")
	}
}
