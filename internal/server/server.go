// Package server accepts TCP connections and runs one session per client.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"slotbook/internal/metrics"
	"slotbook/internal/reservation"
	"slotbook/internal/session"

	"github.com/rs/zerolog"
)

var ErrServerClosed = errors.New("server closed")

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
	forceCloseWait   = 2 * time.Second
)

type Server struct {
	deps   session.Deps
	cfg    session.Config
	logger zerolog.Logger

	registry *Registry
	newToken TokenFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	cancels   []context.CancelFunc
	closing   atomic.Bool
	wg        sync.WaitGroup
}

// New builds a server. deps.Registry is replaced by the server's own registry.
func New(deps session.Deps, cfg session.Config, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger.With().Str("component", "server").Logger(),
		registry:  NewRegistry(),
		newToken:  NewToken,
		listeners: make(map[net.Listener]struct{}),
	}
	deps.Registry = s.registry
	s.deps = deps
	return s
}

// Registry exposes the live session registry.
func (s *Server) Registry() *Registry { return s.registry }

// SetTokenFunc replaces the token generator.
func (s *Server) SetTokenFunc(fn TokenFunc) {
	s.mu.Lock()
	s.newToken = fn
	s.mu.Unlock()
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done or Shutdown is called, and always
// returns a non-nil error; ErrServerClosed after a clean stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.closing.Load() {
		ln.Close()
		return ErrServerClosed
	}

	// Sessions outlive ctx: after it is done Shutdown drains them, and only
	// its force path cancels sessCtx.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.listeners[ln] = struct{}{}
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
		ln.Close()
	}()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Booking server listening")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || ctx.Err() != nil {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			s.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ErrServerClosed
			}
			continue
		}
		backoff = 0

		s.startSession(sessCtx, conn)
	}
}

func (s *Server) startSession(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	gen := s.newToken
	s.mu.Unlock()

	token, err := uniqueToken(gen, func(t string) bool { return s.tokenTaken(ctx, t) })
	if err != nil {
		s.logger.Error().Err(err).Msg("rejecting connection")
		conn.Close()
		return
	}

	sess := session.New(conn, token, s.deps, s.cfg, &s.logger)

	// wg.Add must not race with the Wait in Shutdown.
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	if err := s.registry.Add(token, sess); err != nil {
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("client_token", token).Msg("rejecting connection")
		conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.SessionOpened()
	go func() {
		defer s.wg.Done()
		defer metrics.SessionClosed()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Str("client_token", token).Msg("session panicked")
				s.registry.Deregister(token)
				sess.Close()
			}
		}()

		if err := sess.Run(ctx); err != nil {
			s.logger.Debug().Err(err).Str("client_token", token).Msg("session ended with error")
		}
	}()
}

// tokenTaken reports whether t belongs to a live session or still owns
// active bookings from an earlier connection.
func (s *Server) tokenTaken(ctx context.Context, t string) bool {
	if s.registry.Has(t) {
		return true
	}
	if s.deps.Reservations == nil {
		return false
	}
	bookings, err := s.deps.Reservations.ListBookingsFor(ctx, reservation.Owner{Token: t})
	if err != nil {
		s.logger.Warn().Err(err).Str("client_token", t).Msg("could not check token against bookings")
		return false
	}
	return len(bookings) > 0
}

// Shutdown stops accepting, drains sessions and waits for them until ctx is
// done. Sessions still running then are closed and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	for ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()

	s.registry.DrainAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelSessions()
		s.logger.Info().Msg("all sessions finished")
		return nil
	case <-ctx.Done():
	}

	remaining := s.registry.Count()
	s.logger.Warn().Int("sessions", remaining).Msg("shutdown timeout, closing remaining sessions")
	s.cancelSessions()
	s.registry.CloseAll()

	select {
	case <-done:
	case <-time.After(forceCloseWait):
		s.logger.Error().Msg("sessions did not exit after force close")
	}
	return ctx.Err()
}

func (s *Server) cancelSessions() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	s.mu.Unlock()
}
