// Package session runs the per-connection command loop.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/auth"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/protocol"
	"slotbook/internal/reservation"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Reservations is the slice of the coordinator a session calls.
type Reservations interface {
	ListAvailableSlots(ctx context.Context) ([]models.TimeSlot, error)
	Reserve(ctx context.Context, owner reservation.Owner, slotID int64) (*models.Booking, error)
	Cancel(ctx context.Context, owner reservation.Owner, bookingID int64) error
	ListBookingsFor(ctx context.Context, owner reservation.Owner) ([]models.Booking, error)
	ClaimBookings(ctx context.Context, owner reservation.Owner) (int, error)
}

type Authenticator interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Deregisterer is the part of the listener's registry a session may touch.
type Deregisterer interface {
	Deregister(token string)
}

type Config struct {
	RequireLogin      bool
	IdleTimeout       time.Duration
	CommandsPerSecond float64
	CommandBurst      int
	MaxFrameBytes     int
	WelcomeMessage    string
}

type Deps struct {
	Reservations Reservations
	Auth         Authenticator
	Registry     Deregisterer
}

const finalWriteTimeout = time.Second

var (
	ErrLoginRequired   = apperr.Unauthorized("Login required")
	ErrTooManyRequests = apperr.New(apperr.CodeRateLimited, "Too many requests")
	errFrameTooLarge   = apperr.Validation("Command too large")
)

// Session serves one client connection. Commands are handled strictly in
// order; the loop is the only goroutine touching state after Run starts.
type Session struct {
	conn    net.Conn
	token   string
	deps    Deps
	cfg     Config
	dec     *protocol.Decoder
	enc     *protocol.Encoder
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu     sync.Mutex
	state  State
	userID int64

	closeOnce sync.Once
	closed    atomic.Bool
	draining  atomic.Bool
}

func New(conn net.Conn, token string, deps Deps, cfg Config, logger *zerolog.Logger) *Session {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.WelcomeMessage == "" {
		cfg.WelcomeMessage = "Welcome to the Enterprise Booking System!"
	}

	s := &Session{
		conn:  conn,
		token: token,
		deps:  deps,
		cfg:   cfg,
		dec:   protocol.NewDecoder(conn, cfg.MaxFrameBytes),
		enc:   protocol.NewEncoder(conn),
		state: StateConnecting,
		logger: logger.With().
			Str("component", "session").
			Str("client_token", token).
			Str("remote_addr", conn.RemoteAddr().String()).
			Logger(),
	}
	if cfg.CommandsPerSecond > 0 {
		burst := cfg.CommandBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.CommandsPerSecond), burst)
	}
	return s
}

func (s *Session) Token() string { return s.token }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, to) {
		return transitionError{from: s.state, to: to}
	}
	s.state = to
	return nil
}

func (s *Session) owner() reservation.Owner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reservation.Owner{Token: s.token, UserID: s.userID}
}

// Close ends the session from outside the loop. The pending read fails and
// Run returns.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

// Drain asks the loop to stop before reading the next command. A command
// already being handled finishes and its response is written.
func (s *Session) Drain() {
	s.draining.Store(true)
	_ = s.conn.SetReadDeadline(time.Now())
}

// Run sends the handshake and serves commands until EXIT, a transport error,
// or ctx is done. The session is deregistered on return.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.Close()
		if s.deps.Registry != nil {
			s.deps.Registry.Deregister(s.token)
		}
		s.logger.Info().Msg("client disconnected")
	}()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	if err := s.handshake(); err != nil {
		return err
	}
	s.logger.Info().Msg("client connected")

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		// Checked after the deadline is set so a concurrent Drain is never lost.
		if s.draining.Load() {
			return nil
		}

		line, err := s.dec.Next()
		if err != nil {
			return s.readFailed(ctx, err)
		}

		resp, exit := s.handleLine(ctx, line)
		if err := s.enc.WriteResponse(resp); err != nil {
			if ctx.Err() != nil || s.closed.Load() {
				return nil
			}
			return err
		}
		if exit {
			return nil
		}
	}
}

func (s *Session) handshake() error {
	if err := s.enc.WriteResponse(protocol.Info("CONNECTED|" + s.token)); err != nil {
		return err
	}
	if err := s.transition(StateWelcomed); err != nil {
		return err
	}
	// The state moves on before the last handshake line is written, so a
	// client that has read it never observes WELCOMED.
	if err := s.transition(StateUnauthenticated); err != nil {
		return err
	}
	return s.enc.WriteResponse(protocol.Info(s.cfg.WelcomeMessage))
}

func (s *Session) readFailed(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, protocol.ErrFrameTooLarge):
		s.logger.Warn().Msg("oversized frame, closing")
		// The rest of the frame is never read, so the peer may not be reading either.
		_ = s.conn.SetWriteDeadline(time.Now().Add(finalWriteTimeout))
		_ = s.enc.WriteResponse(errorResponse(errFrameTooLarge))
		return err
	case ctx.Err() != nil, s.closed.Load(), s.draining.Load():
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Info().Dur("idle_timeout", s.cfg.IdleTimeout).Msg("idle timeout")
		return nil
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	s.logger.Warn().Err(err).Msg("read failed")
	return err
}

// handleLine produces exactly one response for one frame and reports whether
// the session should end after writing it.
func (s *Session) handleLine(ctx context.Context, line []byte) (protocol.Response, bool) {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.IncCommand("throttled", string(protocol.StatusError))
		return errorResponse(ErrTooManyRequests), false
	}

	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		s.logger.Debug().Err(err).Msg("rejected frame")
		metrics.IncCommand("invalid", string(protocol.StatusError))
		return errorResponse(err), false
	}

	if s.cfg.RequireLogin && needsLogin(cmd.Kind()) && s.State() != StateAuthenticated {
		metrics.IncCommand(string(cmd.Kind()), string(protocol.StatusError))
		return errorResponse(ErrLoginRequired), false
	}

	resp := s.dispatch(ctx, cmd)
	metrics.IncCommand(string(cmd.Kind()), string(resp.Status))
	return resp, cmd.Kind() == protocol.KindExit
}

// dispatch recovers handler panics into an internal error response.
func (s *Session) dispatch(ctx context.Context, cmd protocol.Command) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("command", string(cmd.Kind())).Msg("command handler panicked")
			resp = protocol.Error(apperr.CodeInternal, "Server error")
		}
	}()
	return protocol.Dispatch(ctx, s, cmd)
}

func needsLogin(k protocol.Kind) bool {
	switch k {
	case protocol.KindListSlots, protocol.KindReserve, protocol.KindMyBookings, protocol.KindCancel:
		return true
	}
	return false
}

func errorResponse(err error) protocol.Response {
	ae := apperr.As(err)
	return protocol.Error(ae.Code, ae.Message)
}

// fail converts err into an ERROR response, logging internal failures with
// their cause.
func (s *Session) fail(cmd protocol.Kind, err error) protocol.Response {
	ae := apperr.As(err)
	if ae.Code == apperr.CodeInternal {
		s.logger.Error().Err(err).Str("command", string(cmd)).Msg("command failed")
	}
	return protocol.Error(ae.Code, ae.Message)
}
