// Package auth registers users and checks their credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slotbook/internal/metrics"
	"slotbook/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
}

// AttemptLimiter throttles login attempts per username.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Reset(ctx context.Context, key string) error
}

type Options struct {
	BcryptCost        int
	MaxFailedLogins   int
	FailedLoginWindow time.Duration
}

type Service struct {
	users    UserStore
	limiter  AttemptLimiter
	opts     Options
	validate *validator.Validate
	// Compared against when the username is unknown so both failure paths
	// cost one bcrypt evaluation.
	dummyHash []byte
	logger    zerolog.Logger
}

// NewService builds the service. limiter may be nil to disable throttling.
func NewService(users UserStore, limiter AttemptLimiter, opts Options, logger *zerolog.Logger) (*Service, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.BcryptCost < bcrypt.MinCost || opts.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", opts.BcryptCost)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("slotbook-placeholder"), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare password hashing: %w", err)
	}

	return &Service{
		users:     users,
		limiter:   limiter,
		opts:      opts,
		validate:  newValidator(),
		dummyHash: dummy,
		logger:    logger.With().Str("component", "auth").Logger(),
	}, nil
}

// Register creates an account. Username uniqueness is checked before email.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)

	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	taken, err := s.users.UsernameExists(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return nil, ErrUsernameTaken
	}

	taken, err = s.users.EmailExists(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		Email:        req.Email,
		FullName:     req.FullName,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// A concurrent registration can win between the checks and the insert.
		switch {
		case errors.Is(err, models.ErrDuplicateUsername):
			return nil, ErrUsernameTaken
		case errors.Is(err, models.ErrDuplicateEmail):
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	return user, nil
}

// Login verifies credentials. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*models.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	key := "login:" + strings.ToLower(req.Username)
	if !s.allowAttempt(ctx, key) {
		metrics.IncLogin("throttled")
		return nil, ErrTooManyAttempts
	}

	user, err := s.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	hash := s.dummyHash
	if user != nil {
		hash = []byte(user.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); err != nil || user == nil {
		metrics.IncLogin("failure")
		s.logger.Debug().Str("username", req.Username).Msg("login failed")
		return nil, ErrInvalidCredentials
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, key); err != nil {
			s.logger.Warn().Err(err).Msg("reset login limiter")
		}
	}
	metrics.IncLogin("success")
	s.logger.Info().Int64("user_id", user.ID).Msg("user logged in")
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// allowAttempt fails open when the limiter itself errors.
func (s *Service) allowAttempt(ctx context.Context, key string) bool {
	if s.limiter == nil || s.opts.MaxFailedLogins <= 0 {
		return true
	}
	ok, err := s.limiter.Allow(ctx, key, s.opts.MaxFailedLogins, s.opts.FailedLoginWindow)
	if err != nil {
		s.logger.Warn().Err(err).Msg("login limiter unavailable")
		return true
	}
	return ok
}
