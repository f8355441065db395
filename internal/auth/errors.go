package auth

import "slotbook/internal/apperr"

var (
	ErrUsernameTaken      = apperr.New(apperr.CodeDuplicateRegistration, "Username already exists")
	ErrEmailTaken         = apperr.New(apperr.CodeDuplicateRegistration, "Email already registered")
	ErrInvalidCredentials = apperr.New(apperr.CodeInvalidCredentials, "Invalid username or password")
	ErrTooManyAttempts    = apperr.New(apperr.CodeRateLimited, "Too many failed login attempts, try again later")
	ErrUserNotFound       = apperr.NotFound("User not found")
	ErrNotAuthenticated   = apperr.Unauthorized("Not authenticated")
)
