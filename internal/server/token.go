package server

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	tokenPrefix   = "CLIENT-"
	tokenAttempts = 16
)

var ErrTokenSpace = errors.New("could not allocate a unique client token")

// TokenFunc produces candidate client tokens.
type TokenFunc func() string

// NewToken returns CLIENT- followed by 8 uppercase hex characters.
func NewToken() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return tokenPrefix + strings.ToUpper(id[:8])
}

// uniqueToken draws candidates until taken reports one as free.
func uniqueToken(gen TokenFunc, taken func(string) bool) (string, error) {
	for i := 0; i < tokenAttempts; i++ {
		t := gen()
		if !taken(t) {
			return t, nil
		}
	}
	return "", ErrTokenSpace
}
