package server

import (
	"errors"
	"sort"
	"sync"
)

// Member is what the registry needs from a live session.
type Member interface {
	Drain()
	Close() error
}

var ErrDuplicateToken = errors.New("client token already registered")

// Registry maps client tokens to live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Member
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Member)}
}

func (r *Registry) Add(token string, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[token]; ok {
		return ErrDuplicateToken
	}
	r.sessions[token] = m
	return nil
}

// Deregister removes token; unknown tokens are ignored.
func (r *Registry) Deregister(token string) {
	r.mu.Lock()
	delete(r.sessions, token)
	r.mu.Unlock()
}

func (r *Registry) Has(token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[token]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Tokens returns the registered tokens in sorted order.
func (r *Registry) Tokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for t := range r.sessions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) snapshot() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.sessions))
	for _, m := range r.sessions {
		out = append(out, m)
	}
	return out
}

// DrainAll asks every session to finish its current command and stop.
func (r *Registry) DrainAll() {
	for _, m := range r.snapshot() {
		m.Drain()
	}
}

// CloseAll closes every session's connection.
func (r *Registry) CloseAll() {
	for _, m := range r.snapshot() {
		_ = m.Close()
	}
}
