package session

import "fmt"

type State string

const (
	StateConnecting      State = "connecting"
	StateWelcomed        State = "welcomed"
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateClosed          State = "closed"
)

var transitions = map[State][]State{
	StateConnecting:      {StateWelcomed, StateClosed},
	StateWelcomed:        {StateUnauthenticated, StateClosed},
	StateUnauthenticated: {StateAuthenticated, StateClosed},
	StateAuthenticated:   {StateAuthenticated, StateClosed},
}

// CanTransition checks if transition is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type transitionError struct {
	from, to State
}

func (e transitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.from, e.to)
}
