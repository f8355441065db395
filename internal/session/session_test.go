package session

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/auth"
	"slotbook/internal/models"
	"slotbook/internal/protocol"
	"slotbook/internal/repository"
	"slotbook/internal/reservation"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeRegistry struct {
	mu      sync.Mutex
	removed []string
}

func (r *fakeRegistry) Deregister(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, token)
}

func (r *fakeRegistry) tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

type harness struct {
	store    *repository.MemoryStore
	deps     Deps
	registry *fakeRegistry
	slotIDs  []int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.New(io.Discard)
	store := repository.NewMemoryStore()
	authSvc, err := auth.NewService(store, nil, auth.Options{BcryptCost: bcrypt.MinCost}, &logger)
	require.NoError(t, err)

	h := &harness{store: store, registry: &fakeRegistry{}}
	h.deps = Deps{
		Reservations: reservation.NewCoordinator(store, nil, &logger),
		Auth:         authSvc,
		Registry:     h.registry,
	}

	base := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	for i, desc := range []string{"Morning", "Noon", "Evening"} {
		s := &models.TimeSlot{
			StartTime:   base.Add(time.Duration(i) * 3 * time.Hour),
			EndTime:     base.Add(time.Duration(i)*3*time.Hour + time.Hour),
			Description: desc,
			Available:   true,
		}
		require.NoError(t, store.CreateSlot(context.Background(), s))
		h.slotIDs = append(h.slotIDs, s.ID)
	}
	return h
}

// start runs a session on one end of a pipe and returns a client on the other.
func (h *harness) start(t *testing.T, token string, cfg Config) (*protocol.Client, *Session, <-chan error) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	logger := zerolog.New(io.Discard)
	s := New(serverConn, token, h.deps, cfg, &logger)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := protocol.NewClient(ctx, clientConn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, s, done
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func TestHandshakeAndExit(t *testing.T) {
	h := newHarness(t)
	c, s, done := h.start(t, "CLIENT-ABCD1234", Config{})

	assert.Equal(t, "CLIENT-ABCD1234", c.Token())
	assert.Equal(t, "Welcome to the Enterprise Booking System!", c.Welcome())
	assert.Equal(t, StateUnauthenticated, s.State())

	require.NoError(t, c.Exit(testCtx(t)))
	assert.NoError(t, waitDone(t, done))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []string{"CLIENT-ABCD1234"}, h.registry.tokens())
}

func TestReserveListCancelFlow(t *testing.T) {
	h := newHarness(t)
	c, _, _ := h.start(t, "CLIENT-XXXXXXXX", Config{})
	ctx := testCtx(t)

	slots, err := c.ListSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, "Morning", slots[0].Description)

	b, err := c.Reserve(ctx, h.slotIDs[1])
	require.NoError(t, err)
	assert.Equal(t, h.slotIDs[1], b.SlotID)
	assert.Equal(t, "Noon", b.SlotDescription)

	_, err = c.Reserve(ctx, h.slotIDs[1])
	assert.True(t, protocol.IsCode(err, apperr.CodeConflict))

	_, err = c.Reserve(ctx, 999)
	assert.True(t, protocol.IsCode(err, apperr.CodeNotFound))

	mine, err := c.MyBookings(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)

	require.NoError(t, c.Cancel(ctx, b.ID))
	err = c.Cancel(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, protocol.IsCode(err, apperr.CodeNotFound))
	assert.Contains(t, err.Error(), "Booking not found")

	mine, err = c.MyBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestMalformedLinesKeepSessionOpen(t *testing.T) {
	h := newHarness(t)
	c, _, _ := h.start(t, "CLIENT-XXXXXXXX", Config{})
	ctx := testCtx(t)

	for _, line := range []string{
		`not json at all`,
		`{"type":"FLY"}`,
		`{"type":"RESERVE","data":{"slotId":"abc"}}`,
		`{"type":"CANCEL","data":{"bookingId":0}}`,
	} {
		resp, err := c.SendRaw(ctx, line)
		require.NoError(t, err)
		assert.Equal(t, protocol.StatusError, resp.Status, line)
		assert.Equal(t, apperr.CodeValidation, resp.Code, line)
	}

	slots, err := c.ListSlots(ctx)
	require.NoError(t, err)
	assert.Len(t, slots, 3)
}

func TestOversizedFrameClosesSession(t *testing.T) {
	h := newHarness(t)
	c, _, done := h.start(t, "CLIENT-XXXXXXXX", Config{MaxFrameBytes: 128})

	// Over a synchronous pipe the write only fails once the server gives up.
	_, _ = c.SendRaw(testCtx(t), `{"type":"LIST_SLOTS","data":{"pad":"`+strings.Repeat("x", 256)+`"}}`)

	assert.ErrorIs(t, waitDone(t, done), protocol.ErrFrameTooLarge)
}

func TestRegisterLoginGetUser(t *testing.T) {
	h := newHarness(t)
	c, s, _ := h.start(t, "CLIENT-XXXXXXXX", Config{})
	ctx := testCtx(t)

	_, err := c.GetUser(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not authenticated")

	reg := protocol.RegisterCommand{Username: "alice", Password: "s3cret!", Email: "alice@example.com", FullName: "Alice"}
	require.NoError(t, c.Register(ctx, reg))

	err = c.Register(ctx, reg)
	require.Error(t, err)
	assert.True(t, protocol.IsCode(err, apperr.CodeDuplicateRegistration))
	assert.Contains(t, err.Error(), "Username already exists")

	_, err = c.Login(ctx, "alice", "wrong-pass")
	assert.True(t, protocol.IsCode(err, apperr.CodeInvalidCredentials))
	assert.Equal(t, StateUnauthenticated, s.State())

	u, err := c.Login(ctx, "alice", "s3cret!")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, StateAuthenticated, s.State())

	u, err = c.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.FullName)
}

func TestAuthenticatedBookingsFollowUser(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	first, _, _ := h.start(t, "CLIENT-FIRST000", Config{})
	require.NoError(t, first.Register(ctx, protocol.RegisterCommand{Username: "bob", Password: "passw0rd", Email: "bob@example.com"}))
	_, err := first.Login(ctx, "bob", "passw0rd")
	require.NoError(t, err)
	b, err := first.Reserve(ctx, h.slotIDs[0])
	require.NoError(t, err)
	require.NoError(t, first.Exit(ctx))

	second, _, _ := h.start(t, "CLIENT-SECOND00", Config{})
	mine, err := second.MyBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, mine, "anonymous session sees only its own token's bookings")

	_, err = second.Login(ctx, "bob", "passw0rd")
	require.NoError(t, err)
	mine, err = second.MyBookings(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)
	require.NoError(t, second.Cancel(ctx, b.ID))
}

func TestBookingBeforeLoginStaysCancellable(t *testing.T) {
	h := newHarness(t)
	c, _, _ := h.start(t, "CLIENT-EARLY000", Config{})
	ctx := testCtx(t)

	b, err := c.Reserve(ctx, h.slotIDs[0])
	require.NoError(t, err)

	require.NoError(t, c.Register(ctx, protocol.RegisterCommand{Username: "carol", Password: "passw0rd", Email: "carol@example.com"}))
	_, err = c.Login(ctx, "carol", "passw0rd")
	require.NoError(t, err)

	mine, err := c.MyBookings(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)

	require.NoError(t, c.Cancel(ctx, b.ID))
	slots, err := c.ListSlots(ctx)
	require.NoError(t, err)
	assert.Len(t, slots, 3)
}

func TestRequireLoginGate(t *testing.T) {
	h := newHarness(t)
	c, _, _ := h.start(t, "CLIENT-XXXXXXXX", Config{RequireLogin: true})
	ctx := testCtx(t)

	_, err := c.ListSlots(ctx)
	require.Error(t, err)
	assert.True(t, protocol.IsCode(err, apperr.CodeUnauthorized))
	assert.Contains(t, err.Error(), "Login required")

	_, err = c.Reserve(ctx, h.slotIDs[0])
	assert.True(t, protocol.IsCode(err, apperr.CodeUnauthorized))

	require.NoError(t, c.Register(ctx, protocol.RegisterCommand{Username: "carol", Password: "passw0rd", Email: "carol@example.com"}))
	_, err = c.Login(ctx, "carol", "passw0rd")
	require.NoError(t, err)

	slots, err := c.ListSlots(ctx)
	require.NoError(t, err)
	assert.Len(t, slots, 3)
}

func TestCommandThrottle(t *testing.T) {
	h := newHarness(t)
	c, _, _ := h.start(t, "CLIENT-XXXXXXXX", Config{CommandsPerSecond: 0.001, CommandBurst: 2})
	ctx := testCtx(t)

	_, err := c.ListSlots(ctx)
	require.NoError(t, err)
	_, err = c.ListSlots(ctx)
	require.NoError(t, err)

	_, err = c.ListSlots(ctx)
	require.Error(t, err)
	assert.True(t, protocol.IsCode(err, apperr.CodeRateLimited))
	assert.Contains(t, err.Error(), "Too many requests")
}

func TestIdleTimeoutClosesSession(t *testing.T) {
	h := newHarness(t)
	_, _, done := h.start(t, "CLIENT-XXXXXXXX", Config{IdleTimeout: 50 * time.Millisecond})

	assert.NoError(t, waitDone(t, done))
	assert.Equal(t, []string{"CLIENT-XXXXXXXX"}, h.registry.tokens())
}

func TestAbruptDisconnectDeregisters(t *testing.T) {
	h := newHarness(t)
	c, _, done := h.start(t, "CLIENT-XXXXXXXX", Config{})

	require.NoError(t, c.Close())
	assert.NoError(t, waitDone(t, done))
	assert.Equal(t, []string{"CLIENT-XXXXXXXX"}, h.registry.tokens())
}

func TestCloseFromOutsideEndsRun(t *testing.T) {
	h := newHarness(t)
	_, s, done := h.start(t, "CLIENT-XXXXXXXX", Config{})

	require.NoError(t, s.Close())
	assert.NoError(t, waitDone(t, done))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateConnecting, StateWelcomed))
	assert.True(t, CanTransition(StateUnauthenticated, StateAuthenticated))
	assert.True(t, CanTransition(StateAuthenticated, StateAuthenticated))
	assert.True(t, CanTransition(StateAuthenticated, StateClosed))
	assert.False(t, CanTransition(StateConnecting, StateAuthenticated))
	assert.False(t, CanTransition(StateClosed, StateUnauthenticated))
	assert.False(t, CanTransition(StateAuthenticated, StateUnauthenticated))
}

func TestDrainStopsIdleSession(t *testing.T) {
	h := newHarness(t)
	c, s, done := h.start(t, "CLIENT-XXXXXXXX", Config{})

	_, err := c.ListSlots(testCtx(t))
	require.NoError(t, err)

	s.Drain()
	assert.NoError(t, waitDone(t, done))
	assert.Equal(t, []string{"CLIENT-XXXXXXXX"}, h.registry.tokens())
}
