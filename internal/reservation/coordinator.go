// Package reservation owns the mutation path for slot availability and booking
// state. Every write to TimeSlot.Available and Booking.Active goes through the
// Coordinator, which runs it inside a critical section keyed by slot id.
//
// Locking is fine-grained: one KeyedMutex entry per slot. A caller holds at most
// one key at a time, so there is no lock ordering to get wrong.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/events"
	"slotbook/internal/metrics"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// Store is the persistence the coordinator needs. Lookups return (nil, nil)
// when the row does not exist.
type Store interface {
	ListAvailableSlots(ctx context.Context) ([]models.TimeSlot, error)
	GetSlot(ctx context.Context, id int64) (*models.TimeSlot, error)
	ActiveBookingsForSlot(ctx context.Context, slotID int64) (int, error)
	// CreateBooking inserts b and flips its slot to unavailable in one
	// transaction, setting b.ID. It fails with models.ErrSlotTaken if the slot
	// is no longer available.
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetActiveBooking(ctx context.Context, bookingID int64, owner string) (*models.Booking, error)
	// DeactivateBooking clears the active flag and makes the slot available
	// again in one transaction. It fails with models.ErrBookingInactive if the
	// booking was already inactive.
	DeactivateBooking(ctx context.Context, bookingID, slotID int64) error
	ListActiveBookings(ctx context.Context, owner string) ([]models.Booking, error)
	// ReassignBookings moves every active booking of from to the owner key to
	// and records userID on them, returning how many moved.
	ReassignBookings(ctx context.Context, from, to string, userID int64) (int, error)
}

// EventPublisher receives booking events after the critical section ends.
type EventPublisher interface {
	PublishJSON(evType string, payload interface{}) error
}

// Owner identifies who a booking belongs to.
type Owner struct {
	Token  string
	UserID int64
}

// Key is the owner key stored on bookings: the user key once logged in,
// otherwise the connection's client token.
func (o Owner) Key() string {
	if o.UserID > 0 {
		return models.UserOwnerKey(o.UserID)
	}
	return o.Token
}

type Coordinator struct {
	store  Store
	locks  *KeyedMutex
	events EventPublisher
	now    func() time.Time
	logger zerolog.Logger
}

// NewCoordinator builds a coordinator. events may be nil.
func NewCoordinator(store Store, events EventPublisher, logger *zerolog.Logger) *Coordinator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Coordinator{
		store:  store,
		locks:  NewKeyedMutex(),
		events: events,
		now:    time.Now,
		logger: logger.With().Str("component", "reservation").Logger(),
	}
}

// ListAvailableSlots returns open slots ordered by start time.
func (c *Coordinator) ListAvailableSlots(ctx context.Context) ([]models.TimeSlot, error) {
	slots, err := c.store.ListAvailableSlots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

// ListBookingsFor returns the owner's active bookings, newest first.
func (c *Coordinator) ListBookingsFor(ctx context.Context, owner Owner) ([]models.Booking, error) {
	key := owner.Key()
	if key == "" {
		return nil, ErrUnknownOwner
	}
	bookings, err := c.store.ListActiveBookings(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// ClaimBookings hands the bookings made on owner's connection before login
// over to the logged in user, so they stay visible and cancellable.
func (c *Coordinator) ClaimBookings(ctx context.Context, owner Owner) (int, error) {
	if owner.UserID <= 0 || owner.Token == "" {
		return 0, nil
	}
	n, err := c.store.ReassignBookings(ctx, owner.Token, owner.Key(), owner.UserID)
	if err != nil {
		return 0, fmt.Errorf("claim bookings of %s: %w", owner.Token, err)
	}
	if n > 0 {
		c.logger.Info().
			Str("client_token", owner.Token).
			Int64("user_id", owner.UserID).
			Int("bookings", n).
			Msg("bookings claimed by user")
	}
	return n, nil
}

// Reserve books slotID for owner. Of any number of concurrent calls for the
// same slot exactly one succeeds; the rest get ErrSlotUnavailable or
// ErrAlreadyBooked.
func (c *Coordinator) Reserve(ctx context.Context, owner Owner, slotID int64) (*models.Booking, error) {
	if slotID <= 0 {
		return nil, ErrInvalidSlotID
	}
	if owner.Key() == "" {
		return nil, ErrUnknownOwner
	}

	booking, slot, err := c.reserveLocked(ctx, owner, slotID)
	if err != nil {
		metrics.IncReservation(reserveResult(err))
		return nil, err
	}
	metrics.IncReservation("success")

	c.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("slot_id", slotID).
		Str("owner", booking.OwnerToken).
		Msg("booking created")
	c.publish(events.TypeBookingCreated, booking, slot)

	return booking, nil
}

func (c *Coordinator) reserveLocked(ctx context.Context, owner Owner, slotID int64) (*models.Booking, *models.TimeSlot, error) {
	unlock, err := c.lock(ctx, slotID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	slot, err := c.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, nil, fmt.Errorf("get slot %d: %w", slotID, err)
	}
	if slot == nil {
		return nil, nil, ErrSlotNotFound
	}
	if !slot.Available {
		return nil, nil, ErrSlotUnavailable
	}

	// Checked even though Available is false whenever a booking is active:
	// the two must agree, and a store that lets them drift must not double book.
	active, err := c.store.ActiveBookingsForSlot(ctx, slotID)
	if err != nil {
		return nil, nil, fmt.Errorf("check active booking for slot %d: %w", slotID, err)
	}
	if active > 0 {
		c.logger.Warn().Int64("slot_id", slotID).Int("active", active).Msg("slot marked available but has an active booking")
		return nil, nil, ErrAlreadyBooked
	}

	booking := &models.Booking{
		OwnerToken:      owner.Key(),
		TimeSlotID:      slotID,
		BookedAt:        c.now().UTC(),
		Active:          true,
		SlotDescription: slot.Description,
		SlotStart:       slot.StartTime,
	}
	if owner.UserID > 0 {
		uid := owner.UserID
		booking.UserID = &uid
	}

	if err := c.store.CreateBooking(ctx, booking); err != nil {
		if errors.Is(err, models.ErrSlotTaken) {
			return nil, nil, ErrAlreadyBooked
		}
		return nil, nil, fmt.Errorf("create booking for slot %d: %w", slotID, err)
	}
	slot.Available = false

	return booking, slot, nil
}

// Cancel deactivates one of owner's active bookings and frees its slot.
// Missing, inactive and foreign bookings all yield ErrBookingNotFound.
func (c *Coordinator) Cancel(ctx context.Context, owner Owner, bookingID int64) error {
	if bookingID <= 0 {
		return ErrInvalidBookingID
	}
	key := owner.Key()
	if key == "" {
		return ErrUnknownOwner
	}

	booking, err := c.cancelLocked(ctx, key, bookingID)
	if err != nil {
		metrics.IncCancellation(cancelResult(err))
		return err
	}
	metrics.IncCancellation("success")

	c.logger.Info().
		Int64("booking_id", bookingID).
		Int64("slot_id", booking.TimeSlotID).
		Str("owner", key).
		Msg("booking cancelled")

	slot, err := c.store.GetSlot(ctx, booking.TimeSlotID)
	if err != nil || slot == nil {
		slot = &models.TimeSlot{ID: booking.TimeSlotID}
	}
	c.publish(events.TypeBookingCancelled, booking, slot)

	return nil
}

func (c *Coordinator) cancelLocked(ctx context.Context, key string, bookingID int64) (*models.Booking, error) {
	// The slot id is only known after a lookup; it is repeated under the lock
	// so a concurrent cancel of the same booking cannot free the slot twice.
	found, err := c.store.GetActiveBooking(ctx, bookingID, key)
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", bookingID, err)
	}
	if found == nil {
		return nil, ErrBookingNotFound
	}

	unlock, err := c.lock(ctx, found.TimeSlotID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	booking, err := c.store.GetActiveBooking(ctx, bookingID, key)
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", bookingID, err)
	}
	if booking == nil {
		return nil, ErrBookingNotFound
	}

	if err := c.store.DeactivateBooking(ctx, booking.ID, booking.TimeSlotID); err != nil {
		if errors.Is(err, models.ErrBookingInactive) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("deactivate booking %d: %w", bookingID, err)
	}
	booking.Active = false

	return booking, nil
}

func (c *Coordinator) lock(ctx context.Context, slotID int64) (func(), error) {
	started := time.Now()
	unlock, err := c.locks.Lock(ctx, slotID)
	metrics.ObserveLockWait(time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("wait for slot %d: %w", slotID, err)
	}
	return unlock, nil
}

func (c *Coordinator) publish(evType string, b *models.Booking, slot *models.TimeSlot) {
	if c.events == nil {
		return
	}
	payload := events.BookingPayload{
		BookingID:       b.ID,
		SlotID:          b.TimeSlotID,
		Owner:           b.OwnerToken,
		SlotDescription: slot.Description,
		SlotStart:       slot.StartTime,
		SlotEnd:         slot.EndTime,
	}
	if err := c.events.PublishJSON(evType, payload); err != nil {
		c.logger.Error().Err(err).Str("type", evType).Msg("publish event")
	}
}

func reserveResult(err error) string {
	switch {
	case errors.Is(err, ErrSlotNotFound):
		return "not_found"
	case errors.Is(err, ErrSlotUnavailable):
		return "unavailable"
	case errors.Is(err, ErrAlreadyBooked):
		return "already_booked"
	case errors.Is(err, ErrInvalidSlotID), errors.Is(err, ErrUnknownOwner):
		return "invalid"
	default:
		return "error"
	}
}

func cancelResult(err error) string {
	switch {
	case errors.Is(err, ErrBookingNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidBookingID), errors.Is(err, ErrUnknownOwner):
		return "invalid"
	default:
		return "error"
	}
}
