package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"slotbook/internal/models"
)

// MemoryStore keeps users, slots and bookings in process memory. Every method
// is atomic with respect to the others.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]*models.User
	slots    map[int64]*models.TimeSlot
	bookings map[int64]*models.Booking
	nextUser int64
	nextSlot int64
	nextBook int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]*models.User),
		slots:    make(map[int64]*models.TimeSlot),
		bookings: make(map[int64]*models.Booking),
	}
}

// Users

func (m *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == u.Username {
			return models.ErrDuplicateUsername
		}
		if existing.Email == u.Email {
			return models.ErrDuplicateEmail
		}
	}

	m.nextUser++
	u.ID = m.nextUser
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	u, err := m.GetUserByUsername(ctx, username)
	return u != nil, err
}

func (m *MemoryStore) EmailExists(ctx context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// Slots

// CreateSlot adds a slot, available unless the caller says otherwise.
func (m *MemoryStore) CreateSlot(ctx context.Context, s *models.TimeSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSlot++
	s.ID = m.nextSlot
	cp := *s
	m.slots[s.ID] = &cp
	return nil
}

// EnsureSlot creates s unless a slot with the same start, end and description
// exists; s.ID is set either way.
func (m *MemoryStore) EnsureSlot(ctx context.Context, s *models.TimeSlot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.slots {
		if existing.StartTime.Equal(s.StartTime) && existing.EndTime.Equal(s.EndTime) && existing.Description == s.Description {
			s.ID = existing.ID
			s.Available = existing.Available
			return false, nil
		}
	}

	s.Available = true
	m.nextSlot++
	s.ID = m.nextSlot
	cp := *s
	m.slots[s.ID] = &cp
	return true, nil
}

func (m *MemoryStore) GetSlot(ctx context.Context, id int64) (*models.TimeSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.slots[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) ListAvailableSlots(ctx context.Context) ([]models.TimeSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slots := make([]models.TimeSlot, 0, len(m.slots))
	for _, s := range m.slots {
		if s.Available {
			slots = append(slots, *s)
		}
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].StartTime.Equal(slots[j].StartTime) {
			return slots[i].ID < slots[j].ID
		}
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
	return slots, nil
}

// Bookings

func (m *MemoryStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[b.TimeSlotID]
	if !ok || !slot.Available {
		return models.ErrSlotTaken
	}

	slot.Available = false
	m.nextBook++
	b.ID = m.nextBook
	b.Active = true
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetActiveBooking(ctx context.Context, bookingID int64, owner string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[bookingID]
	if !ok || !b.Active || !b.OwnedBy(owner) {
		return nil, nil
	}
	return m.withSlot(*b), nil
}

func (m *MemoryStore) DeactivateBooking(ctx context.Context, bookingID, slotID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[bookingID]
	if !ok || !b.Active || b.TimeSlotID != slotID {
		return models.ErrBookingInactive
	}
	b.Active = false
	if slot, ok := m.slots[slotID]; ok {
		slot.Available = true
	}
	return nil
}

func (m *MemoryStore) ListActiveBookings(ctx context.Context, owner string) ([]models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Booking
	for _, b := range m.bookings {
		if b.Active && b.OwnedBy(owner) {
			out = append(out, *m.withSlot(*b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BookedAt.Equal(out[j].BookedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].BookedAt.After(out[j].BookedAt)
	})
	return out, nil
}

// ActiveBookingsForSlot counts active bookings referencing slotID.
func (m *MemoryStore) ActiveBookingsForSlot(ctx context.Context, slotID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, b := range m.bookings {
		if b.TimeSlotID == slotID && b.Active {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ReassignBookings(ctx context.Context, from, to string, userID int64) (int, error) {
	if from == "" || to == "" || from == to {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, b := range m.bookings {
		if b.Active && b.OwnerToken == from {
			uid := userID
			b.OwnerToken = to
			b.UserID = &uid
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) withSlot(b models.Booking) *models.Booking {
	if s, ok := m.slots[b.TimeSlotID]; ok {
		b.SlotDescription = s.Description
		b.SlotStart = s.StartTime
	}
	return &b
}
