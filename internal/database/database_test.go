package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "slotbook.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func addSlot(t *testing.T, db *DB, start time.Time, desc string) *models.TimeSlot {
	t.Helper()
	s := &models.TimeSlot{StartTime: start, EndTime: start.Add(time.Hour), Description: desc, Available: true}
	require.NoError(t, db.CreateSlot(context.Background(), s))
	return s
}

func TestNewDBIsReopenable(t *testing.T) {
	logger := zerolog.New(io.Discard)
	path := filepath.Join(t.TempDir(), "nested", "slotbook.db")

	db, err := NewDB(path, &logger)
	require.NoError(t, err)
	require.NoError(t, db.Ping(context.Background()))
	addSlot(t, db, time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC), "persisted")
	require.NoError(t, db.Close())

	db, err = NewDB(path, &logger)
	require.NoError(t, err)
	defer db.Close()

	slots, err := db.ListAvailableSlots(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "persisted", slots[0].Description)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	u := &models.User{Username: "alice", PasswordHash: "hash", Email: "alice@example.com", FullName: "Alice A"}
	require.NoError(t, db.CreateUser(ctx, u))
	assert.NotZero(t, u.ID)

	err := db.CreateUser(ctx, &models.User{Username: "alice", PasswordHash: "x", Email: "new@example.com"})
	assert.ErrorIs(t, err, models.ErrDuplicateUsername)

	err = db.CreateUser(ctx, &models.User{Username: "bob", PasswordHash: "x", Email: "alice@example.com"})
	assert.ErrorIs(t, err, models.ErrDuplicateEmail)

	got, err := db.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Equal(t, "Alice A", got.FullName)

	got, err = db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Username)

	got, err = db.GetUserByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := db.UsernameExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.EmailExists(ctx, "none@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSlotsOrderingAndEnsure(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	base := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)

	late := addSlot(t, db, base.Add(3*time.Hour), "late")
	early := addSlot(t, db, base, "early")

	slots, err := db.ListAvailableSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, early.ID, slots[0].ID)
	assert.Equal(t, late.ID, slots[1].ID)
	assert.True(t, slots[0].StartTime.Equal(base))

	seed := &models.TimeSlot{StartTime: base, EndTime: base.Add(time.Hour), Description: "early"}
	created, err := db.EnsureSlot(ctx, seed)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, early.ID, seed.ID)

	fresh := &models.TimeSlot{StartTime: base.Add(time.Hour), EndTime: base.Add(2 * time.Hour), Description: "new"}
	created, err = db.EnsureSlot(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, fresh.Available)

	missing, err := db.GetSlot(ctx, 12345)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBookingLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	slot := addSlot(t, db, time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC), "Consultation")

	b := &models.Booking{OwnerToken: "CLIENT-AAAA1111", TimeSlotID: slot.ID, BookedAt: time.Now()}
	require.NoError(t, db.CreateBooking(ctx, b))
	assert.NotZero(t, b.ID)

	err := db.CreateBooking(ctx, &models.Booking{OwnerToken: "CLIENT-BBBB2222", TimeSlotID: slot.ID, BookedAt: time.Now()})
	assert.ErrorIs(t, err, models.ErrSlotTaken)

	active, err := db.ActiveBookingsForSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	got, err := db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, got.Available)

	foreign, err := db.GetActiveBooking(ctx, b.ID, "CLIENT-BBBB2222")
	require.NoError(t, err)
	assert.Nil(t, foreign)

	mine, err := db.GetActiveBooking(ctx, b.ID, "CLIENT-AAAA1111")
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, "Consultation", mine.SlotDescription)
	assert.Nil(t, mine.UserID)

	require.NoError(t, db.DeactivateBooking(ctx, b.ID, slot.ID))
	assert.ErrorIs(t, db.DeactivateBooking(ctx, b.ID, slot.ID), models.ErrBookingInactive)

	got, err = db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)

	n, err := db.ActiveBookingsForSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOneActiveBookingIndex(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	slot := addSlot(t, db, time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC), "guarded")

	insert := `INSERT INTO bookings (owner_token, time_slot_id, booked_at, active) VALUES (?, ?, ?, 1)`
	_, err := db.ExecContext(ctx, insert, "a", slot.ID, time.Now())
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "b", slot.ID, time.Now())
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err, ""))
}

func TestListActiveBookingsWithUser(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	base := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)

	u := &models.User{Username: "carol", PasswordHash: "h", Email: "carol@example.com"}
	require.NoError(t, db.CreateUser(ctx, u))
	owner := u.OwnerKey()

	s1 := addSlot(t, db, base, "one")
	s2 := addSlot(t, db, base.Add(time.Hour), "two")
	require.NoError(t, db.CreateBooking(ctx, &models.Booking{OwnerToken: owner, UserID: &u.ID, TimeSlotID: s1.ID, BookedAt: base}))
	require.NoError(t, db.CreateBooking(ctx, &models.Booking{OwnerToken: owner, UserID: &u.ID, TimeSlotID: s2.ID, BookedAt: base.Add(time.Minute)}))

	list, err := db.ListActiveBookings(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, s2.ID, list[0].TimeSlotID)
	require.NotNil(t, list[0].UserID)
	assert.Equal(t, u.ID, *list[0].UserID)

	list, err = db.ListActiveBookings(ctx, "USER-999")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetTableData(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, db.CreateUser(ctx, &models.User{Username: "dave", PasswordHash: "secret", Email: "dave@example.com"}))

	rows, cols, err := db.GetTableData(ctx, "users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotContains(t, cols, "password_hash")
	assert.Contains(t, cols, "username")
	assert.EqualValues(t, "dave", rows[0]["username"])

	_, _, err = db.GetTableData(ctx, "sqlite_master")
	assert.Error(t, err)
}

func TestBackupService(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	addSlot(t, db, time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC), "backed up")

	dir := filepath.Join(t.TempDir(), "backups")
	logger := zerolog.New(io.Discard)
	svc := NewBackupService(db, config.BackupConfig{Enabled: true, Path: dir, RetentionDays: 1}, &logger)

	path, err := svc.PerformBackup(ctx)
	require.NoError(t, err)
	assert.FileExists(t, path)

	restored, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer restored.Close()
	slots, err := restored.ListAvailableSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)

	old := filepath.Join(dir, "backup_old.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	past := time.Now().AddDate(0, 0, -3)
	require.NoError(t, os.Chtimes(old, past, past))

	svc.CleanupOldBackups()
	assert.NoFileExists(t, old)
	assert.FileExists(t, path)
}
