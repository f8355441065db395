package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"slotbook/internal/models"
)

const bookingSelect = `
	SELECT b.id, b.owner_token, b.user_id, b.time_slot_id, b.booked_at, b.active,
	       s.description, s.start_time
	FROM bookings b
	JOIN time_slots s ON s.id = b.time_slot_id`

// CreateBooking claims the slot and inserts the booking in one transaction.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE time_slots SET available = 0 WHERE id = ? AND available = 1`, b.TimeSlotID)
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrSlotTaken
	}

	var userID sql.NullInt64
	if b.UserID != nil {
		userID = sql.NullInt64{Int64: *b.UserID, Valid: true}
	}
	res, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (owner_token, user_id, time_slot_id, booked_at, active)
		VALUES (?, ?, ?, ?, 1)`,
		b.OwnerToken, userID, b.TimeSlotID, b.BookedAt.UTC())
	if err != nil {
		if isUniqueViolation(err, "") {
			return models.ErrSlotTaken
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	b.ID = id
	b.Active = true
	return nil
}

func (db *DB) GetActiveBooking(ctx context.Context, bookingID int64, owner string) (*models.Booking, error) {
	if owner == "" {
		return nil, nil
	}
	row := db.QueryRowContext(ctx, bookingSelect+`
		WHERE b.id = ? AND b.owner_token = ? AND b.active = 1`, bookingID, owner)

	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

// DeactivateBooking soft-deletes the booking and frees its slot in one
// transaction.
func (db *DB) DeactivateBooking(ctx context.Context, bookingID, slotID int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET active = 0
		WHERE id = ? AND time_slot_id = ? AND active = 1`, bookingID, slotID)
	if err != nil {
		return fmt.Errorf("deactivate booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrBookingInactive
	}

	if _, err := tx.ExecContext(ctx, `UPDATE time_slots SET available = 1 WHERE id = ?`, slotID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return tx.Commit()
}

func (db *DB) ListActiveBookings(ctx context.Context, owner string) ([]models.Booking, error) {
	bookings := []models.Booking{}
	if owner == "" {
		return bookings, nil
	}

	rows, err := db.QueryContext(ctx, bookingSelect+`
		WHERE b.owner_token = ? AND b.active = 1
		ORDER BY b.booked_at DESC, b.id DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// ActiveBookingsForSlot counts active bookings referencing slotID.
func (db *DB) ActiveBookingsForSlot(ctx context.Context, slotID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE time_slot_id = ? AND active = 1`, slotID).Scan(&n)
	return n, err
}

func (db *DB) ReassignBookings(ctx context.Context, from, to string, userID int64) (int, error) {
	if from == "" || to == "" || from == to {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET owner_token = ?, user_id = ?
		WHERE owner_token = ? AND active = 1`, to, userID, from)
	if err != nil {
		return 0, fmt.Errorf("reassign bookings: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(s scanner) (*models.Booking, error) {
	var (
		b      models.Booking
		userID sql.NullInt64
	)
	if err := s.Scan(&b.ID, &b.OwnerToken, &userID, &b.TimeSlotID, &b.BookedAt, &b.Active,
		&b.SlotDescription, &b.SlotStart); err != nil {
		return nil, err
	}
	if userID.Valid {
		id := userID.Int64
		b.UserID = &id
	}
	return &b, nil
}
