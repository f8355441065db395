package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"slotbook/internal/models"
)

func (db *DB) CreateSlot(ctx context.Context, s *models.TimeSlot) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO time_slots (start_time, end_time, description, available)
		VALUES (?, ?, ?, ?)`,
		s.StartTime.UTC(), s.EndTime.UTC(), s.Description, s.Available)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	s.ID, err = res.LastInsertId()
	return err
}

// EnsureSlot inserts s unless an identical slot exists. It reports whether a
// row was created and sets s.ID and s.Available from the stored row.
func (db *DB) EnsureSlot(ctx context.Context, s *models.TimeSlot) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO time_slots (start_time, end_time, description, available)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(start_time, end_time, description) DO NOTHING`,
		s.StartTime.UTC(), s.EndTime.UTC(), s.Description)
	if err != nil {
		return false, fmt.Errorf("ensure slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	err = db.QueryRowContext(ctx, `
		SELECT id, available FROM time_slots
		WHERE start_time = ? AND end_time = ? AND description = ?`,
		s.StartTime.UTC(), s.EndTime.UTC(), s.Description).Scan(&s.ID, &s.Available)
	if err != nil {
		return false, fmt.Errorf("read ensured slot: %w", err)
	}
	return n > 0, nil
}

func (db *DB) GetSlot(ctx context.Context, id int64) (*models.TimeSlot, error) {
	var s models.TimeSlot
	err := db.QueryRowContext(ctx, `
		SELECT id, start_time, end_time, description, available
		FROM time_slots WHERE id = ?`, id).
		Scan(&s.ID, &s.StartTime, &s.EndTime, &s.Description, &s.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) ListAvailableSlots(ctx context.Context) ([]models.TimeSlot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, start_time, end_time, description, available
		FROM time_slots
		WHERE available = 1
		ORDER BY start_time, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slots := []models.TimeSlot{}
	for rows.Next() {
		var s models.TimeSlot
		if err := rows.Scan(&s.ID, &s.StartTime, &s.EndTime, &s.Description, &s.Available); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}
