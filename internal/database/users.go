package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/models"
)

const userColumns = `id, username, password_hash, email, full_name, created_at`

func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, email, full_name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.Email, u.FullName, u.CreatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err, "users.username"):
			return models.ErrDuplicateUsername
		case isUniqueViolation(err, "users.email"):
			return models.ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}

	u.ID, err = res.LastInsertId()
	return err
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return db.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return db.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (db *DB) UsernameExists(ctx context.Context, username string) (bool, error) {
	return db.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username)
}

func (db *DB) EmailExists(ctx context.Context, email string) (bool, error) {
	return db.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email)
}

func (db *DB) getUser(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var u models.User
	err := db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.FullName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *DB) exists(ctx context.Context, query string, arg interface{}) (bool, error) {
	var found bool
	if err := db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}
