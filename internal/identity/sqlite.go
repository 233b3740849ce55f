package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps timestamps as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) FindByIdentifier(ctx context.Context, identifier string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, COALESCE(username, ''), password_hash, is_active, last_login_at, created_at FROM tbl_user WHERE email = ? OR username = ?`,
		strings.ToLower(identifier), identifier)
	return scanSQLiteUser(row)
}

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, COALESCE(username, ''), password_hash, is_active, last_login_at, created_at FROM tbl_user WHERE id = ?`,
		id)
	return scanSQLiteUser(row)
}

func scanSQLiteUser(row *sql.Row) (User, error) {
	var user User
	var lastLogin sql.NullInt64
	var createdAt int64
	if err := row.Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.IsActive, &lastLogin, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("failed to get user: %w", err)
	}
	if lastLogin.Valid {
		t := time.UnixMilli(lastLogin.Int64).UTC()
		user.LastLoginAt = &t
	}
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	return user, nil
}

func (s *SQLiteStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE tbl_user SET last_login_at = ? WHERE id = ?`, at.UnixMilli(), id); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.updateOne(ctx, `UPDATE tbl_user SET password_hash = ? WHERE id = ?`, hash, id)
}

func (s *SQLiteStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.updateOne(ctx, `UPDATE tbl_user SET is_active = ? WHERE id = ?`, active, id)
}

func (s *SQLiteStore) updateOne(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	var username sql.NullString
	if user.Username != "" {
		username = sql.NullString{String: user.Username, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tbl_user (id, email, username, password_hash, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, username, user.PasswordHash, user.IsActive, user.CreatedAt.UnixMilli())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}
