package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/freekieb7/lockbox/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db database.Querier
}

func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByIdentifier(ctx context.Context, identifier string) (User, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, email, COALESCE(username, ''), password_hash, is_active, last_login_at, created_at FROM tbl_user WHERE LOWER(email) = $1 OR username = $2`,
		strings.ToLower(identifier), identifier)
	return scanPostgresUser(row)
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, email, COALESCE(username, ''), password_hash, is_active, last_login_at, created_at FROM tbl_user WHERE id = $1`,
		id)
	return scanPostgresUser(row)
}

func scanPostgresUser(row interface{ Scan(dest ...any) error }) (User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.IsActive, &user.LastLoginAt, &user.CreatedAt); err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.Exec(ctx, `UPDATE tbl_user SET last_login_at = $1 WHERE id = $2`, at.UTC(), id); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE tbl_user SET password_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE tbl_user SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	var username *string
	if user.Username != "" {
		username = &user.Username
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO tbl_user (id, email, username, password_hash, is_active) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		user.ID, strings.ToLower(user.Email), username, user.PasswordHash, user.IsActive)
	if err := row.Scan(&user.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	user.Email = strings.ToLower(user.Email)
	return user, nil
}
