// Package identity looks up the accounts that credentials are issued to.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}

// Store is the identity backend consumed by the token service. Identifiers
// are matched against the email address or the username.
type Store interface {
	FindByIdentifier(ctx context.Context, identifier string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	Create(ctx context.Context, user User) (User, error)
	SetActive(ctx context.Context, id string, active bool) error
}
