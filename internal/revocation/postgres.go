package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freekieb7/lockbox/internal/database"
	"github.com/freekieb7/lockbox/internal/token"
)

type PostgresStore struct {
	db database.Querier
}

func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveEntry is idempotent. Revoking a jti again only replaces the row when
// the new entry outlives it.
func (s *PostgresStore) SaveEntry(ctx context.Context, entry Entry) error {
	var userID *string
	if entry.UserID != "" {
		userID = &entry.UserID
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO tbl_revoked_token (jti, user_id, kind, reason, revoked_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (jti) DO UPDATE SET
			user_id = excluded.user_id,
			kind = excluded.kind,
			reason = excluded.reason,
			revoked_at = excluded.revoked_at,
			expires_at = excluded.expires_at
		WHERE tbl_revoked_token.expires_at < excluded.expires_at`,
		entry.JTI, userID, string(entry.Kind), string(entry.Reason), entry.RevokedAt.UTC(), entry.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save revoked token: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindEntry(ctx context.Context, jti string, now time.Time) (Entry, error) {
	var entry Entry
	var kind, reason string

	row := s.db.QueryRow(ctx,
		`SELECT jti, COALESCE(user_id, ''), kind, reason, revoked_at, expires_at FROM tbl_revoked_token WHERE jti = $1 AND expires_at > $2`,
		jti, now.UTC())
	if err := row.Scan(&entry.JTI, &entry.UserID, &kind, &reason, &entry.RevokedAt, &entry.ExpiresAt); err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("failed to get revoked token: %w", err)
	}

	entry.Kind = token.Kind(kind)
	entry.Reason = Reason(reason)
	return entry, nil
}

// SaveMarker replaces any older marker for the user.
func (s *PostgresStore) SaveMarker(ctx context.Context, marker Marker) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO tbl_user_invalidation (user_id, reason, invalidated_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET reason = EXCLUDED.reason, invalidated_at = EXCLUDED.invalidated_at, expires_at = EXCLUDED.expires_at
		WHERE tbl_user_invalidation.invalidated_at <= EXCLUDED.invalidated_at`,
		marker.UserID, string(marker.Reason), marker.InvalidatedAt.UTC(), marker.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save user invalidation: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindMarker(ctx context.Context, userID string, now time.Time) (Marker, error) {
	var marker Marker
	var reason string

	row := s.db.QueryRow(ctx,
		`SELECT user_id, reason, invalidated_at, expires_at FROM tbl_user_invalidation WHERE user_id = $1 AND expires_at > $2`,
		userID, now.UTC())
	if err := row.Scan(&marker.UserID, &reason, &marker.InvalidatedAt, &marker.ExpiresAt); err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Marker{}, ErrNotFound
		}
		return Marker{}, fmt.Errorf("failed to get user invalidation: %w", err)
	}

	marker.Reason = Reason(reason)
	return marker, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tokens, err := s.db.Exec(ctx, `DELETE FROM tbl_revoked_token WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired revoked tokens: %w", err)
	}

	markers, err := s.db.Exec(ctx, `DELETE FROM tbl_user_invalidation WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return tokens.RowsAffected(), fmt.Errorf("failed to delete expired user invalidations: %w", err)
	}

	return tokens.RowsAffected() + markers.RowsAffected(), nil
}

func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	row := s.db.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM tbl_revoked_token WHERE expires_at > $1),
			(SELECT COUNT(*) FROM tbl_user_invalidation WHERE expires_at > $1)`,
		now.UTC())
	if err := row.Scan(&stats.RevokedTokens, &stats.InvalidatedUsers); err != nil {
		return Stats{}, fmt.Errorf("failed to count revocations: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
