package revocation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/freekieb7/lockbox/internal/token"
)

// SQLiteStore keeps timestamps as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) SaveEntry(ctx context.Context, entry Entry) error {
	var userID sql.NullString
	if entry.UserID != "" {
		userID = sql.NullString{String: entry.UserID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tbl_revoked_token (jti, user_id, kind, reason, revoked_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (jti) DO UPDATE SET
			user_id = excluded.user_id,
			kind = excluded.kind,
			reason = excluded.reason,
			revoked_at = excluded.revoked_at,
			expires_at = excluded.expires_at
		WHERE tbl_revoked_token.expires_at < excluded.expires_at`,
		entry.JTI, userID, string(entry.Kind), string(entry.Reason), entry.RevokedAt.UnixMilli(), entry.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save revoked token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindEntry(ctx context.Context, jti string, now time.Time) (Entry, error) {
	var entry Entry
	var userID sql.NullString
	var kind, reason string
	var revokedAt, expiresAt int64

	row := s.db.QueryRowContext(ctx,
		`SELECT jti, user_id, kind, reason, revoked_at, expires_at FROM tbl_revoked_token WHERE jti = ? AND expires_at > ?`,
		jti, now.UnixMilli())
	if err := row.Scan(&entry.JTI, &userID, &kind, &reason, &revokedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("failed to get revoked token: %w", err)
	}

	entry.UserID = userID.String
	entry.Kind = token.Kind(kind)
	entry.Reason = Reason(reason)
	entry.RevokedAt = time.UnixMilli(revokedAt).UTC()
	entry.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return entry, nil
}

func (s *SQLiteStore) SaveMarker(ctx context.Context, marker Marker) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tbl_user_invalidation (user_id, reason, invalidated_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET reason = excluded.reason, invalidated_at = excluded.invalidated_at, expires_at = excluded.expires_at
		WHERE tbl_user_invalidation.invalidated_at <= excluded.invalidated_at`,
		marker.UserID, string(marker.Reason), marker.InvalidatedAt.UnixMilli(), marker.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save user invalidation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindMarker(ctx context.Context, userID string, now time.Time) (Marker, error) {
	var marker Marker
	var reason string
	var invalidatedAt, expiresAt int64

	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, reason, invalidated_at, expires_at FROM tbl_user_invalidation WHERE user_id = ? AND expires_at > ?`,
		userID, now.UnixMilli())
	if err := row.Scan(&marker.UserID, &reason, &invalidatedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Marker{}, ErrNotFound
		}
		return Marker{}, fmt.Errorf("failed to get user invalidation: %w", err)
	}

	marker.Reason = Reason(reason)
	marker.InvalidatedAt = time.UnixMilli(invalidatedAt).UTC()
	marker.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return marker, nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"tbl_revoked_token", "tbl_user_invalidation"} {
		result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at <= ?`, now.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("failed to delete expired rows from %s: %w", table, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM tbl_revoked_token WHERE expires_at > ?),
			(SELECT COUNT(*) FROM tbl_user_invalidation WHERE expires_at > ?)`,
		now.UnixMilli(), now.UnixMilli())
	if err := row.Scan(&stats.RevokedTokens, &stats.InvalidatedUsers); err != nil {
		return Stats{}, fmt.Errorf("failed to count revocations: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
