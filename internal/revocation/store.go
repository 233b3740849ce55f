package revocation

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("revocation record not found")

// DurableStore is the secondary replica of the ledger. Lookups ignore rows
// whose expiry has passed even before they are swept.
type DurableStore interface {
	SaveEntry(ctx context.Context, entry Entry) error
	FindEntry(ctx context.Context, jti string, now time.Time) (Entry, error)
	SaveMarker(ctx context.Context, marker Marker) error
	FindMarker(ctx context.Context, userID string, now time.Time) (Marker, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
	Ping(ctx context.Context) error
}
