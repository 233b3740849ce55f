package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/freekieb7/lockbox/internal/cache"
	"github.com/freekieb7/lockbox/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrSessionNotFound = fmt.Errorf("session not found")
)

const (
	sessionKeyPrefix   = "session:"
	userSessionsPrefix = "user_sessions:"
	activeUsersKey     = "active_users"
)

// renewScript rewrites a session only while it still exists, then renews the
// user's index and active-user score in the same step.
// KEYS session key, user index key, active users key.
// ARGV data, ttl_ms, session id, index_ttl_ms, activity_unix, user id.
// Returns 1 when written, 0 when the session is gone.
var renewScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2], 'XX') then
	return 0
end
redis.call('SADD', KEYS[2], ARGV[3])
if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[4]) then
	redis.call('PEXPIRE', KEYS[2], ARGV[4])
end
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[6])
return 1
`)

type Config struct {
	DefaultTTL  time.Duration
	ExtendedTTL time.Duration
	TimeFunc    func() time.Time
}

// Registry keeps sessions in Redis:
//
//	session:{id}            JSON session, expires with the session
//	user_sessions:{userID}  set of the user's session ids
//	active_users            sorted set of user ids scored by last activity
type Registry struct {
	store       *cache.Service
	logger      *slog.Logger
	metrics     *metrics.Metrics
	defaultTTL  time.Duration
	extendedTTL time.Duration
	now         func() time.Time

	// afterLoad runs between reading and rewriting a session.
	afterLoad func(id string)
}

func NewRegistry(store *cache.Service, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Registry {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.ExtendedTTL <= 0 {
		cfg.ExtendedTTL = ExtendedTTL
	}
	if cfg.TimeFunc == nil {
		cfg.TimeFunc = time.Now
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Registry{
		store:       store,
		logger:      logger,
		metrics:     m,
		defaultTTL:  cfg.DefaultTTL,
		extendedTTL: cfg.ExtendedTTL,
		now:         cfg.TimeFunc,
	}
}

func (r *Registry) client() (redis.UniversalClient, error) {
	client := r.store.Client()
	if client == nil {
		return nil, cache.ErrUnavailable
	}
	return client, nil
}

func (r *Registry) ttlFor(extended bool) time.Duration {
	if extended {
		return r.extendedTTL
	}
	return r.defaultTTL
}

func (r *Registry) sessionKey(id string) string {
	return r.store.Key(sessionKeyPrefix + id)
}

func (r *Registry) userKey(userID string) string {
	return r.store.Key(userSessionsPrefix + userID)
}

func (r *Registry) activeKey() string {
	return r.store.Key(activeUsersKey)
}

// Create opens a session for userID and returns its id.
func (r *Registry) Create(ctx context.Context, userID string, device Device, extended bool) (string, error) {
	client, err := r.client()
	if err != nil {
		return "", err
	}

	now := r.now()
	ttl := r.ttlFor(extended)
	sess := Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(ttl),
		Device:       device,
		Data:         map[string]any{},
		Active:       true,
		Extended:     extended,
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	ctx, cancel := r.store.WithTimeout(ctx)
	defer cancel()

	pipe := client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(sess.ID), data, ttl)
	pipe.SAdd(ctx, r.userKey(userID), sess.ID)
	// The index must outlive the longest session it can hold.
	pipe.Expire(ctx, r.userKey(userID), r.extendedTTL)
	pipe.ZAdd(ctx, r.activeKey(), redis.Z{Score: float64(now.Unix()), Member: userID})
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("Failed to create session", "user_id", userID, "error", err)
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	r.metrics.SessionsCreated.Inc()
	r.logger.Debug("Session created", "session", cache.MaskToken(sess.ID), "user_id", userID, "extended", extended)
	return sess.ID, nil
}

// Get returns the session or nil when it does not exist. A successful read
// counts as activity and renews the session TTL.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := r.load(ctx, id)
	if err != nil || sess == nil {
		return sess, err
	}

	sess.LastActivity = r.now()
	err = r.save(ctx, sess)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.Warn("Failed to record session activity", "session", cache.MaskToken(id), "error", err)
	}
	return sess, nil
}

// Touch merges patch into the session data and renews it.
func (r *Registry) Touch(ctx context.Context, id string, patch map[string]any) error {
	sess, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}

	if sess.Data == nil {
		sess.Data = map[string]any{}
	}
	for k, v := range patch {
		sess.Data[k] = v
	}
	sess.LastActivity = r.now()
	return r.save(ctx, sess)
}

func (r *Registry) load(ctx context.Context, id string) (*Session, error) {
	client, err := r.client()
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.store.WithTimeout(ctx)
	defer cancel()

	raw, err := client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if r.afterLoad != nil {
		r.afterLoad(id)
	}
	return &sess, nil
}

func (r *Registry) save(ctx context.Context, sess *Session) error {
	client, err := r.client()
	if err != nil {
		return err
	}

	ttl := r.ttlFor(sess.Extended)
	sess.ExpiresAt = sess.LastActivity.Add(ttl)
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ctx, cancel := r.store.WithTimeout(ctx)
	defer cancel()

	keys := []string{r.sessionKey(sess.ID), r.userKey(sess.UserID), r.activeKey()}
	written, err := renewScript.Run(ctx, client, keys,
		data, ttl.Milliseconds(), sess.ID, r.extendedTTL.Milliseconds(), sess.LastActivity.Unix(), sess.UserID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if written == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Destroy removes the session and its index entries. Destroying a missing
// session is not an error.
func (r *Registry) Destroy(ctx context.Context, id string) error {
	sess, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	client, err := r.client()
	if err != nil {
		return err
	}

	ctx, cancel := r.store.WithTimeout(ctx)
	defer cancel()

	pipe := client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(id))
	pipe.SRem(ctx, r.userKey(sess.UserID), id)
	remaining := pipe.SCard(ctx, r.userKey(sess.UserID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}

	if remaining.Val() == 0 {
		if err := client.ZRem(ctx, r.activeKey(), sess.UserID).Err(); err != nil {
			r.logger.Warn("Failed to drop user from active index", "user_id", sess.UserID, "error", err)
		}
	}

	r.logger.Debug("Session destroyed", "session", cache.MaskToken(id), "user_id", sess.UserID)
	return nil
}

// DestroyAllForUser removes every session of userID and returns how many
// still existed.
func (r *Registry) DestroyAllForUser(ctx context.Context, userID string) (int, error) {
	client, err := r.client()
	if err != nil {
		return 0, err
	}

	ctx, cancel := r.store.WithTimeout(ctx)
	defer cancel()

	ids, err := client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}

	pipe := client.TxPipeline()
	var deleted *redis.IntCmd
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = r.sessionKey(id)
		}
		deleted = pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, r.userKey(userID))
	pipe.ZRem(ctx, r.activeKey(), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to destroy user sessions: %w", err)
	}

	count := 0
	if deleted != nil {
		count = int(deleted.Val())
	}
	r.logger.Info("All sessions destroyed for user", "user_id", userID, "count", count)
	return count, nil
}

// ListForUser returns the live sessions of userID and prunes index entries
// whose session has expired.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	client, err := r.client()
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.store.WithTimeout(ctx)
	defer cancel()

	ids, err := client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}
	if len(ids) == 0 {
		return []Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load user sessions: %w", err)
	}

	sessions := make([]Session, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var sess Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			r.logger.Warn("Skipping corrupt session", "session", cache.MaskToken(ids[i]), "error", err)
			continue
		}
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		if err := client.SRem(ctx, r.userKey(userID), stale...).Err(); err != nil {
			r.logger.Warn("Failed to prune expired session ids", "user_id", userID, "error", err)
		}
	}
	return sessions, nil
}

// ListActiveUsers returns up to limit users, most recently active first.
// Users idle for longer than the extended TTL are dropped from the index.
func (r *Registry) ListActiveUsers(ctx context.Context, limit int) ([]ActiveUser, error) {
	client, err := r.client()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []ActiveUser{}, nil
	}

	ctx, cancel := r.store.WithTimeout(ctx)
	defer cancel()

	cutoff := r.now().Add(-r.extendedTTL).Unix()
	if err := client.ZRemRangeByScore(ctx, r.activeKey(), "-inf", fmt.Sprintf("(%d", cutoff)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune active users: %w", err)
	}

	entries, err := client.ZRevRangeWithScores(ctx, r.activeKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}

	users := make([]ActiveUser, 0, len(entries))
	for _, z := range entries {
		userID, _ := z.Member.(string)
		users = append(users, ActiveUser{UserID: userID, LastActivity: time.Unix(int64(z.Score), 0)})
	}
	return users, nil
}

// IsOnline reports whether userID was active within OnlineWindow.
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	client, err := r.client()
	if err != nil {
		return false, err
	}

	ctx, cancel := r.store.WithTimeout(ctx)
	defer cancel()

	score, err := client.ZScore(ctx, r.activeKey(), userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read user activity: %w", err)
	}
	return r.now().Sub(time.Unix(int64(score), 0)) <= OnlineWindow, nil
}

// Count returns the number of users active within the default session TTL.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	client, err := r.client()
	if err != nil {
		return 0, err
	}

	ctx, cancel := r.store.WithTimeout(ctx)
	defer cancel()

	from := fmt.Sprintf("%d", r.now().Add(-r.defaultTTL).Unix())
	n, err := client.ZCount(ctx, r.activeKey(), from, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count active users: %w", err)
	}
	return n, nil
}
