// Package store provides storage backends for GuestPipe.
//
// This file implements Redis-backed session, deduplication and lease
// repositories for multi-node deployments where the in-process keyed mutex
// is not enough.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GuestPipe/GuestPipe/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis store configuration constants
const (
	// DefaultDedupTTL bounds how long processed message ids are remembered.
	DefaultDedupTTL = 7 * 24 * time.Hour
	// DefaultLeaseTTL bounds how long a session lease may be held before it
	// expires on its own (crash protection).
	DefaultLeaseTTL = 10 * time.Second
	// DefaultLeaseRetryDelay is the pause between lease acquisition attempts.
	DefaultLeaseRetryDelay = 50 * time.Millisecond
)

// saveSessionScript performs the version compare-and-swap atomically:
// KEYS[1] session key, ARGV[1] expected version, ARGV[2] new payload.
var saveSessionScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	return -1
end
local stored = cjson.decode(current)
if tostring(stored.version) ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

// releaseLeaseScript deletes the lease only if the caller still owns it.
var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisSessionStore implements SessionRepo, DedupRepo and Locker on Redis.
type RedisSessionStore struct {
	client   *redis.Client
	dedupTTL time.Duration
	leaseTTL time.Duration
}

var (
	_ SessionRepo = (*RedisSessionStore)(nil)
	_ DedupRepo   = (*RedisSessionStore)(nil)
	_ Locker      = (*RedisSessionStore)(nil)
)

// NewRedisSessionStore creates a Redis-backed session store. The DSN is a
// redis address ("host:port") or URL ("redis://...").
func NewRedisSessionStore(opts ...Option) (*RedisSessionStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewRedisSessionStore invoked", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		return nil, fmt.Errorf("redis DSN not set")
	}

	var client *redis.Client
	if ropts, err := redis.ParseURL(cfg.DSN); err == nil {
		client = redis.NewClient(ropts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.DSN})
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisSessionStore{
		client:   client,
		dedupTTL: DefaultDedupTTL,
		leaseTTL: DefaultLeaseTTL,
	}, nil
}

func sessionKey(userID, hotelID string) string {
	return "guestpipe:session:" + hotelID + ":" + userID
}

func dedupKey(messageID string) string {
	return "guestpipe:dedup:" + messageID
}

func leaseKey(key string) string {
	return "guestpipe:lease:" + key
}

func (r *RedisSessionStore) GetSession(userID, hotelID string) (*models.Session, error) {
	ctx := context.Background()
	data, err := r.client.Get(ctx, sessionKey(userID, hotelID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s/%s: %w", userID, hotelID, err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session %s/%s: %w", userID, hotelID, err)
	}
	return &sess, nil
}

func (r *RedisSessionStore) CreateSession(sess models.Session) (*models.Session, error) {
	now := time.Now()
	sess.Version = 1
	sess.CreatedAt = now
	sess.UpdatedAt = now
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(context.Background(), sessionKey(sess.UserID, sess.HotelID), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to create session %s/%s: %w", sess.UserID, sess.HotelID, err)
	}
	return sess.Clone(), nil
}

func (r *RedisSessionStore) SaveSession(sess models.Session) (*models.Session, error) {
	expected := sess.Version
	sess.Version++
	sess.UpdatedAt = time.Now()
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	res, err := saveSessionScript.Run(context.Background(), r.client,
		[]string{sessionKey(sess.UserID, sess.HotelID)},
		fmt.Sprintf("%d", expected), string(data)).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to save session %s/%s: %w", sess.UserID, sess.HotelID, err)
	}
	switch res {
	case -1:
		return nil, models.ErrSessionNotFound
	case 0:
		slog.Debug("RedisSessionStore.SaveSession: version conflict", "userID", sess.UserID, "hotelID", sess.HotelID, "expected", expected)
		return nil, models.ErrSessionConflict
	}
	return sess.Clone(), nil
}

func (r *RedisSessionStore) DeleteSessions(userID string) (int, error) {
	ctx := context.Background()
	deleted := 0
	iter := r.client.Scan(ctx, 0, "guestpipe:session:*:"+userID, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("failed to delete session key %s: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan sessions of %s: %w", userID, err)
	}
	return deleted, nil
}

func (r *RedisSessionStore) IsDuplicate(messageID string) (bool, error) {
	n, err := r.client.Exists(context.Background(), dedupKey(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return n > 0, nil
}

func (r *RedisSessionStore) RecordInbound(messageID, userID, hotelID string) (bool, error) {
	rec := DedupRecord{MessageID: messageID, UserID: userID, HotelID: hotelID, ReceivedAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to encode dedup record: %w", err)
	}
	ok, err := r.client.SetNX(context.Background(), dedupKey(messageID), data, r.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return ok, nil
}

func (r *RedisSessionStore) MarkProcessed(messageID string) error {
	ctx := context.Background()
	data, err := r.client.Get(ctx, dedupKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	var rec DedupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("failed to decode dedup record: %w", err)
	}
	now := time.Now()
	rec.ProcessedAt = &now
	updated, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode dedup record: %w", err)
	}
	if err := r.client.Set(ctx, dedupKey(messageID), updated, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// Acquire takes the distributed lease for key, retrying until ctx is done.
// The lease expires after DefaultLeaseTTL if the holder crashes.
func (r *RedisSessionStore) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, leaseKey(key), token, r.leaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lease acquire failed: %w", err)
		}
		if ok {
			return func() {
				if err := releaseLeaseScript.Run(context.Background(), r.client, []string{leaseKey(key)}, token).Err(); err != nil {
					slog.Warn("RedisSessionStore.Acquire: lease release failed", "key", key, "error", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", models.ErrLeaseUnavailable, key)
		case <-time.After(DefaultLeaseRetryDelay):
		}
	}
}

// Close closes the Redis client.
func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}

// SplitStore routes session and dedup operations to dedicated repositories
// (typically Redis) while delegating everything else to the base store.
type SplitStore struct {
	Store
	sessions SessionRepo
	dedup    DedupRepo
}

// NewSplitStore combines a base store with separate session and dedup repos.
func NewSplitStore(base Store, sessions SessionRepo, dedup DedupRepo) *SplitStore {
	return &SplitStore{Store: base, sessions: sessions, dedup: dedup}
}

func (s *SplitStore) GetSession(userID, hotelID string) (*models.Session, error) {
	return s.sessions.GetSession(userID, hotelID)
}

func (s *SplitStore) CreateSession(sess models.Session) (*models.Session, error) {
	return s.sessions.CreateSession(sess)
}

func (s *SplitStore) SaveSession(sess models.Session) (*models.Session, error) {
	return s.sessions.SaveSession(sess)
}

func (s *SplitStore) DeleteSessions(userID string) (int, error) {
	return s.sessions.DeleteSessions(userID)
}

func (s *SplitStore) IsDuplicate(messageID string) (bool, error) {
	return s.dedup.IsDuplicate(messageID)
}

func (s *SplitStore) RecordInbound(messageID, userID, hotelID string) (bool, error) {
	return s.dedup.RecordInbound(messageID, userID, hotelID)
}

func (s *SplitStore) MarkProcessed(messageID string) error {
	return s.dedup.MarkProcessed(messageID)
}
