package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/Skotchmaster/taskhub/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Each session is a hash under <prefix>session:<id> whose TTL tracks
// expires_at. <prefix>user_sessions:<userID> is a set of session ids and may
// hold ids whose hash already expired; readers prune them.

var invalidateLua = redis.NewScript(`
if redis.call("HGET", KEYS[1], "is_valid") == "1" then
  redis.call("HSET", KEYS[1], "is_valid", "0")
  return 1
end
return 0
`)

var rotateLua = redis.NewScript(`
local vals = redis.call("HMGET", KEYS[1], "is_valid", "refresh_jti")
if vals[1] ~= "1" or vals[2] ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "refresh_jti", ARGV[2], "previous_jti", ARGV[1], "rotated_at", ARGV[3], "expires_at", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
redis.call("SADD", KEYS[2], ARGV[6])
local ttl = redis.call("PTTL", KEYS[2])
if ttl < tonumber(ARGV[5]) then
  redis.call("PEXPIRE", KEYS[2], ARGV[5])
end
return 1
`)

type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	Now    func() time.Time
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, Now: nowUTC}
}

func (s *RedisStore) now() time.Time {
	if s.Now == nil {
		return nowUTC()
	}
	return s.Now().UTC()
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + "session:" + id }
func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "user_sessions:" + userID
}

func ms(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func parseMS(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(n).UTC(), nil
}

func encode(sess *models.Session) map[string]any {
	rotated := ""
	if sess.RotatedAt != nil {
		rotated = ms(*sess.RotatedAt)
	}
	valid := "0"
	if sess.IsValid {
		valid = "1"
	}
	return map[string]any{
		"user_id":      sess.UserID,
		"user_agent":   sess.UserAgent,
		"ip_address":   sess.IPAddress,
		"is_valid":     valid,
		"expires_at":   ms(sess.ExpiresAt),
		"refresh_jti":  sess.RefreshJTI,
		"previous_jti": sess.PreviousJTI,
		"rotated_at":   rotated,
		"created_at":   ms(sess.CreatedAt),
	}
}

func decode(id string, h map[string]string) (*models.Session, error) {
	expires, err := parseMS(h["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("session %s: bad expires_at: %w", id, err)
	}
	created, err := parseMS(h["created_at"])
	if err != nil {
		return nil, fmt.Errorf("session %s: bad created_at: %w", id, err)
	}
	sess := &models.Session{
		ID:          id,
		UserID:      h["user_id"],
		UserAgent:   h["user_agent"],
		IPAddress:   h["ip_address"],
		IsValid:     h["is_valid"] == "1",
		ExpiresAt:   expires,
		RefreshJTI:  h["refresh_jti"],
		PreviousJTI: h["previous_jti"],
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if v := h["rotated_at"]; v != "" {
		rotated, err := parseMS(v)
		if err != nil {
			return nil, fmt.Errorf("session %s: bad rotated_at: %w", id, err)
		}
		sess.RotatedAt = &rotated
		sess.UpdatedAt = rotated
	}
	return sess, nil
}

func (s *RedisStore) Create(ctx context.Context, in NewSession) (*models.Session, error) {
	if in.TTL <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	now := s.now()
	sess := &models.Session{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		UserAgent:  in.UserAgent,
		IPAddress:  in.IPAddress,
		IsValid:    true,
		ExpiresAt:  now.Add(in.TTL),
		RefreshJTI: in.RefreshJTI,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	key, userKey := s.sessionKey(sess.ID), s.userKey(in.UserID)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, encode(sess))
		p.PExpire(ctx, key, in.TTL)
		p.SAdd(ctx, userKey, sess.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis create session: %w", err)
	}

	// The index lives as long as its longest session.
	if pttl, err := s.rdb.PTTL(ctx, userKey).Result(); err == nil && pttl < in.TTL {
		s.rdb.PExpire(ctx, userKey, in.TTL)
	}
	return sess, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	h, err := s.rdb.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	if len(h) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	sess, err := decode(id, h)
	if err != nil {
		return nil, err
	}

	if !s.now().Before(sess.ExpiresAt) {
		s.rdb.Del(ctx, s.sessionKey(id))
		s.rdb.SRem(ctx, s.userKey(sess.UserID), id)
	}
	return sess, nil
}

func (s *RedisStore) Invalidate(ctx context.Context, id string) error {
	return invalidateLua.Run(ctx, s.rdb, []string{s.sessionKey(id)}).Err()
}

func (s *RedisStore) InvalidateAll(ctx context.Context, userID string) (int64, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list user sessions: %w", err)
	}
	var n int64
	for _, id := range ids {
		flipped, err := invalidateLua.Run(ctx, s.rdb, []string{s.sessionKey(id)}).Int64()
		if err != nil {
			return n, fmt.Errorf("redis invalidate session %s: %w", id, err)
		}
		n += flipped
	}
	return n, nil
}

func (s *RedisStore) ListUsable(ctx context.Context, userID string) ([]models.Session, error) {
	userKey := s.userKey(userID)
	ids, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list user sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis load sessions: %w", err)
	}

	now := s.now()
	var out []models.Session
	var stale []any
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := decode(ids[i], h)
		if err != nil {
			return nil, err
		}
		if sess.Usable(now) {
			out = append(out, *sess)
		}
	}
	if len(stale) > 0 {
		s.rdb.SRem(ctx, userKey, stale...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) Rotate(ctx context.Context, id, oldJTI, newJTI string, expiresAt time.Time) (bool, error) {
	now := s.now()
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return false, nil
	}
	// The index TTL has to follow the extended session or InvalidateAll
	// stops seeing it.
	userID, err := s.rdb.HGet(ctx, s.sessionKey(id), "user_id").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis rotate session: %w", err)
	}
	n, err := rotateLua.Run(ctx, s.rdb, []string{s.sessionKey(id), s.userKey(userID)},
		oldJTI, newJTI, ms(now), ms(expiresAt), ttl.Milliseconds(), id,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis rotate session: %w", err)
	}
	return n == 1, nil
}

// Sweep drops index entries whose session hash has expired. Redis removes
// the hashes on its own.
func (s *RedisStore) Sweep(ctx context.Context) (int64, error) {
	var removed int64
	iter := s.rdb.Scan(ctx, 0, s.prefix+"user_sessions:*", 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		ids, err := s.rdb.SMembers(ctx, userKey).Result()
		if err != nil {
			return removed, err
		}
		for _, id := range ids {
			exists, err := s.rdb.Exists(ctx, s.sessionKey(id)).Result()
			if err != nil {
				return removed, err
			}
			if exists == 0 {
				n, err := s.rdb.SRem(ctx, userKey, id).Result()
				if err != nil {
					return removed, err
				}
				removed += n
			}
		}
	}
	return removed, iter.Err()
}
