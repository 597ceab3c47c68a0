package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/marketauth/store"
)

// recordGrace keeps a record past its expiry so verification can report
// expiry instead of absence.
const recordGrace = 5 * time.Minute

// ErrOTPRedisUnavailable wraps Redis transport failures.
var ErrOTPRedisUnavailable = errors.New("otp redis unavailable")

// createOTPLua inserts a record and retires the previous live record of the
// same email.
// KEYS[1] = record key, KEYS[2] = email index key
// ARGV = id, email, code_hash, expires_at, max_attempts, created_at, ttl_ms, record_prefix, attempts
var createOTPLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {err='duplicate'}
end
local prev = redis.call('GET', KEYS[2])
if prev and prev ~= ARGV[1] then
  local prevKey = ARGV[8] .. prev
  if redis.call('HGET', prevKey, 'consumed_at') == '0' then
    redis.call('HSET', prevKey, 'consumed_at', ARGV[6])
  end
end
redis.call('HSET', KEYS[1],
  'email', ARGV[2], 'code_hash', ARGV[3], 'expires_at', ARGV[4],
  'attempts', ARGV[9], 'max_attempts', ARGV[5], 'consumed_at', '0', 'created_at', ARGV[6])
redis.call('PEXPIRE', KEYS[1], ARGV[7])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[7])
return 'OK'
`)

// incrementOTPLua adds one attempt unless the record is consumed or at its
// ceiling, then returns the whole hash.
// KEYS[1] = record key
var incrementOTPLua = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'attempts', 'max_attempts', 'consumed_at')
if not f[1] then
  return {err='not_found'}
end
if f[3] ~= '0' then
  return {err='condition_failed'}
end
if tonumber(f[1]) >= tonumber(f[2]) then
  return {err='condition_failed'}
end
redis.call('HINCRBY', KEYS[1], 'attempts', 1)
return redis.call('HGETALL', KEYS[1])
`)

// consumeOTPLua moves a live record to its terminal state and drops the
// email index if it still points at this record.
// KEYS[1] = record key
// ARGV = consumed_at, index_prefix, id
var consumeOTPLua = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'consumed_at', 'email')
if not f[1] then
  return {err='not_found'}
end
if f[1] ~= '0' then
  return {err='condition_failed'}
end
redis.call('HSET', KEYS[1], 'consumed_at', ARGV[1])
local idx = ARGV[2] .. f[2]
if redis.call('GET', idx) == ARGV[3] then
  redis.call('DEL', idx)
end
return 'OK'
`)

// OTPStore implements store.OTPRecords on Redis.
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
}

var _ store.OTPRecords = (*OTPStore)(nil)

// NewOTPStore returns a store writing under prefix ("mo" when empty).
func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = "mo"
	}
	return &OTPStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *OTPStore) recordPrefix() string { return s.prefix + ":otp:" }
func (s *OTPStore) indexPrefix() string  { return s.prefix + ":otpe:" }

func (s *OTPStore) key(id string) string { return s.recordPrefix() + id }

func (s *OTPStore) CreateOTPRecord(ctx context.Context, rec store.OTPRecord) error {
	email := strings.ToLower(strings.TrimSpace(rec.Email))
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt) + recordGrace
	if ttl <= recordGrace {
		return errors.New("otp record expires before it is created")
	}

	err := createOTPLua.Run(ctx, s.redis,
		[]string{s.key(rec.ID), s.indexPrefix() + email},
		rec.ID,
		email,
		string(rec.CodeHash),
		rec.ExpiresAt.UnixNano(),
		rec.MaxAttempts,
		rec.CreatedAt.UnixNano(),
		ttl.Milliseconds(),
		s.recordPrefix(),
		rec.Attempts,
	).Err()
	return mapScriptError(err)
}

func (s *OTPStore) GetOTPRecord(ctx context.Context, id string) (store.OTPRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return store.OTPRecord{}, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return store.OTPRecord{}, store.ErrNotFound
	}
	return decodeOTP(id, fields)
}

func (s *OTPStore) IncrementOTPAttempts(ctx context.Context, id string) (store.OTPRecord, error) {
	res, err := incrementOTPLua.Run(ctx, s.redis, []string{s.key(id)}).Slice()
	if err != nil {
		return store.OTPRecord{}, mapScriptError(err)
	}
	if len(res)%2 != 0 {
		return store.OTPRecord{}, fmt.Errorf("%w: unexpected lua result", ErrOTPRedisUnavailable)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	return decodeOTP(id, fields)
}

func (s *OTPStore) MarkOTPConsumed(ctx context.Context, id string, at time.Time) error {
	err := consumeOTPLua.Run(ctx, s.redis,
		[]string{s.key(id)},
		at.UnixNano(),
		s.indexPrefix(),
		id,
	).Err()
	return mapScriptError(err)
}

func mapScriptError(err error) error {
	if err == nil {
		return nil
	}
	switch err.Error() {
	case "not_found":
		return store.ErrNotFound
	case "condition_failed":
		return store.ErrConditionFailed
	case "duplicate":
		return store.ErrDuplicate
	}
	return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
}

func decodeOTP(id string, f map[string]string) (store.OTPRecord, error) {
	rec := store.OTPRecord{
		ID:       id,
		Email:    f["email"],
		CodeHash: []byte(f["code_hash"]),
	}

	var err error
	parseInt := func(name string) int64 {
		if err != nil {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(f[name], 10, 64)
		if err != nil {
			err = fmt.Errorf("otp record %s: bad %s: %w", id, name, err)
		}
		return v
	}

	expires := parseInt("expires_at")
	attempts := parseInt("attempts")
	maxAttempts := parseInt("max_attempts")
	consumed := parseInt("consumed_at")
	created := parseInt("created_at")
	if err != nil {
		return store.OTPRecord{}, err
	}

	rec.ExpiresAt = time.Unix(0, expires)
	rec.Attempts = int(attempts)
	rec.MaxAttempts = int(maxAttempts)
	rec.CreatedAt = time.Unix(0, created)
	if consumed != 0 {
		at := time.Unix(0, consumed)
		rec.ConsumedAt = &at
	}
	return rec, nil
}
