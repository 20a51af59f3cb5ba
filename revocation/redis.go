package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusRevoked  int64 = 2
	rotateStatusRotated  int64 = 3
)

const (
	revokeStatusMissing int64 = 0
	revokeStatusAlready int64 = 1
	revokeStatusStamped int64 = 2
)

// rotateScript validates the old record, stamps it revoked, and writes
// the replacement in one atomic unit. The old record keeps its natural
// TTL so the reuse signal stays observable until expiry.
const rotateScript = `
local fields = redis.call("HMGET", KEYS[1], "sub", "exp", "rev")
if not fields[1] then
  return 0
end
if fields[1] ~= ARGV[2] then
  return 0
end

local exp = tonumber(fields[2]) or 0
local now = tonumber(ARGV[1])
if exp <= now then
  redis.call("SREM", KEYS[3], ARGV[3])
  return 1
end

if fields[3] and fields[3] ~= "" then
  return 2
end

redis.call("HSET", KEYS[1], "rev", ARGV[1])
redis.call("HSET", KEYS[2],
  "sub", ARGV[5],
  "role", ARGV[6],
  "iat", ARGV[7],
  "exp", ARGV[8],
  "rev", "",
  "ua", ARGV[9],
  "ip", ARGV[10])
redis.call("EXPIREAT", KEYS[2], tonumber(ARGV[8]))
redis.call("SADD", KEYS[3], ARGV[4])
return 3
`

var rotateLua = redis.NewScript(rotateScript)

const markRevokedScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local rev = redis.call("HGET", KEYS[1], "rev")
if rev and rev ~= "" then
  return 1
end
redis.call("HSET", KEYS[1], "rev", ARGV[1])
return 2
`

var markRevokedLua = redis.NewScript(markRevokedScript)

// revokeAllScript walks the subject's index set and stamps every live
// record. Running as one script keeps the index read and the stamps in
// a single atomic unit, so a concurrent refresh cannot slip between them.
const revokeAllScript = `
local stamped = 0
for _, id in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[2] .. id
  if redis.call("EXISTS", key) == 1 then
    local rev = redis.call("HGET", key, "rev")
    if not rev or rev == "" then
      redis.call("HSET", key, "rev", ARGV[1])
      stamped = stamped + 1
    end
  end
end
return stamped
`

var revokeAllLua = redis.NewScript(revokeAllScript)

// RedisStore is the shared-store implementation of [Store] for
// multi-node deployments. One record hash per token ID plus a set of
// token IDs per subject; record hashes carry a TTL at the token's
// expiry, so Redis garbage-collects them without help.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a [RedisStore]. prefix namespaces all keys;
// pass "" for the default "gw".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gw"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) recordKey(tokenID string) string {
	return s.prefix + ":rt:" + tokenID
}

func (s *RedisStore) subjectKey(subjectID string) string {
	return s.prefix + ":rts:" + subjectID
}

// Put persists the record and indexes it under its subject.
//
//	Performance: one MULTI/EXEC (HSET + EXPIREAT + SADD).
func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	recordKey := s.recordKey(rec.TokenID)
	subjectKey := s.subjectKey(rec.SubjectID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recordKey, recordFields(rec))
		pipe.ExpireAt(ctx, recordKey, rec.ExpiresAt)
		pipe.SAdd(ctx, subjectKey, rec.TokenID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get fetches a record without mutating any state.
func (s *RedisStore) Get(ctx context.Context, tokenID string) (Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(tokenID)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return decodeRecord(tokenID, fields), nil
}

// Rotate runs the validate-revoke-replace Lua script. Exactly one
// concurrent caller wins; the rest map to the typed failures.
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) Rotate(ctx context.Context, tokenID, subjectID string, next Record) error {
	status, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(tokenID), s.recordKey(next.TokenID), s.subjectKey(subjectID)},
		nowFunc().Unix(),
		subjectID,
		tokenID,
		next.TokenID,
		next.SubjectID,
		next.Role,
		next.IssuedAt.Unix(),
		next.ExpiresAt.Unix(),
		next.Device.UserAgent,
		next.Device.SourceAddress,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch status {
	case rotateStatusNotFound:
		return ErrNotFound
	case rotateStatusExpired:
		return ErrExpired
	case rotateStatusRevoked:
		return ErrRevoked
	case rotateStatusRotated:
		return nil
	default:
		return fmt.Errorf("%w: unknown rotate script status %d", ErrStoreUnavailable, status)
	}
}

// MarkRevoked stamps the record if it is live. Idempotent.
func (s *RedisStore) MarkRevoked(ctx context.Context, tokenID string) (bool, error) {
	status, err := markRevokedLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(tokenID)},
		nowFunc().Unix(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return status == revokeStatusStamped, nil
}

// MarkAllRevokedForSubject stamps every live record for the subject in
// one atomic script.
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) MarkAllRevokedForSubject(ctx context.Context, subjectID string) (int, error) {
	stamped, err := revokeAllLua.Run(
		ctx,
		s.redis,
		[]string{s.subjectKey(subjectID)},
		nowFunc().Unix(),
		s.prefix+":rt:",
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(stamped), nil
}

// ListActive returns the subject's usable records and prunes index
// entries whose record hashes have already expired.
func (s *RedisStore) ListActive(ctx context.Context, subjectID string) ([]Record, error) {
	subjectKey := s.subjectKey(subjectID)
	tokenIDs, err := s.redis.SMembers(ctx, subjectKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(tokenIDs) == 0 {
		return []Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(tokenIDs))
	for i, id := range tokenIDs {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := nowFunc()
	records := make([]Record, 0, len(tokenIDs))
	var stale []interface{}
	for i, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, cmdErr)
		}
		if len(fields) == 0 {
			stale = append(stale, tokenIDs[i])
			continue
		}
		rec := decodeRecord(tokenIDs[i], fields)
		if rec.Usable(now) {
			records = append(records, rec)
		}
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, subjectKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return records, nil
}

// SweepExpired scans subject index sets and removes entries whose
// record hashes have expired. O(n); run it from a background sweeper,
// never from a request path.
func (s *RedisStore) SweepExpired(ctx context.Context) (int, error) {
	pattern := s.prefix + ":rts:*"
	var (
		cursor  uint64
		cleaned int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return cleaned, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for _, subjectKey := range keys {
			n, err := s.sweepSubject(ctx, subjectKey)
			if err != nil {
				return cleaned, err
			}
			cleaned += n
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return cleaned, nil
}

func (s *RedisStore) sweepSubject(ctx context.Context, subjectKey string) (int, error) {
	tokenIDs, err := s.redis.SMembers(ctx, subjectKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(tokenIDs) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.IntCmd, len(tokenIDs))
	for i, id := range tokenIDs {
		cmds[i] = pipe.Exists(ctx, s.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var stale []interface{}
	for i, cmd := range cmds {
		exists, cmdErr := cmd.Result()
		if cmdErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, cmdErr)
		}
		if exists == 0 {
			stale = append(stale, tokenIDs[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := s.redis.SRem(ctx, subjectKey, stale...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return len(stale), nil
}

// Ping reports Redis reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func recordFields(rec Record) map[string]interface{} {
	rev := ""
	if rec.Revoked() {
		rev = strconv.FormatInt(rec.RevokedAt.Unix(), 10)
	}
	return map[string]interface{}{
		"sub":  rec.SubjectID,
		"role": rec.Role,
		"iat":  rec.IssuedAt.Unix(),
		"exp":  rec.ExpiresAt.Unix(),
		"rev":  rev,
		"ua":   rec.Device.UserAgent,
		"ip":   rec.Device.SourceAddress,
	}
}

func decodeRecord(tokenID string, fields map[string]string) Record {
	rec := Record{
		TokenID:   tokenID,
		SubjectID: fields["sub"],
		Role:      fields["role"],
		Device: DeviceMeta{
			UserAgent:     fields["ua"],
			SourceAddress: fields["ip"],
		},
	}
	if v, err := strconv.ParseInt(fields["iat"], 10, 64); err == nil {
		rec.IssuedAt = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(fields["exp"], 10, 64); err == nil {
		rec.ExpiresAt = time.Unix(v, 0)
	}
	if rev := fields["rev"]; rev != "" {
		if v, err := strconv.ParseInt(rev, 10, 64); err == nil {
			rec.RevokedAt = time.Unix(v, 0)
		}
	}
	return rec
}
