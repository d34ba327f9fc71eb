package usercore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenRecordVersionV1 = 1

var (
	errTokenNotFound         = errors.New("token not found")
	errTokenSecretMismatch   = errors.New("token secret mismatch")
	errTokenRedisUnavailable = errors.New("token redis unavailable")
)

// tokenRecord is the stored side of a bearer token. Revocation is deletion:
// a token that is gone can never authenticate again, and deleting twice is
// naturally idempotent.
type tokenRecord struct {
	IssuedAt   int64
	ExpiresAt  int64 // zero means no expiry
	UserID     string
	Family     string
	SecretHash [32]byte
}

// revokeTokenScript deletes the token and unlinks it from the per-user
// index in one atomic step.
const revokeTokenScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var revokeTokenLua = redis.NewScript(revokeTokenScript)

// tokenStore keeps bearer tokens in Redis: one key per token for O(1)
// authentication, plus a per-user set for enumeration and bulk revocation.
type tokenStore struct {
	redis  *redis.Client
	prefix string
}

func newTokenStore(redisClient *redis.Client, prefix string) *tokenStore {
	return &tokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *tokenStore) tokenKey(tokenID string) string {
	return s.prefix + ":t:" + tokenID
}

func (s *tokenStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Save persists a token and indexes it under its user.
func (s *tokenStore) Save(ctx context.Context, tokenID string, record *tokenRecord) error {
	encoded, err := encodeTokenRecord(record)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if record.ExpiresAt > 0 {
		ttl = time.Until(time.Unix(record.ExpiresAt, 0))
		if ttl <= 0 {
			return errors.New("token already expired")
		}
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(tokenID), encoded, ttl)
		pipe.SAdd(ctx, s.userKey(record.UserID), tokenID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errTokenRedisUnavailable, err)
	}

	return nil
}

// Get fetches a token record. Expired tokens are treated as missing and
// cleaned up on the way out.
func (s *tokenStore) Get(ctx context.Context, tokenID string) (*tokenRecord, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", errTokenRedisUnavailable, err)
	}

	record, err := decodeTokenRecord(data)
	if err != nil {
		return nil, err
	}

	if record.ExpiresAt > 0 && time.Now().Unix() > record.ExpiresAt {
		if _, err := s.Revoke(ctx, tokenID, record.UserID); err != nil {
			return nil, err
		}
		return nil, errTokenNotFound
	}

	return record, nil
}

// Authenticate resolves a token ID plus secret hash to its record, with a
// constant-time secret comparison.
func (s *tokenStore) Authenticate(ctx context.Context, tokenID string, providedHash [32]byte) (*tokenRecord, error) {
	record, err := s.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
		return nil, errTokenSecretMismatch
	}

	return record, nil
}

// Revoke deletes a token. Returns whether it still existed; revoking a
// token twice is not an error.
func (s *tokenStore) Revoke(ctx context.Context, tokenID, userID string) (bool, error) {
	result, err := revokeTokenLua.Run(
		ctx,
		s.redis,
		[]string{s.tokenKey(tokenID), s.userKey(userID)},
		tokenID,
	).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errTokenRedisUnavailable, err)
	}

	existed, _ := result.(int64)
	return existed == 1, nil
}

// RevokeAllForUser deletes every token of a user. Returns how many were
// still live.
func (s *tokenStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	tokenIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", errTokenRedisUnavailable, err)
	}

	var existing int
	if len(tokenIDs) > 0 {
		pipe := s.redis.Pipeline()
		existsCmds := make([]*redis.IntCmd, len(tokenIDs))
		for i, tokenID := range tokenIDs {
			existsCmds[i] = pipe.Exists(ctx, s.tokenKey(tokenID))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("%w: %v", errTokenRedisUnavailable, err)
		}
		for _, cmd := range existsCmds {
			v, cmdErr := cmd.Result()
			if cmdErr != nil {
				return 0, fmt.Errorf("%w: %v", errTokenRedisUnavailable, cmdErr)
			}
			existing += int(v)
		}
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tokenID := range tokenIDs {
			pipe.Del(ctx, s.tokenKey(tokenID))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errTokenRedisUnavailable, err)
	}

	return existing, nil
}

// RevokeFamily deletes every token of a user belonging to one family,
// leaving other sessions untouched.
func (s *tokenStore) RevokeFamily(ctx context.Context, userID, family string) (int, error) {
	tokens, err := s.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	var revoked int
	for tokenID, record := range tokens {
		if record.Family != family {
			continue
		}
		existed, err := s.Revoke(ctx, tokenID, userID)
		if err != nil {
			return revoked, err
		}
		if existed {
			revoked++
		}
	}

	return revoked, nil
}

// ListForUser returns the live token records of a user keyed by token ID.
// Dead index entries are skipped.
func (s *tokenStore) ListForUser(ctx context.Context, userID string) (map[string]*tokenRecord, error) {
	tokenIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]*tokenRecord{}, nil
		}
		return nil, fmt.Errorf("%w: %v", errTokenRedisUnavailable, err)
	}

	tokens := make(map[string]*tokenRecord, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		record, err := s.Get(ctx, tokenID)
		if err != nil {
			if errors.Is(err, errTokenNotFound) {
				continue
			}
			return nil, err
		}
		tokens[tokenID] = record
	}

	return tokens, nil
}

// Ping reports store availability.
func (s *tokenStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", errTokenRedisUnavailable, err)
	}
	return nil
}

func encodeTokenRecord(record *tokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("token record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)

	if len(record.Family) > 65535 {
		return nil, errors.New("token record family too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Family))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Family)

	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*tokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	record := &tokenRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}
	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	var familyLen uint16
	if err := binary.Read(reader, binary.BigEndian, &familyLen); err != nil {
		return nil, err
	}
	family := make([]byte, familyLen)
	if _, err := io.ReadFull(reader, family); err != nil {
		return nil, err
	}
	record.Family = string(family)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
