package usercore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const codeRecordVersionV1 = 1

var (
	errCodeNotFound         = errors.New("verification code not found")
	errCodeSecretMismatch   = errors.New("verification code secret mismatch")
	errCodeAttemptsExceeded = errors.New("verification code attempts exceeded")
	errCodeRedisUnavailable = errors.New("verification code redis unavailable")
)

// verificationCodeRecord is the stored side of a code. The user-facing
// value never touches Redis; only SecretHash does.
type verificationCodeRecord struct {
	Purpose    CodePurpose
	Strategy   CodeStrategyType
	Attempts   uint16
	ExpiresAt  int64
	UserID     string
	Payload    string
	SecretHash [32]byte
}

// issueCodeScript supersedes the previous active code for the same
// (purpose, subject) and installs the new one in a single atomic step, so
// there is never a window with two live codes or a read-then-write race.
const issueCodeScript = `
local superseded = 0
local old = redis.call("GET", KEYS[2])
if old and old ~= ARGV[4] then
  local deleted = redis.call("DEL", ARGV[1] .. old)
  if deleted == 1 then
    superseded = 1
  end
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
redis.call("SET", KEYS[2], ARGV[4], "PX", ARGV[3])
return superseded
`

var issueCodeLua = redis.NewScript(issueCodeScript)

// verificationCodeStore keeps codes in Redis: one key per code, plus an
// active-code index per (purpose, subject) that makes superseding atomic.
type verificationCodeStore struct {
	redis  *redis.Client
	prefix string
}

func newVerificationCodeStore(redisClient *redis.Client, prefix string) *verificationCodeStore {
	return &verificationCodeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *verificationCodeStore) codeKeyPrefix() string {
	return s.prefix + ":c:"
}

func (s *verificationCodeStore) codeKey(codeID string) string {
	return s.codeKeyPrefix() + codeID
}

func (s *verificationCodeStore) activeKey(purpose CodePurpose, userID string) string {
	return s.prefix + ":a:" + strconv.Itoa(int(purpose)) + ":" + userID
}

// Issue stores a new code and invalidates any prior unconsumed code of the
// same purpose for the same subject. Returns whether an older code was
// superseded.
func (s *verificationCodeStore) Issue(
	ctx context.Context,
	codeID string,
	record *verificationCodeRecord,
	ttl time.Duration,
) (bool, error) {
	encoded, err := encodeVerificationCodeRecord(record)
	if err != nil {
		return false, err
	}

	result, err := issueCodeLua.Run(
		ctx,
		s.redis,
		[]string{s.codeKey(codeID), s.activeKey(record.Purpose, record.UserID)},
		s.codeKeyPrefix(),
		encoded,
		ttl.Milliseconds(),
		codeID,
	).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}

	superseded, _ := result.(int64)
	return superseded == 1, nil
}

// Consume atomically validates and destroys a code. Exactly one concurrent
// caller can succeed; everyone else observes errCodeNotFound or
// errCodeSecretMismatch. A mismatched secret burns an attempt; exceeding
// maxAttempts destroys the code outright.
func (s *verificationCodeStore) Consume(
	ctx context.Context,
	expectedPurpose CodePurpose,
	codeID string,
	providedHash [32]byte,
	maxAttempts int,
) (*verificationCodeRecord, error) {
	const maxRetries = 4
	key := s.codeKey(codeID)

	for i := 0; i < maxRetries; i++ {
		var matched *verificationCodeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeVerificationCodeRecord(data)
			if err != nil {
				return err
			}

			activeKey := s.activeKey(record.Purpose, record.UserID)
			active, err := tx.Get(ctx, activeKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			deleteCode := func() error {
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					if active == codeID {
						pipe.Del(ctx, activeKey)
					}
					return nil
				})
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				if err := deleteCode(); err != nil {
					return err
				}
				return errCodeNotFound
			}

			// A wrong purpose is indistinguishable from a missing code but
			// does not burn the code, which stays valid for its real
			// purpose.
			if record.Purpose != expectedPurpose {
				return errCodeNotFound
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					if err := deleteCode(); err != nil {
						return err
					}
					return errCodeAttemptsExceeded
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					if err := deleteCode(); err != nil {
						return err
					}
					return errCodeNotFound
				}

				updated, err := encodeVerificationCodeRecord(record)
				if err != nil {
					return err
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errCodeSecretMismatch
			}

			if err := deleteCode(); err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errCodeNotFound
			case errors.Is(err, errCodeNotFound),
				errors.Is(err, errCodeSecretMismatch),
				errors.Is(err, errCodeAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errCodeNotFound
}

// Ping reports store availability.
func (s *verificationCodeStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}
	return nil
}

func encodeVerificationCodeRecord(record *verificationCodeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(codeRecordVersionV1)
	buf.WriteByte(byte(record.Purpose))
	buf.WriteByte(byte(record.Strategy))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("code record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)

	if len(record.Payload) > 65535 {
		return nil, errors.New("code record payload too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Payload))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Payload)

	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeVerificationCodeRecord(data []byte) (*verificationCodeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != codeRecordVersionV1 {
		return nil, errors.New("invalid code record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	strategy, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &verificationCodeRecord{
		Purpose:  CodePurpose(purpose),
		Strategy: CodeStrategyType(strategy),
	}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
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

	var payloadLen uint16
	if err := binary.Read(reader, binary.BigEndian, &payloadLen); err != nil {
		return nil, err
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, err
	}
	record.Payload = string(payload)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
