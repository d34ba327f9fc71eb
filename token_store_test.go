package usercore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/usercore-dev/usercore/internal"
)

func saveTestToken(t *testing.T, store *tokenStore, userID, family string, ttl time.Duration) (string, [32]byte) {
	t.Helper()

	tokenID, err := internal.NewCodeID()
	if err != nil {
		t.Fatalf("NewCodeID failed: %v", err)
	}
	secret, err := internal.NewTokenSecret()
	if err != nil {
		t.Fatalf("NewTokenSecret failed: %v", err)
	}

	record := &tokenRecord{
		IssuedAt:   time.Now().Unix(),
		UserID:     userID,
		Family:     family,
		SecretHash: internal.HashTokenSecret(secret),
	}
	if ttl > 0 {
		record.ExpiresAt = time.Now().Add(ttl).Unix()
	}

	if err := store.Save(context.Background(), tokenID.String(), record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return tokenID.String(), record.SecretHash
}

func TestTokenStoreSaveGetAuthenticate(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newTokenStore(rdb, "utk")
	ctx := context.Background()

	tokenID, secretHash := saveTestToken(t, store, "u1", "web", 0)

	record, err := store.Get(ctx, tokenID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.UserID != "u1" || record.Family != "web" {
		t.Fatalf("unexpected record %+v", record)
	}

	if _, err := store.Authenticate(ctx, tokenID, secretHash); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	var wrongHash [32]byte
	if _, err := store.Authenticate(ctx, tokenID, wrongHash); !errors.Is(err, errTokenSecretMismatch) {
		t.Fatalf("expected errTokenSecretMismatch, got %v", err)
	}
}

func TestTokenStoreRevokeIsIdempotent(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newTokenStore(rdb, "utk")
	ctx := context.Background()

	tokenID, _ := saveTestToken(t, store, "u1", "web", 0)

	existed, err := store.Revoke(ctx, tokenID, "u1")
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !existed {
		t.Fatal("expected token to exist on first revoke")
	}

	existed, err = store.Revoke(ctx, tokenID, "u1")
	if err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}
	if existed {
		t.Fatal("expected second revoke to report missing")
	}

	if _, err := store.Get(ctx, tokenID); !errors.Is(err, errTokenNotFound) {
		t.Fatalf("expected errTokenNotFound, got %v", err)
	}
}

func TestTokenStoreRevokeAllForUser(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newTokenStore(rdb, "utk")
	ctx := context.Background()

	first, _ := saveTestToken(t, store, "u1", "web", 0)
	second, _ := saveTestToken(t, store, "u1", "mobile", 0)
	other, _ := saveTestToken(t, store, "u2", "web", 0)

	revoked, err := store.RevokeAllForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("expected 2 revoked, got %d", revoked)
	}

	for _, tokenID := range []string{first, second} {
		if _, err := store.Get(ctx, tokenID); !errors.Is(err, errTokenNotFound) {
			t.Fatalf("expected %s revoked, got %v", tokenID, err)
		}
	}
	if _, err := store.Get(ctx, other); err != nil {
		t.Fatalf("expected other user's token untouched: %v", err)
	}

	// Second sweep finds nothing.
	revoked, err = store.RevokeAllForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("second RevokeAllForUser failed: %v", err)
	}
	if revoked != 0 {
		t.Fatalf("expected 0 revoked on second sweep, got %d", revoked)
	}
}

func TestTokenStoreRevokeFamily(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newTokenStore(rdb, "utk")
	ctx := context.Background()

	web, _ := saveTestToken(t, store, "u1", "web", 0)
	mobile, _ := saveTestToken(t, store, "u1", "mobile", 0)

	revoked, err := store.RevokeFamily(ctx, "u1", "web")
	if err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}
	if revoked != 1 {
		t.Fatalf("expected 1 revoked, got %d", revoked)
	}

	if _, err := store.Get(ctx, web); !errors.Is(err, errTokenNotFound) {
		t.Fatalf("expected web token revoked, got %v", err)
	}
	if _, err := store.Get(ctx, mobile); err != nil {
		t.Fatalf("expected mobile token untouched: %v", err)
	}
}

func TestTokenStoreExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newTokenStore(rdb, "utk")
	ctx := context.Background()

	tokenID, _ := saveTestToken(t, store, "u1", "web", time.Hour)

	mr.FastForward(2 * time.Hour)

	if _, err := store.Get(ctx, tokenID); !errors.Is(err, errTokenNotFound) {
		t.Fatalf("expected expired token missing, got %v", err)
	}
}

func TestTokenStoreListSkipsDeadEntries(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newTokenStore(rdb, "utk")
	ctx := context.Background()

	live, _ := saveTestToken(t, store, "u1", "web", 0)
	expired, _ := saveTestToken(t, store, "u1", "web", time.Hour)

	mr.FastForward(2 * time.Hour)

	tokens, err := store.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListForUser failed: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected 1 live token, got %d", len(tokens))
	}
	if _, ok := tokens[live]; !ok {
		t.Fatalf("expected live token %s in listing", live)
	}
	if _, ok := tokens[expired]; ok {
		t.Fatal("expected expired token omitted")
	}
}

func TestTokenRecordCodec(t *testing.T) {
	original := &tokenRecord{
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
		UserID:    "u42",
		Family:    "mobile",
	}
	for i := range original.SecretHash {
		original.SecretHash[i] = byte(255 - i)
	}

	encoded, err := encodeTokenRecord(original)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeTokenRecord(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *decoded != *original {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", decoded, original)
	}
}
