package usercore

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/usercore-dev/usercore/password"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// testVault uses the cheapest argon2 parameters the vault accepts; tests
// hash a lot of passwords.
func testVault(t *testing.T) *password.Argon2 {
	t.Helper()

	vault, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return vault
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Delivery.Timeout = time.Second
	cfg.Audit.Enabled = false
	return cfg
}

// mockUserStore is an in-memory UserStore with the real contract: atomic
// email uniqueness on Create and optimistic versioning on Update.
type mockUserStore struct {
	mu     sync.Mutex
	users  map[string]UserRecord
	emails map[string]string
	nextID int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:  make(map[string]UserRecord),
		emails: make(map[string]string),
	}
}

func (m *mockUserStore) FindByID(_ context.Context, id string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.users[id]
	if !ok {
		return UserRecord{}, ErrUserStoreNotFound
	}
	return record, nil
}

func (m *mockUserStore) FindByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.emails[email]
	if !ok {
		return UserRecord{}, ErrUserStoreNotFound
	}
	return m.users[id], nil
}

func (m *mockUserStore) Create(_ context.Context, input CreateUserInput) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.emails[input.Email]; exists {
		return UserRecord{}, ErrUserStoreDuplicateEmail
	}

	m.nextID++
	record := UserRecord{
		ID:           "u" + strconv.Itoa(m.nextID),
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Name:         input.Name,
		Roles:        append([]string(nil), input.Roles...),
		State:        input.State,
		Version:      1,
	}
	m.users[record.ID] = record
	m.emails[record.Email] = record.ID
	return record, nil
}

func (m *mockUserStore) Update(_ context.Context, record UserRecord) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.users[record.ID]
	if !ok {
		return UserRecord{}, ErrUserStoreNotFound
	}
	if current.Version != record.Version {
		return UserRecord{}, ErrUserStoreConflict
	}

	if current.Email != record.Email {
		delete(m.emails, current.Email)
		m.emails[record.Email] = record.ID
	}

	record.Version++
	m.users[record.ID] = record
	return record, nil
}

// put installs a record directly, bypassing Create.
func (m *mockUserStore) put(record UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.Version == 0 {
		record.Version = 1
	}
	m.users[record.ID] = record
	m.emails[record.Email] = record.ID
}

func (m *mockUserStore) get(id string) UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

type deliveredMail struct {
	Email string
	Code  string
}

// mockDelivery records every send on buffered channels, since the Service
// delivers asynchronously.
type mockDelivery struct {
	verification chan deliveredMail
	forgot       chan deliveredMail
	changeEmail  chan deliveredMail
}

func newMockDelivery() *mockDelivery {
	return &mockDelivery{
		verification: make(chan deliveredMail, 16),
		forgot:       make(chan deliveredMail, 16),
		changeEmail:  make(chan deliveredMail, 16),
	}
}

func (m *mockDelivery) SendVerification(_ context.Context, email, code string) error {
	m.verification <- deliveredMail{Email: email, Code: code}
	return nil
}

func (m *mockDelivery) SendForgotPassword(_ context.Context, email, code string) error {
	m.forgot <- deliveredMail{Email: email, Code: code}
	return nil
}

func (m *mockDelivery) SendChangeEmail(_ context.Context, newEmail, code string) error {
	m.changeEmail <- deliveredMail{Email: newEmail, Code: code}
	return nil
}

func waitForMail(t *testing.T, ch <-chan deliveredMail) deliveredMail {
	t.Helper()

	select {
	case mail := <-ch:
		return mail
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return deliveredMail{}
	}
}

func drainMail(t *testing.T, ch <-chan deliveredMail) {
	t.Helper()

	for {
		select {
		case <-ch:
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func newTestService(t *testing.T, rdb *redis.Client) (*Service, *mockUserStore, *mockDelivery) {
	t.Helper()

	store := newMockUserStore()
	delivery := newMockDelivery()
	cfg := testConfig()

	service := &Service{
		config:     cfg,
		userStore:  store,
		delivery:   delivery,
		vault:      testVault(t),
		codeStore:  newVerificationCodeStore(rdb, cfg.Codes.RedisPrefix),
		tokenStore: newTokenStore(rdb, cfg.Tokens.RedisPrefix),
		metrics:    NewMetrics(cfg.Metrics),
	}
	return service, store, delivery
}

// signupVerifiedUser runs the full signup plus verification flow and
// returns the resulting verified user.
func signupVerifiedUser(t *testing.T, service *Service, delivery *mockDelivery, email, passwd string) *UserView {
	t.Helper()

	ctx := context.Background()
	if _, err := service.Signup(ctx, SignupRequest{Email: email, Password: passwd, Name: "Test User"}); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	mail := waitForMail(t, delivery.verification)
	view, err := service.VerifyUser(ctx, mail.Code)
	if err != nil {
		t.Fatalf("VerifyUser failed: %v", err)
	}
	if view.State != StateVerified {
		t.Fatalf("expected verified state, got %v", view.State)
	}
	return view
}
