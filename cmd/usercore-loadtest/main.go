// Command usercore-loadtest seeds verified accounts with bearer tokens and
// measures authentication and token-churn throughput against Redis (or an
// embedded miniredis when no address is given).
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	usercore "github.com/usercore-dev/usercore"
)

func main() {
	var (
		users       = flag.Int("users", 10000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (authenticate + token churn)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  *redis.Client
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	delivery := &captureDelivery{codes: make(chan string, 1)}

	cfg := loadtestConfig()
	service, err := usercore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(newMemoryUserStore()).
		WithDelivery(delivery).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer service.Close()

	fmt.Printf("seeding %d verified users with tokens...\n", *users)
	startSeed := time.Now()
	tokens := make([]string, *users)
	userIDs := make([]string, *users)
	for i := 0; i < *users; i++ {
		email := fmt.Sprintf("user-%d@loadtest.local", i)
		view, err := service.Signup(ctx, usercore.SignupRequest{
			Email:    email,
			Password: "loadtest-password-123",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "signup failed: %v\n", err)
			os.Exit(1)
		}

		code := <-delivery.codes
		if _, err := service.VerifyUser(ctx, code); err != nil {
			fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
			os.Exit(1)
		}

		descriptor, err := service.CreateToken(ctx, view.ID, "loadtest")
		if err != nil {
			fmt.Fprintf(os.Stderr, "create token failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = descriptor.Token
		userIDs[i] = view.ID
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats := runAuthenticatePhase(ctx, service, tokens, *ops, *concurrency)
	churnStats := runTokenChurnPhase(ctx, service, userIDs, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("token churn", churnStats)

	snap := service.MetricsSnapshot()
	fmt.Printf("tokens created=%d revoked=%d auth success=%d auth failure=%d\n",
		snap.Counters[usercore.MetricTokenCreated],
		snap.Counters[usercore.MetricTokenRevoked],
		snap.Counters[usercore.MetricTokenAuthSuccess],
		snap.Counters[usercore.MetricTokenAuthFailure],
	)
}

func loadtestConfig() usercore.Config {
	cfg := usercore.Config{}
	cfg.Codes.Strategy = usercore.CodeToken
	cfg.Codes.SignupTTL = time.Hour
	cfg.Codes.ForgotPasswordTTL = time.Hour
	cfg.Codes.ChangeEmailTTL = time.Hour
	cfg.Codes.MaxAttempts = 5
	cfg.Codes.RedisPrefix = "lvc"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.SaltLength = 16
	cfg.Password.KeyLength = 16
	cfg.Password.MinLength = 10
	cfg.Tokens.DefaultFamily = "loadtest"
	cfg.Tokens.RevokeOnPasswordReset = true
	cfg.Tokens.RedisPrefix = "ltk"
	cfg.Delivery.Timeout = 5 * time.Second
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = true
	return cfg
}

func runAuthenticatePhase(ctx context.Context, service *usercore.Service, tokens []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(tokens))
				t0 := time.Now()
				_, err := service.Authenticate(ctx, tokens[idx])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runTokenChurnPhase(ctx context.Context, service *usercore.Service, userIDs []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				userID := userIDs[r.Intn(len(userIDs))]

				t0 := time.Now()
				descriptor, err := service.CreateToken(ctx, userID, "churn")
				if err == nil {
					err = service.RemoveToken(ctx, userID, descriptor.Token)
				}
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

// captureDelivery hands every code to the seeding loop through a channel.
type captureDelivery struct {
	codes chan string
}

func (d *captureDelivery) SendVerification(_ context.Context, _, code string) error {
	d.codes <- code
	return nil
}

func (d *captureDelivery) SendForgotPassword(_ context.Context, _, code string) error {
	d.codes <- code
	return nil
}

func (d *captureDelivery) SendChangeEmail(_ context.Context, _, code string) error {
	d.codes <- code
	return nil
}

// memoryUserStore is a mutex-guarded in-memory UserStore for load testing.
type memoryUserStore struct {
	mu     sync.Mutex
	users  map[string]usercore.UserRecord
	emails map[string]string
	nextID int
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{
		users:  make(map[string]usercore.UserRecord),
		emails: make(map[string]string),
	}
}

func (m *memoryUserStore) FindByID(_ context.Context, id string) (usercore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.users[id]
	if !ok {
		return usercore.UserRecord{}, usercore.ErrUserStoreNotFound
	}
	return record, nil
}

func (m *memoryUserStore) FindByEmail(_ context.Context, email string) (usercore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.emails[email]
	if !ok {
		return usercore.UserRecord{}, usercore.ErrUserStoreNotFound
	}
	return m.users[id], nil
}

func (m *memoryUserStore) Create(_ context.Context, input usercore.CreateUserInput) (usercore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.emails[input.Email]; exists {
		return usercore.UserRecord{}, usercore.ErrUserStoreDuplicateEmail
	}

	m.nextID++
	record := usercore.UserRecord{
		ID:           "u" + strconv.Itoa(m.nextID),
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Name:         input.Name,
		Roles:        input.Roles,
		State:        input.State,
		Version:      1,
	}
	m.users[record.ID] = record
	m.emails[record.Email] = record.ID
	return record, nil
}

func (m *memoryUserStore) Update(_ context.Context, record usercore.UserRecord) (usercore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.users[record.ID]
	if !ok {
		return usercore.UserRecord{}, usercore.ErrUserStoreNotFound
	}
	if current.Version != record.Version {
		return usercore.UserRecord{}, usercore.ErrUserStoreConflict
	}

	if current.Email != record.Email {
		delete(m.emails, current.Email)
		m.emails[record.Email] = record.ID
	}

	record.Version++
	m.users[record.ID] = record
	return record, nil
}
