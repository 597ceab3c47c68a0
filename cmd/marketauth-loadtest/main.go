// Command marketauth-loadtest measures session verification, refresh and
// OTP round trips against an engine backed by Redis (or miniredis).
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/permission"
	"github.com/MrEthical07/marketauth/store"
	"github.com/MrEthical07/marketauth/store/memory"
)

type account struct {
	mu      sync.Mutex
	email   string
	refresh string
	session string
}

// discardMailer satisfies the engine; IssueOTP hands the code back directly.
type discardMailer struct{}

func (discardMailer) SendLoginCode(context.Context, string, string, time.Time) error { return nil }
func (discardMailer) SendInvite(context.Context, string, string, time.Time) error    { return nil }

func main() {
	var (
		users       = flag.Int("users", 10000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (verify, refresh, otp)")
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
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := marketauth.DefaultConfig()
	cfg.Session.PrivateKey = []byte("loadtest-signing-key-0123456789ab")
	cfg.Audit.Enabled = false
	// Budgets would throttle the OTP phase.
	cfg.RateLimit.Enabled = false
	cfg.OTP.MaxAttempts = 1000

	st := memory.New()
	engine, err := marketauth.New().
		WithConfig(cfg).
		WithStore(st).
		WithRedis(client).
		WithMailer(discardMailer{}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	accounts := make([]account, *users)
	fmt.Printf("seeding %d accounts...\n", *users)
	startSeed := time.Now()
	for i := range accounts {
		email := fmt.Sprintf("user-%d@loadtest.invalid", i)
		u, err := st.CreateUser(ctx, store.User{
			ID:         fmt.Sprintf("u-%d", i),
			Email:      email,
			Roles:      permission.NewSet(permission.RoleStaff),
			Status:     store.StatusActive,
			BusinessID: "biz-load",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		pair, err := engine.IssueSession(ctx, marketauth.Subject{
			UserID:     u.ID,
			Email:      u.Email,
			Roles:      u.Roles.Slice(),
			BusinessID: u.BusinessID,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		accounts[i] = account{email: email, session: pair.SessionToken, refresh: pair.RefreshToken}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		a := &accounts[r.Intn(len(accounts))]
		a.mu.Lock()
		token := a.session
		a.mu.Unlock()
		_, err := engine.VerifySession(ctx, token)
		return err
	})
	refreshStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		a := &accounts[r.Intn(len(accounts))]
		a.mu.Lock()
		defer a.mu.Unlock()
		pair, err := engine.RefreshSession(ctx, a.refresh)
		if err == nil {
			a.session, a.refresh = pair.SessionToken, pair.RefreshToken
		}
		return err
	})
	otpStats := runPhase(*ops, *concurrency, 4099, func(r *rand.Rand) error {
		a := &accounts[r.Intn(len(accounts))]
		a.mu.Lock()
		defer a.mu.Unlock()
		ch, err := engine.IssueOTP(ctx, a.email)
		if err != nil {
			return err
		}
		res, err := engine.VerifyOTP(ctx, ch.ID, ch.Code)
		if err != nil {
			return err
		}
		if !res.Valid {
			return fmt.Errorf("otp rejected")
		}
		return nil
	})

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("refresh", refreshStats)
	printStats("otp", otpStats)
}

func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
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
	return computeStats(time.Since(start), latencies, failures)
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
	return samples[(len(samples)-1)*p/100]
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
