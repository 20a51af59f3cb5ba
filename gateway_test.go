package gateward

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kyrelabs/gateward/ratelimit"
	"github.com/kyrelabs/gateward/revocation"
)

type stubProvider struct{}

func (stubProvider) Authenticate(_ context.Context, identifier, secret string) (Subject, error) {
	if identifier == "alice@example.com" && secret == "correct-horse" {
		return Subject{ID: "user-1", Role: "admin"}, nil
	}
	return Subject{}, ErrInvalidCredentials
}

func testConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	return cfg
}

func newTestGateway(t *testing.T, mutate func(*Config)) (*Gateway, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	gw, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialProvider(stubProvider{}).
		Build()
	if err != nil {
		t.Fatalf("gateway build failed: %v", err)
	}
	t.Cleanup(gw.Close)

	return gw, mr
}

func TestLoginIssueVerifyRoundTrip(t *testing.T) {
	gw, _ := newTestGateway(t, nil)
	ctx := context.Background()

	pair, err := gw.Login(ctx, "alice@example.com", "correct-horse", "203.0.113.7")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("login returned incomplete pair")
	}

	identity, err := gw.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if identity.SubjectID != "user-1" {
		t.Fatalf("subject = %q, want user-1", identity.SubjectID)
	}
	if identity.Role != "admin" {
		t.Fatalf("role = %q, want admin", identity.Role)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	gw, _ := newTestGateway(t, nil)

	_, err := gw.Login(context.Background(), "alice@example.com", "wrong", "203.0.113.7")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifyAccessRejectsRefreshToken(t *testing.T) {
	gw, _ := newTestGateway(t, nil)
	ctx := context.Background()

	pair, err := gw.IssuePair(ctx, "user-1", "admin")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := gw.VerifyAccess(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh-as-access error = %v, want ErrTokenInvalid", err)
	}
	if _, err := gw.VerifyAccess(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage error = %v, want ErrTokenInvalid", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	gw, _ := newTestGateway(t, nil)
	ctx := context.Background()

	pair, err := gw.IssuePair(ctx, "user-1", "admin")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	rotated, err := gw.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}

	if _, err := gw.VerifyAccess(ctx, rotated.AccessToken); err != nil {
		t.Fatalf("rotated access token invalid: %v", err)
	}

	// Reusing the spent token is the theft signal.
	if _, err := gw.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("reuse error = %v, want ErrTokenRevoked", err)
	}

	// The replacement still works.
	if _, err := gw.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("second rotation failed: %v", err)
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	gw, _ := newTestGateway(t, nil)
	ctx := context.Background()

	pair, err := gw.IssuePair(ctx, "user-1", "admin")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := gw.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenRevoked):
			losses++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}

	if wins != 1 {
		t.Fatalf("expected exactly one refresh winner, got %d", wins)
	}
	if losses != n-1 {
		t.Fatalf("expected %d losers, got %d", n-1, losses)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	gw, _ := newTestGateway(t, nil)
	ctx := context.Background()

	if _, err := gw.IssuePair(ctx, "user-1", "admin"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	sessions, err := gw.ListActiveSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}

	tokenID := sessions[0].TokenID
	if err := gw.Revoke(ctx, tokenID); err != nil {
		t.Fatalf("first revoke failed: %v", err)
	}
	if err := gw.Revoke(ctx, tokenID); err != nil {
		t.Fatalf("second revoke errored: %v", err)
	}
	if err := gw.Revoke(ctx, "never-issued"); err != nil {
		t.Fatalf("unknown revoke errored: %v", err)
	}
}

func TestRevokeAllForSubject(t *testing.T) {
	gw, _ := newTestGateway(t, nil)
	ctx := context.Background()

	first, err := gw.IssuePair(ctx, "user-1", "admin")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	second, err := gw.IssuePair(ctx, "user-1", "admin")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	stamped, err := gw.RevokeAllForSubject(ctx, "user-1")
	if err != nil {
		t.Fatalf("revoke all failed: %v", err)
	}
	if stamped != 2 {
		t.Fatalf("stamped = %d, want 2", stamped)
	}

	for _, refresh := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := gw.Refresh(ctx, refresh); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("post-revoke refresh = %v, want ErrTokenRevoked", err)
		}
	}

	sessions, err := gw.ListActiveSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions after revoke-all = %d, want 0", len(sessions))
	}
}

func TestLoginThrottleCountsOnlyFailures(t *testing.T) {
	gw, _ := newTestGateway(t, nil)
	ctx := context.Background()

	// Five failures exhaust the default auth budget (5 per 15 minutes).
	for i := 0; i < 5; i++ {
		if _, err := gw.Login(ctx, "alice@example.com", "wrong", "198.51.100.1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d error = %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	_, err := gw.Login(ctx, "alice@example.com", "correct-horse", "198.51.100.1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("sixth attempt error = %v, want ErrRateLimited", err)
	}

	// The denial carries a usable retry hint.
	var limited *RateLimitError
	if !errors.As(err, &limited) {
		t.Fatalf("denial %T does not carry a retry hint", err)
	}
	window := gw.config.Limits.Scopes["auth"].Window
	if limited.RetryAfter <= 0 || limited.RetryAfter > window {
		t.Fatalf("retry hint %v outside (0, %v]", limited.RetryAfter, window)
	}

	// A different source is unaffected, and its success does not charge
	// the budget.
	for i := 0; i < 3; i++ {
		if _, err := gw.Login(ctx, "alice@example.com", "correct-horse", "198.51.100.2"); err != nil {
			t.Fatalf("clean-source login failed: %v", err)
		}
	}
}

func TestLoginSuccessResetsFailureBudget(t *testing.T) {
	gw, _ := newTestGateway(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := gw.Login(ctx, "alice@example.com", "wrong", "198.51.100.9"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d error = %v", i+1, err)
		}
	}
	if _, err := gw.Login(ctx, "alice@example.com", "correct-horse", "198.51.100.9"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	// Budget is clean again after the success.
	for i := 0; i < 4; i++ {
		if _, err := gw.Login(ctx, "alice@example.com", "wrong", "198.51.100.9"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("post-reset attempt %d error = %v", i+1, err)
		}
	}
}

func TestAuthFailsClosedWhenStoreDown(t *testing.T) {
	gw, mr := newTestGateway(t, nil)
	ctx := context.Background()

	pair, err := gw.IssuePair(ctx, "user-1", "admin")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	mr.Close()

	if _, err := gw.IssuePair(ctx, "user-1", "admin"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("issue on dead store = %v, want ErrStoreUnavailable", err)
	}
	if _, err := gw.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("refresh on dead store = %v, want ErrStoreUnavailable", err)
	}
	if err := gw.Revoke(ctx, "some-token"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("revoke on dead store = %v, want ErrStoreUnavailable", err)
	}

	// VerifyAccess needs no store and keeps working through the outage.
	if _, err := gw.VerifyAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("verify during outage failed: %v", err)
	}
}

func TestLimiterFailsOpenWhenStoreDown(t *testing.T) {
	gw, mr := newTestGateway(t, nil)
	ctx := context.Background()

	mr.Close()

	decision := gw.Check(ctx, "api", "client-1", "")
	if !decision.Allowed {
		t.Fatal("limiter denied during store outage")
	}
	if !decision.FailedOpen {
		t.Fatal("decision not marked as failed open")
	}
}

func TestApiScopeLimitAndReset(t *testing.T) {
	gw, mr := newTestGateway(t, nil)
	ctx := context.Background()

	limit := int(gw.config.Limits.Scopes["api"].Limit)
	for i := 0; i < limit; i++ {
		if d := gw.Check(ctx, "api", "client-1", ""); !d.Allowed {
			t.Fatalf("request %d denied below the limit", i+1)
		}
	}
	denied := gw.Check(ctx, "api", "client-1", "")
	if denied.Allowed {
		t.Fatal("request above the limit allowed")
	}
	if denied.RetryAfter <= 0 || denied.RetryAfter > time.Minute {
		t.Fatalf("retry hint %v outside (0, window]", denied.RetryAfter)
	}

	// The counter dies with the window.
	mr.FastForward(2 * time.Minute)
	if d := gw.Check(ctx, "api", "client-1", ""); !d.Allowed {
		t.Fatal("request denied after window reset")
	}
}

// deadlineRecordingStore notes whether each increment arrived with a
// context deadline.
type deadlineRecordingStore struct {
	ratelimit.CounterStore

	mu        sync.Mutex
	deadlines []bool
}

func (s *deadlineRecordingStore) IncrFixed(ctx context.Context, key string, window time.Duration, cost int64) (int64, time.Duration, error) {
	s.record(ctx)
	return s.CounterStore.IncrFixed(ctx, key, window, cost)
}

func (s *deadlineRecordingStore) IncrSliding(ctx context.Context, key string, window time.Duration, cost int64, now time.Time) (int64, time.Time, error) {
	s.record(ctx)
	return s.CounterStore.IncrSliding(ctx, key, window, cost, now)
}

func (s *deadlineRecordingStore) record(ctx context.Context) {
	_, ok := ctx.Deadline()
	s.mu.Lock()
	s.deadlines = append(s.deadlines, ok)
	s.mu.Unlock()
}

func TestLimiterCallsCarryDeadline(t *testing.T) {
	store := &deadlineRecordingStore{CounterStore: ratelimit.NewMemoryCounterStore()}

	gw, err := New().
		WithConfig(testConfig(t)).
		WithRevocationStore(revocation.NewMemoryStore()).
		WithCounterStore(store).
		WithCredentialProvider(stubProvider{}).
		Build()
	if err != nil {
		t.Fatalf("gateway build failed: %v", err)
	}
	t.Cleanup(gw.Close)

	ctx := context.Background()
	gw.Check(ctx, "api", "client-1", "")

	// A failed login charges the sliding auth counter.
	if _, err := gw.Login(ctx, "alice@example.com", "wrong", "198.51.100.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("login error = %v, want ErrInvalidCredentials", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.deadlines) == 0 {
		t.Fatal("no counter-store calls recorded")
	}
	for i, ok := range store.deadlines {
		if !ok {
			t.Fatalf("counter-store call %d ran without a deadline", i)
		}
	}
}

func TestAuditEventsDelivered(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sink := NewChannelSink(16)
	gw, err := New().
		WithConfig(testConfig(t)).
		WithRedis(rdb).
		WithCredentialProvider(stubProvider{}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("gateway build failed: %v", err)
	}

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	if _, err := gw.IssuePair(ctx, "user-1", "admin"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	gw.Close()

	select {
	case event := <-sink.Events():
		if event.EventType != "token_pair_issued" {
			t.Fatalf("event type = %q, want token_pair_issued", event.EventType)
		}
		if event.SubjectID != "user-1" {
			t.Fatalf("event subject = %q, want user-1", event.SubjectID)
		}
		if event.IP != "203.0.113.7" {
			t.Fatalf("event ip = %q, want 203.0.113.7", event.IP)
		}
	case <-time.After(time.Second):
		t.Fatal("no audit event delivered")
	}
}

func TestBuildValidation(t *testing.T) {
	if _, err := New().WithConfig(Config{}).Build(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("build without stores = %v, want ErrNotReady", err)
	}

	b := New()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// Missing signing material is rejected by the token manager.
	if _, err := b.WithConfig(DefaultConfig()).WithRedis(rdb).Build(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("build without keys = %v, want ErrNotReady", err)
	}

	// A used builder refuses a second Build.
	used := New().WithConfig(testConfig(t)).WithRedis(rdb)
	gw, err := used.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(gw.Close)

	if _, err := used.Build(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("second build = %v, want ErrNotReady", err)
	}
}
