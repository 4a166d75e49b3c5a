package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
)

// fakeRepository is an in-memory Repository that preserves the real CAS semantics (including the race between
// concurrent CASComplete calls) for unit testing Service without a database.
type fakeRepository struct {
	mu     sync.Mutex
	tokens map[string]Token
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{tokens: make(map[string]Token)}
}

func (f *fakeRepository) Insert(_ context.Context, t Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[t.TokenID] = t
	return nil
}

func (f *fakeRepository) GetByID(_ context.Context, tokenID string) (*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[tokenID]
	if !ok {
		return nil, errNotFound
	}
	cp := t
	return &cp, nil
}

func (f *fakeRepository) ExpireNonTerminalForUser(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.tokens {
		if t.UserID == userID && (t.Status == StatusMinted || t.Status == StatusInFlight) {
			t.Status = StatusExpired
			f.tokens[id] = t
		}
	}
	return nil
}

func (f *fakeRepository) CASAdvance(_ context.Context, tokenID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[tokenID]
	if !ok || t.Status != StatusMinted || now.After(t.ExpiresAt) {
		return false, nil
	}
	t.Status = StatusInFlight
	t.AdvancedAt = &now
	f.tokens[tokenID] = t
	return true, nil
}

func (f *fakeRepository) CASComplete(_ context.Context, tokenID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[tokenID]
	if !ok || t.Status != StatusInFlight || now.After(t.ExpiresAt) {
		return false, nil
	}
	t.Status = StatusCompleted
	f.tokens[tokenID] = t
	return true, nil
}

func (f *fakeRepository) Retire(_ context.Context, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[tokenID]
	if !ok {
		return nil
	}
	if t.Status != StatusCompleted && t.Status != StatusExpired {
		t.Status = StatusExpired
		f.tokens[tokenID] = t
	}
	return nil
}

var errNotFound = errNotFoundErr{}

type errNotFoundErr struct{}

func (errNotFoundErr) Error() string { return "token not found" }

// clock lets tests advance a fixed time deterministically.
type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newServiceAt(repo Repository, start time.Time) (*Service, *clock) {
	c := &clock{t: start}
	return NewService(repo, c.now), c
}

func TestMintExpiresPriorOutstandingToken(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc, clk := newServiceAt(repo, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	first, err := svc.Mint(ctx, 42, 10*time.Minute)
	if err != nil {
		t.Fatalf("first Mint: %v", err)
	}

	clk.advance(time.Second)
	if _, err := svc.Mint(ctx, 42, 10*time.Minute); err != nil {
		t.Fatalf("second Mint: %v", err)
	}

	got, err := repo.GetByID(ctx, first.TokenID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("first token status = %s, want EXPIRED", got.Status)
	}
}

func TestAdvanceIdempotentForInFlightToken(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc, clk := newServiceAt(repo, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	minted, _ := svc.Mint(ctx, 1, 10*time.Minute)

	clk.advance(time.Second)
	first, err := svc.Advance(ctx, minted.TokenID)
	if err != nil {
		t.Fatalf("first Advance: %v", err)
	}

	clk.advance(5 * time.Second)
	second, err := svc.Advance(ctx, minted.TokenID)
	if err != nil {
		t.Fatalf("second Advance (idempotent) returned error: %v", err)
	}
	if !second.AdvancedAt.Equal(*first.AdvancedAt) {
		t.Errorf("advanced_at was re-stamped: first=%v second=%v", first.AdvancedAt, second.AdvancedAt)
	}
}

func TestValidateAcceptsAfterDwellFloors(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc, clk := newServiceAt(repo, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	minted, _ := svc.Mint(ctx, 42, 10*time.Minute)
	clk.advance(time.Second)
	if _, err := svc.Advance(ctx, minted.TokenID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	clk.advance(20 * time.Second) // created+21s, advanced+20s
	result, err := svc.Validate(ctx, minted.TokenID, 42, 5*time.Second, 3*time.Second)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Token.Status != StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", result.Token.Status)
	}
}

func TestValidateRejectsMintedAsBypassSuspected(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc, _ := newServiceAt(repo, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	minted, _ := svc.Mint(ctx, 42, 10*time.Minute)

	_, err := svc.Validate(ctx, minted.TokenID, 42, 5*time.Second, 3*time.Second)
	if !apierrors.BypassSuspected(err) {
		t.Fatalf("err = %v, want BYPASS_SUSPECTED", err)
	}

	got, _ := repo.GetByID(ctx, minted.TokenID)
	if got.Status != StatusExpired {
		t.Errorf("token status after bypass = %s, want EXPIRED (retired)", got.Status)
	}
}

func TestValidateTooFastBeforeTraversalFloor(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc, clk := newServiceAt(repo, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	minted, _ := svc.Mint(ctx, 42, 10*time.Minute)
	clk.advance(time.Second)
	_, _ = svc.Advance(ctx, minted.TokenID)

	clk.advance(1*time.Second - time.Millisecond) // total elapsed since created ~= 2s - 1ms < 5s
	_, err := svc.Validate(ctx, minted.TokenID, 42, 5*time.Second, 3*time.Second)
	if !apierrors.ReasonIs(err, apierrors.TokenReasonTooFast) {
		t.Fatalf("err = %v, want TOO_FAST", err)
	}
}

func TestValidateBoundaryAtTraversalFloor(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc, clk := newServiceAt(repo, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	minted, _ := svc.Mint(ctx, 42, 10*time.Minute)
	// Advance immediately so the dwell floor (3s) is satisfied once the traversal floor (5s) is.
	_, _ = svc.Advance(ctx, minted.TokenID)

	clk.advance(5 * time.Second)
	if _, err := svc.Validate(ctx, minted.TokenID, 42, 5*time.Second, 3*time.Second); err != nil {
		t.Fatalf("at exactly the floor, expected ACCEPT, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc, clk := newServiceAt(repo, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	minted, _ := svc.Mint(ctx, 42, 10*time.Second)
	_, _ = svc.Advance(ctx, minted.TokenID)

	clk.advance(11 * time.Second)
	_, err := svc.Validate(ctx, minted.TokenID, 42, 5*time.Second, 3*time.Second)
	if !apierrors.ReasonIs(err, apierrors.TokenReasonExpired) {
		t.Fatalf("err = %v, want EXPIRED", err)
	}
}

func TestValidateConcurrentRaceYieldsOneAcceptOneReused(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc, clk := newServiceAt(repo, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	minted, _ := svc.Mint(ctx, 42, 10*time.Minute)
	_, _ = svc.Advance(ctx, minted.TokenID)
	clk.advance(10 * time.Second)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Validate(ctx, minted.TokenID, 42, 5*time.Second, 3*time.Second)
			results[i] = err
		}(i)
	}
	wg.Wait()

	accepts, reused := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			accepts++
		case apierrors.ReasonIs(err, apierrors.TokenReasonReused):
			reused++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if accepts != 1 || reused != 1 {
		t.Errorf("accepts=%d reused=%d, want 1 and 1", accepts, reused)
	}
}

func TestValidateRejectsReuseOfCompletedToken(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc, clk := newServiceAt(repo, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	minted, _ := svc.Mint(ctx, 42, 10*time.Minute)
	_, _ = svc.Advance(ctx, minted.TokenID)
	clk.advance(10 * time.Second)

	if _, err := svc.Validate(ctx, minted.TokenID, 42, 5*time.Second, 3*time.Second); err != nil {
		t.Fatalf("first Validate: %v", err)
	}

	_, err := svc.Validate(ctx, minted.TokenID, 42, 5*time.Second, 3*time.Second)
	if !apierrors.ReasonIs(err, apierrors.TokenReasonReused) {
		t.Fatalf("err = %v, want REUSED", err)
	}
}

func TestValidateRejectsUserMismatch(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc, clk := newServiceAt(repo, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	minted, _ := svc.Mint(ctx, 42, 10*time.Minute)
	_, _ = svc.Advance(ctx, minted.TokenID)
	clk.advance(10 * time.Second)

	_, err := svc.Validate(ctx, minted.TokenID, 99, 5*time.Second, 3*time.Second)
	if !apierrors.ReasonIs(err, apierrors.TokenReasonUserMismatch) {
		t.Fatalf("err = %v, want USER_MISMATCH", err)
	}
}
