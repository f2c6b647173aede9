package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestIndexExpiresEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	index := New(time.Minute)
	index.now = func() time.Time { return now }
	ctx := context.Background()

	if _, reserved, _ := index.Reserve(ctx, "user-1", "k1", "job-1"); !reserved {
		t.Fatalf("expected first reservation to win")
	}
	existing, reserved, _ := index.Reserve(ctx, "user-1", "k1", "job-2")
	if reserved || existing != "job-1" {
		t.Fatalf("Reserve() = %q, %v", existing, reserved)
	}
	if _, reserved, _ := index.Reserve(ctx, "user-2", "k1", "job-4"); !reserved {
		t.Fatalf("keys must be scoped per owner")
	}

	now = now.Add(2 * time.Minute)
	if existing, reserved, _ := index.Reserve(ctx, "user-1", "k1", "job-3"); !reserved || existing != "job-3" {
		t.Fatalf("expected key reusable after expiry, got %q", existing)
	}
}

func TestIndexReleaseOnlyDropsOwnClaim(t *testing.T) {
	index := New(time.Hour)
	ctx := context.Background()

	_, _, _ = index.Reserve(ctx, "user-1", "k1", "job-1")
	_ = index.Release(ctx, "user-1", "k1", "job-2")
	if existing, reserved, _ := index.Reserve(ctx, "user-1", "k1", "job-3"); reserved || existing != "job-1" {
		t.Fatalf("foreign release dropped the claim: %q %v", existing, reserved)
	}

	_ = index.Release(ctx, "user-1", "k1", "job-1")
	if _, reserved, _ := index.Reserve(ctx, "user-1", "k1", "job-3"); !reserved {
		t.Fatalf("expected key free after release")
	}
}

func TestIndexConcurrentReserveHasOneWinner(t *testing.T) {
	index := New(time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		seen    = map[string]bool{}
	)
	for n := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			existing, reserved, err := index.Reserve(context.Background(), "user-1", "k1", fmt.Sprintf("job-%d", n))
			if err != nil {
				t.Errorf("Reserve() error = %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if reserved {
				winners++
			}
			seen[existing] = true
		}()
	}
	wg.Wait()

	if winners != 1 || len(seen) != 1 {
		t.Fatalf("expected one winner and one job id, got winners=%d ids=%v", winners, seen)
	}
}
