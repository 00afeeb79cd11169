package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, "test:"), mr
}

func TestTryLockIsExclusive(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "period_close", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("expected first lock to succeed, got token=%q ok=%v err=%v", token, ok, err)
	}
	_, ok, err = locker.TryLock(ctx, "period_close", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected second lock to fail while held")
	}
}

func TestReleaseRequiresHolderToken(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "grace_expiry", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock failed: ok=%v err=%v", ok, err)
	}
	if err := locker.Release(ctx, "grace_expiry", "someone-else"); err != nil {
		t.Fatalf("release with foreign token: %v", err)
	}
	if !mr.Exists("test:grace_expiry") {
		t.Fatalf("foreign token must not release the lock")
	}
	if err := locker.Release(ctx, "grace_expiry", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("test:grace_expiry") {
		t.Fatalf("expected lock key to be deleted")
	}
}

func TestLockExpires(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	if _, ok, _ := locker.TryLock(ctx, "alert_evaluation", time.Second); !ok {
		t.Fatalf("expected lock")
	}
	mr.FastForward(2 * time.Second)
	if _, ok, _ := locker.TryLock(ctx, "alert_evaluation", time.Second); !ok {
		t.Fatalf("expected lock after ttl elapsed")
	}
}

func TestNilLocker(t *testing.T) {
	var locker *Locker
	if locker.Enabled() {
		t.Fatalf("nil locker must report disabled")
	}
	if _, _, err := locker.TryLock(context.Background(), "k", time.Second); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := locker.Release(context.Background(), "k", "t"); err != nil {
		t.Fatalf("nil release: %v", err)
	}
}

func TestTryLockValidatesInput(t *testing.T) {
	locker, _ := newTestLocker(t)
	if _, _, err := locker.TryLock(context.Background(), "", time.Second); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if _, _, err := locker.TryLock(context.Background(), "k", 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}
