package leaderelection

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestDisabledAssumesLeadership(t *testing.T) {
	le := New(Config{Enabled: false}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	started := false

	done := make(chan error, 1)
	go func() {
		done <- le.Run(ctx, func(ctx context.Context) {
			started = true
			cancel()
		}, func(ctx context.Context) {})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	if !started {
		t.Error("onStartLeading was not called")
	}
	if !le.IsLeader() {
		t.Error("IsLeader() = false with election disabled")
	}
}

func TestLockIsExclusive(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "leader.lock")

	first := New(Config{Enabled: true, LockFilePath: lockPath}, testLogger())
	second := New(Config{Enabled: true, LockFilePath: lockPath}, testLogger())

	acquired, err := first.tryAcquireLock()
	if err != nil {
		t.Fatalf("first acquire returned error: %v", err)
	}
	if !acquired {
		t.Fatal("first instance failed to acquire a free lock")
	}

	acquired, err = second.tryAcquireLock()
	if err != nil {
		t.Fatalf("second acquire returned error: %v", err)
	}
	if acquired {
		t.Fatal("second instance acquired a held lock")
	}

	first.release()

	acquired, err = second.tryAcquireLock()
	if err != nil {
		t.Fatalf("acquire after release returned error: %v", err)
	}
	if !acquired {
		t.Error("lock not acquirable after release")
	}
	second.release()
}

func TestRunAcquiresLeadership(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "leader.lock")
	le := New(Config{
		Enabled:      true,
		LockFilePath: lockPath,
		RetryPeriod:  10 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	stopped := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- le.Run(ctx, func(ctx context.Context) {
			close(started)
		}, func(ctx context.Context) {
			close(stopped)
		})
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("leadership was not acquired")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("onStopLeading was not called")
	}

	if le.isLeader.Load() {
		t.Error("leadership not released after shutdown")
	}
}
