package leaderelection

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"time"
)

type LeaderElector struct {
	config   Config
	logger   *slog.Logger
	lockFile *os.File
	isLeader atomic.Bool
}

type Config struct {
	Enabled      bool
	LockFilePath string
	RetryPeriod  time.Duration
}

// New creates a new leader elector
func New(cfg Config, logger *slog.Logger) *LeaderElector {
	return &LeaderElector{
		config: cfg,
		logger: logger.With("component", "leader-election"),
	}
}

// Run starts the leader election process. onStartLeading is invoked
// once when the lock is acquired; onStopLeading when the context ends.
// A flock lease is held until the process exits, so leadership is never
// lost while running.
func (le *LeaderElector) Run(ctx context.Context, onStartLeading, onStopLeading func(ctx context.Context)) error {
	if !le.config.Enabled {
		le.logger.Info("leader election disabled, assuming leadership")
		le.isLeader.Store(true)
		onStartLeading(ctx)
		<-ctx.Done()
		return nil
	}

	le.logger.Info("starting leader election",
		"lock_file", le.config.LockFilePath,
		"retry_period", le.config.RetryPeriod,
	)

	ticker := time.NewTicker(le.config.RetryPeriod)
	defer ticker.Stop()

	for {
		if !le.isLeader.Load() {
			acquired, err := le.tryAcquireLock()
			if err != nil {
				le.logger.Error("failed to acquire lock", "error", err)
			} else if acquired {
				le.logger.Info("acquired leadership")
				le.isLeader.Store(true)
				go onStartLeading(ctx)
			}
		}

		select {
		case <-ctx.Done():
			if le.isLeader.Load() {
				le.release()
				onStopLeading(ctx)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// IsLeader returns whether this instance is the leader
func (le *LeaderElector) IsLeader() bool {
	return le.isLeader.Load() || !le.config.Enabled
}

func (le *LeaderElector) tryAcquireLock() (bool, error) {
	f, err := os.OpenFile(le.config.LockFilePath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open lock file: %w", err)
	}

	// Non-blocking exclusive lock; held by another instance means we
	// stay a follower and retry next tick.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	// Record our PID for operators inspecting the lock file.
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}

	le.lockFile = f
	return true, nil
}

func (le *LeaderElector) release() {
	if le.lockFile != nil {
		syscall.Flock(int(le.lockFile.Fd()), syscall.LOCK_UN)
		le.lockFile.Close()
		le.lockFile = nil
		le.isLeader.Store(false)
		le.logger.Info("released leadership")
	}
}
