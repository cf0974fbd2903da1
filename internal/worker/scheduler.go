// Package worker runs the periodic maintenance of the claim flow.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kkkkikiki/fomo/internal/distlock"
	"github.com/kkkkikiki/fomo/internal/logger"
)

// Jobs is the maintenance work the scheduler drives
type Jobs interface {
	SweepExpired(ctx context.Context) (int, error)
	ReissuePending(ctx context.Context, limit int) (int, error)
	CleanupTokens(ctx context.Context, olderThan time.Duration) (int, error)
}

// Result summarizes one maintenance run
type Result struct {
	Released      int  `json:"released"`
	Reissued      int  `json:"reissued"`
	TokensDeleted int  `json:"tokens_deleted"`
	Skipped       bool `json:"skipped"`
}

// Options tunes the scheduler
type Options struct {
	Interval       time.Duration
	ReissueBatch   int
	TokenRetention time.Duration
}

// Scheduler runs Jobs on a ticker. Every run holds a distributed lock so
// only one replica does the work.
type Scheduler struct {
	jobs Jobs
	lock distlock.Lock
	opts Options

	// serializes runs within this process
	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(jobs Jobs, lock distlock.Lock, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.ReissueBatch <= 0 {
		opts.ReissueBatch = 100
	}
	return &Scheduler{jobs: jobs, lock: lock, opts: opts}
}

// Start begins the ticker loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)

	logger.Info("scheduler started", "interval", s.opts.Interval.String())
	return nil
}

// Stop ends the loop and waits for an in-flight run
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				logger.Error("maintenance run failed", "error", err)
			}
		}
	}
}

// RunOnce performs one maintenance pass. It is skipped when another
// replica holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		logger.Debug("maintenance run skipped, lock held elsewhere")
		return Result{Skipped: true}, nil
	}
	defer func() {
		// the run context may already be cancelled
		if err := s.lock.Release(context.Background()); err != nil {
			logger.Warn("failed to release scheduler lock", "error", err)
		}
	}()

	var (
		res  Result
		errs []error
	)

	res.Released, err = s.jobs.SweepExpired(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("sweep: %w", err))
	}

	res.Reissued, err = s.jobs.ReissuePending(ctx, s.opts.ReissueBatch)
	if err != nil {
		errs = append(errs, fmt.Errorf("reissue: %w", err))
	}

	if s.opts.TokenRetention > 0 {
		res.TokensDeleted, err = s.jobs.CleanupTokens(ctx, s.opts.TokenRetention)
		if err != nil {
			errs = append(errs, fmt.Errorf("token cleanup: %w", err))
		}
	}

	logger.Info("maintenance run complete",
		"released", res.Released,
		"reissued", res.Reissued,
		"tokens_deleted", res.TokensDeleted,
	)
	return res, errors.Join(errs...)
}
