package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"programline/internal/config"
	"programline/internal/domain"
	"programline/internal/metrics"
)

const leaseDuration = 5 * time.Minute

// Store is the outbox surface the dispatcher needs. repo.Repo implements it.
type Store interface {
	DueEmailJobs(ctx context.Context, now string, limit int) ([]domain.EmailJob, error)
	ClaimEmailJob(ctx context.Context, id, now, leaseUntil string) (bool, error)
	MarkEmailSent(ctx context.Context, id string, attempts int, now string) error
	MarkEmailFailed(ctx context.Context, id string, attempts int, lastErr, nextAttemptAt string, dead bool, now string) error
}

// Dispatcher drains due email jobs with bounded concurrency and a global
// rate limit. A failed job is retried with exponential backoff until
// MaxAttempts, then marked dead.
type Dispatcher struct {
	Store  Store
	Sender Sender
	Config config.DispatcherConfig
	Logger *zap.Logger
	Now    func() time.Time

	once    sync.Once
	limiter *rate.Limiter
}

// Result counts the outcomes of one pass.
type Result struct {
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Dead    int `json:"dead"`
	Skipped int `json:"skipped"`
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

func (d *Dispatcher) init() {
	d.once.Do(func() {
		limit := rate.Inf
		if d.Config.RatePerSecond > 0 {
			limit = rate.Limit(d.Config.RatePerSecond)
		}
		burst := d.Config.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(limit, burst)
	})
}

// Run polls until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Config.Interval()
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger().Warn("outbox pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce sends every job due now, up to the configured batch.
func (d *Dispatcher) RunOnce(ctx context.Context) (Result, error) {
	d.init()
	var res Result
	jobs, err := d.Store.DueEmailJobs(ctx, d.now().UTC().Format(time.RFC3339), d.Config.Batch)
	if err != nil {
		return res, err
	}
	if len(jobs) == 0 {
		return res, nil
	}
	concurrency := d.Config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	var claimErr error
	for _, job := range jobs {
		// g.Go blocks at the concurrency limit, so each claim reads the clock.
		claimedAt := d.now().UTC()
		ok, err := d.Store.ClaimEmailJob(ctx, job.ID, claimedAt.Format(time.RFC3339), claimedAt.Add(leaseDuration).Format(time.RFC3339))
		if err != nil {
			claimErr = err
			break
		}
		if !ok {
			res.Skipped++
			continue
		}
		g.Go(func() error {
			if err := d.limiter.Wait(gctx); err != nil {
				return err
			}
			outcome, err := d.deliver(gctx, job)
			if err != nil {
				return err
			}
			mu.Lock()
			switch outcome {
			case "sent":
				res.Sent++
			case "retry":
				res.Retried++
			case "dead":
				res.Dead++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, claimErr
}

// deliver sends one job and records the attempt. Only store errors escape.
func (d *Dispatcher) deliver(ctx context.Context, job domain.EmailJob) (string, error) {
	attempts := job.Attempts + 1
	sendErr := d.Sender.Send(ctx, job)
	now := d.now().UTC()
	stamp := now.Format(time.RFC3339)
	log := d.logger().With(zap.String("job_id", job.ID), zap.String("trigger", job.Trigger), zap.Int("attempt", attempts))
	if sendErr == nil {
		metrics.RecordEmailAttempt(job.Trigger, "sent")
		log.Debug("email sent")
		// The job is delivered; record it even if the pass is being cancelled.
		return "sent", d.Store.MarkEmailSent(context.WithoutCancel(ctx), job.ID, attempts, stamp)
	}
	maxAttempts := d.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	dead := attempts >= maxAttempts
	next := now.Add(Backoff(attempts, d.Config.BaseBackoff(), d.Config.MaxBackoff())).Format(time.RFC3339)
	outcome := "retry"
	if dead {
		outcome = "dead"
		log.Warn("email job dead", zap.Error(sendErr))
	} else {
		log.Info("email send failed, will retry", zap.String("next_attempt_at", next), zap.Error(sendErr))
	}
	metrics.RecordEmailAttempt(job.Trigger, outcome)
	return outcome, d.Store.MarkEmailFailed(context.WithoutCancel(ctx), job.ID, attempts, sendErr.Error(), next, dead, stamp)
}

// Backoff returns base*2^(attempt-1), capped at ceiling.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if ceiling > 0 && d >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}
