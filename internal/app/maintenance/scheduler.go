// Package maintenance runs periodic background jobs on a cron schedule.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/feedguard/internal/ranking"
	"github.com/charlesng35/feedguard/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultTrendingSpec       = "@every 15m"
	defaultCachePurgeSpec     = "@hourly"
	defaultCounterPurgeSpec   = "@daily"
	defaultAuditSpec          = "@daily"
	defaultJobTimeout         = 5 * time.Minute

	// counterRetention keeps expired counters for one more day after their own expiry.
	counterRetention = 24 * time.Hour
)

// TrendingRunner recomputes trending scores.
type TrendingRunner interface {
	Run(ctx context.Context) (ranking.Report, error)
}

// Purger removes rows that expired before cutoff.
type Purger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditCleaner enforces audit log retention.
type AuditCleaner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

// Scheduler registers maintenance jobs with cron. Jobs whose dependency was not supplied
// are not registered.
type Scheduler struct {
	cron    *cron.Cron
	now     func() time.Time
	timeout time.Duration
	log     *zap.Logger
	jobs    []job
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for purge cutoffs.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithJobTimeout bounds each job execution.
func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithTrending schedules the trending ranker. An empty spec uses every 15 minutes.
func WithTrending(runner TrendingRunner, spec string) Option {
	return func(s *Scheduler) {
		if runner == nil {
			return
		}
		s.add("trending", spec, defaultTrendingSpec, func(ctx context.Context) error {
			_, err := runner.Run(ctx)
			if errors.Is(err, ranking.ErrRunInProgress) {
				s.log.Debug("trending run skipped, another run is active")
				return nil
			}
			return err
		})
	}
}

// WithCachePurge schedules removal of expired shared cache entries.
func WithCachePurge(purger Purger, spec string) Option {
	return func(s *Scheduler) {
		if purger == nil {
			return
		}
		s.add("cache_purge", spec, defaultCachePurgeSpec, func(ctx context.Context) error {
			removed, err := purger.PurgeExpired(ctx, s.now())
			if err != nil {
				return fmt.Errorf("purge cache entries: %w", err)
			}
			s.log.Debug("purged cache entries", zap.Int64("removed", removed))
			return nil
		})
	}
}

// WithCounterPurge schedules removal of quota counters from previous days.
func WithCounterPurge(purger Purger, spec string) Option {
	return func(s *Scheduler) {
		if purger == nil {
			return
		}
		s.add("counter_purge", spec, defaultCounterPurgeSpec, func(ctx context.Context) error {
			removed, err := purger.PurgeExpired(ctx, s.now().Add(-counterRetention))
			if err != nil {
				return fmt.Errorf("purge quota counters: %w", err)
			}
			s.log.Debug("purged quota counters", zap.Int64("removed", removed))
			return nil
		})
	}
}

// WithAuditRetention schedules deletion of audit logs older than days.
func WithAuditRetention(audit AuditCleaner, days int, spec string) Option {
	return func(s *Scheduler) {
		if audit == nil {
			return
		}
		if days <= 0 {
			days = defaultAuditRetentionDays
		}
		s.add("audit_retention", spec, defaultAuditSpec, func(ctx context.Context) error {
			removed, err := audit.CleanupOlderThan(ctx, days)
			if err != nil {
				return err
			}
			s.log.Debug("pruned audit logs", zap.Int64("removed", removed), zap.Int("retention_days", days))
			return nil
		})
	}
}

// NewScheduler constructs a Scheduler with the supplied jobs.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		now:     time.Now,
		timeout: defaultJobTimeout,
		log:     logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}
	return s
}

func (s *Scheduler) add(name, spec, fallback string, run func(ctx context.Context) error) {
	if spec == "" {
		spec = fallback
	}
	s.jobs = append(s.jobs, job{name: name, spec: spec, run: run})
}

// Jobs lists the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

// Start registers every job and launches cron. It is a no-op when no job is configured.
func (s *Scheduler) Start() error {
	if len(s.jobs) == 0 {
		return nil
	}
	for _, j := range s.jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() {
			if err := s.execute(context.Background(), j); err != nil {
				s.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s (%q): %w", j.name, j.spec, err)
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs complete.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes every job sequentially and aggregates failures.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range s.jobs {
		if err := s.execute(ctx, j); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errs
}

func (s *Scheduler) execute(ctx context.Context, j job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return j.run(ctx)
}
