package ranking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/feedguard/internal/realtime"
	"github.com/charlesng35/feedguard/pkg/logger"
	"github.com/charlesng35/feedguard/pkg/metrics"
	"github.com/charlesng35/feedguard/pkg/retry"
)

// Run bounds.
const (
	MaxItems  = 5000
	Window    = 30 * 24 * time.Hour
	BatchSize = 100
)

// FeedCachePrefix namespaces cached trending feed pages.
const FeedCachePrefix = "feed:trending"

var (
	// ErrStoreRead reports that candidate content could not be loaded; nothing was written.
	ErrStoreRead = errors.New("ranking: store read failed")
	// ErrRunInProgress is returned when a run is requested while another is active.
	ErrRunInProgress = errors.New("ranking: run already in progress")
)

// Report summarises one ranker run. Err aggregates per-item write failures.
type Report struct {
	Scanned  int           `json:"scanned"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Invalidator drops cached entries under a key prefix.
type Invalidator interface {
	DeleteByPrefix(prefix string) int
}

// Ranker recomputes trending scores in bounded batches.
type Ranker struct {
	store     Store
	cache     Invalidator
	publisher realtime.Publisher
	now       func() time.Time
	maxItems  int
	window    time.Duration
	batchSize int
	policy    retry.Policy
	log       *zap.Logger

	running sync.Mutex
}

// Option customises a Ranker.
type Option func(*Ranker)

// WithClock overrides the scoring clock.
func WithClock(now func() time.Time) Option {
	return func(r *Ranker) {
		if now != nil {
			r.now = now
		}
	}
}

// WithBatchSize overrides the number of concurrent writes per batch.
func WithBatchSize(size int) Option {
	return func(r *Ranker) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithRetryPolicy overrides the per-call deadline and retry applied to store reads and writes.
func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Ranker) { r.policy = p }
}

// WithCache invalidates cached feed pages after each run.
func WithCache(cache Invalidator) Option {
	return func(r *Ranker) { r.cache = cache }
}

// WithPublisher announces completed runs to realtime subscribers.
func WithPublisher(p realtime.Publisher) Option {
	return func(r *Ranker) { r.publisher = p }
}

// NewRanker constructs a Ranker.
func NewRanker(store Store, opts ...Option) (*Ranker, error) {
	if store == nil {
		return nil, errors.New("ranking: store is required")
	}
	r := &Ranker{
		store:     store,
		now:       time.Now,
		maxItems:  MaxItems,
		window:    Window,
		batchSize: BatchSize,
		policy:    retry.DefaultPolicy(),
		log:       logger.WithModule("ranking"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run scores every recent item. Batches run one after another; writes inside a batch run
// concurrently and a failing write never cancels its siblings. Each store call runs under
// the retry policy's per-attempt deadline. Only a failed read returns an error; write
// failures are reported through Report.Failed and Report.Err.
func (r *Ranker) Run(ctx context.Context) (Report, error) {
	if !r.running.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer r.running.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	now := r.now()

	items, err := retry.Do(ctx, r.policy, "ranking.recent", func(ctx context.Context) ([]Snapshot, error) {
		return r.store.Recent(ctx, now.Add(-r.window), r.maxItems)
	})
	if err != nil {
		report := Report{Duration: time.Since(started), Err: err}
		r.finish(report, "failure")
		return report, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}

	report := Report{Scanned: len(items)}
	for start := 0; start < len(items); start += r.batchSize {
		if ctx.Err() != nil {
			report.Err = multierr.Append(report.Err, ctx.Err())
			report.Failed += len(items) - start
			break
		}
		end := min(start+r.batchSize, len(items))
		updated, batchErr := r.writeBatch(ctx, items[start:end], now)
		report.Updated += updated
		report.Failed += (end - start) - updated
		report.Err = multierr.Append(report.Err, batchErr)
	}
	report.Duration = time.Since(started)

	result := "success"
	if report.Failed > 0 {
		result = "partial"
	}
	r.finish(report, result)
	return report, nil
}

func (r *Ranker) writeBatch(ctx context.Context, batch []Snapshot, now time.Time) (int, error) {
	errs := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, item := range batch {
		wg.Add(1)
		go func(i int, item Snapshot) {
			defer wg.Done()
			score := Score(item, now)
			errs[i] = retry.Exec(ctx, r.policy, "ranking.update", func(ctx context.Context) error {
				err := r.store.UpdateScore(ctx, item.ID, score, now)
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return retry.Permanent(err)
				}
				return err
			})
		}(i, item)
	}
	wg.Wait()

	updated := 0
	for _, err := range errs {
		if err == nil {
			updated++
		}
	}
	return updated, multierr.Combine(errs...)
}

func (r *Ranker) finish(report Report, result string) {
	metrics.TrendingRuns.WithLabelValues(result).Inc()
	metrics.TrendingDuration.Observe(report.Duration.Seconds())

	fields := []zap.Field{
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	}

	if report.Err != nil {
		r.log.Error("trending run finished with errors", append(fields, zap.Error(report.Err))...)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("job", "trending")
			scope.SetTag("result", result)
			sentry.CaptureException(report.Err)
		})
	} else {
		r.log.Info("trending run finished", fields...)
	}

	if result == "failure" {
		return
	}
	metrics.TrendingUpdated.Set(float64(report.Updated))

	if r.cache != nil {
		r.cache.DeleteByPrefix(FeedCachePrefix)
	}
	if r.publisher != nil {
		r.publisher.BroadcastStream(realtime.StreamTrending, realtime.Message{
			Event: realtime.EventTrendingUpdated,
			Data:  map[string]int{"updated": report.Updated, "failed": report.Failed},
		})
	}
}
