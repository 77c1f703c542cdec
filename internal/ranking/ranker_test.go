package ranking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/feedguard/internal/cache"
	"github.com/charlesng35/feedguard/internal/database/testutil"
	"github.com/charlesng35/feedguard/internal/models"
	"github.com/charlesng35/feedguard/internal/realtime"
	"github.com/charlesng35/feedguard/pkg/retry"
)

type memoryStore struct {
	mu       sync.Mutex
	items    []Snapshot
	readErr  error
	failIDs  map[string]bool
	blockIDs map[string]bool
	attempts map[string]int
	scores   map[string]float64
	inflight int
	peak     int
}

func newMemoryStore(n int) *memoryStore {
	s := &memoryStore{
		failIDs:  map[string]bool{},
		blockIDs: map[string]bool{},
		attempts: map[string]int{},
		scores:   map[string]float64{},
	}
	for i := 0; i < n; i++ {
		s.items = append(s.items, Snapshot{
			ID:          fmt.Sprintf("content-%03d", i),
			Views:       100,
			Likes:       int64(i),
			PublishedAt: testNow.Add(-time.Duration(i) * time.Hour),
		})
	}
	return s
}

func (s *memoryStore) Recent(_ context.Context, _ time.Time, limit int) ([]Snapshot, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if len(s.items) > limit {
		return s.items[:limit], nil
	}
	return s.items, nil
}

func (s *memoryStore) UpdateScore(ctx context.Context, id string, score float64, _ time.Time) error {
	s.mu.Lock()
	s.inflight++
	if s.inflight > s.peak {
		s.peak = s.inflight
	}
	s.attempts[id]++
	blocked := s.blockIDs[id]
	s.mu.Unlock()

	if blocked {
		<-ctx.Done()
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
		return ctx.Err()
	}

	time.Sleep(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.failIDs[id] {
		return fmt.Errorf("write %s: %w", id, errors.New("deadlock detected"))
	}
	s.scores[id] = score
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []realtime.Message
}

func (p *recordingPublisher) BroadcastToUser(string, string, realtime.Message) {}

func (p *recordingPublisher) BroadcastStream(stream string, message realtime.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	message.Stream = stream
	p.messages = append(p.messages, message)
}

func fixedClock() time.Time { return testNow }

func TestNewRankerRequiresStore(t *testing.T) {
	_, err := NewRanker(nil)
	require.Error(t, err)
}

func TestRunScoresEveryItemInBatches(t *testing.T) {
	store := newMemoryStore(25)
	ranker, err := NewRanker(store, WithClock(fixedClock), WithBatchSize(10))
	require.NoError(t, err)

	report, err := ranker.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err)
	require.Equal(t, 25, report.Scanned)
	require.Equal(t, 25, report.Updated)
	require.Zero(t, report.Failed)
	require.Len(t, store.scores, 25)
	require.LessOrEqual(t, store.peak, 10)
	require.Equal(t, Score(store.items[3], testNow), store.scores["content-003"])
}

func TestRunContinuesAfterFailingWrite(t *testing.T) {
	store := newMemoryStore(12)
	store.failIDs["content-004"] = true
	ranker, err := NewRanker(store, WithClock(fixedClock), WithBatchSize(5))
	require.NoError(t, err)

	report, err := ranker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12, report.Scanned)
	require.Equal(t, 11, report.Updated)
	require.Equal(t, 1, report.Failed)
	require.ErrorContains(t, report.Err, "content-004")
	require.Contains(t, store.scores, "content-003")
	require.Contains(t, store.scores, "content-005")
}

func TestRunBoundsStalledWriteByPolicyTimeout(t *testing.T) {
	store := newMemoryStore(6)
	store.blockIDs["content-002"] = true
	policy := retry.Policy{Timeout: 50 * time.Millisecond, Delay: time.Millisecond, Attempts: 2}
	ranker, err := NewRanker(store, WithClock(fixedClock), WithBatchSize(3), WithRetryPolicy(policy))
	require.NoError(t, err)

	started := time.Now()
	report, err := ranker.Run(context.Background())
	require.NoError(t, err)
	require.Less(t, time.Since(started), time.Second)

	require.Equal(t, 6, report.Scanned)
	require.Equal(t, 5, report.Updated)
	require.Equal(t, 1, report.Failed)
	require.ErrorIs(t, report.Err, context.DeadlineExceeded)
	require.Equal(t, 2, store.attempts["content-002"])
	require.Contains(t, store.scores, "content-005")
}

func TestRunReportsReadFailureWithoutWrites(t *testing.T) {
	store := newMemoryStore(3)
	store.readErr = errors.New("connection refused")
	publisher := &recordingPublisher{}
	ranker, err := NewRanker(store, WithClock(fixedClock), WithPublisher(publisher))
	require.NoError(t, err)

	report, err := ranker.Run(context.Background())
	require.ErrorIs(t, err, ErrStoreRead)
	require.Zero(t, report.Updated)
	require.Empty(t, store.scores)
	require.Empty(t, publisher.messages)
}

func TestRunInvalidatesFeedCacheAndBroadcasts(t *testing.T) {
	feed := cache.NewExpiring(10)
	feed.Set(FeedCachePrefix+":20", "stale", 60)
	feed.Set("profile:tier:u1", "free", 60)

	publisher := &recordingPublisher{}
	ranker, err := NewRanker(newMemoryStore(2), WithClock(fixedClock), WithCache(feed), WithPublisher(publisher))
	require.NoError(t, err)

	_, err = ranker.Run(context.Background())
	require.NoError(t, err)

	_, ok := feed.Get(FeedCachePrefix + ":20")
	require.False(t, ok)
	_, ok = feed.Get("profile:tier:u1")
	require.True(t, ok)

	require.Len(t, publisher.messages, 1)
	require.Equal(t, realtime.StreamTrending, publisher.messages[0].Stream)
	require.Equal(t, realtime.EventTrendingUpdated, publisher.messages[0].Event)
}

func TestRunRejectsOverlappingRuns(t *testing.T) {
	ranker, err := NewRanker(newMemoryStore(1), WithClock(fixedClock))
	require.NoError(t, err)

	ranker.running.Lock()
	_, err = ranker.Run(context.Background())
	ranker.running.Unlock()
	require.ErrorIs(t, err, ErrRunInProgress)
}

func TestGormStoreReadsWindowAndWritesScores(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate(), testutil.WithSingleConnection())

	recent := testNow.Add(-2 * time.Hour)
	stale := testNow.Add(-40 * 24 * time.Hour)
	rows := []models.Content{
		{BaseModel: models.BaseModel{ID: "fresh"}, AuthorID: "a", Status: models.ContentPublished, PublishedAt: &recent, Views: 10, Likes: 3},
		{BaseModel: models.BaseModel{ID: "stale"}, AuthorID: "a", Status: models.ContentPublished, PublishedAt: &stale},
		{BaseModel: models.BaseModel{ID: "draft"}, AuthorID: "a", Status: models.ContentDraft, PublishedAt: &recent},
	}
	require.NoError(t, db.Create(&rows).Error)

	store, err := NewGormStore(db)
	require.NoError(t, err)
	ranker, err := NewRanker(store, WithClock(fixedClock))
	require.NoError(t, err)

	report, err := ranker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Scanned)
	require.Equal(t, 1, report.Updated)

	var fresh models.Content
	require.NoError(t, db.First(&fresh, "id = ?", "fresh").Error)
	require.InDelta(t, Score(Snapshot{Views: 10, Likes: 3, PublishedAt: recent}, testNow), fresh.TrendingScore, 0.001)
	require.NotNil(t, fresh.TrendingUpdatedAt)
	require.EqualValues(t, 3, fresh.Likes)

	top, err := store.Top(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "fresh", top[0].ID)

	require.Error(t, store.UpdateScore(context.Background(), "missing", 1, testNow))
}
