package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/feedguard/internal/database/testutil"
	"github.com/charlesng35/feedguard/internal/models"
	"github.com/charlesng35/feedguard/internal/realtime"
	"github.com/charlesng35/feedguard/pkg/retry"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []realtime.Message
	users    []string
}

func (p *recordingPublisher) BroadcastToUser(stream, userID string, message realtime.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	message.Stream = stream
	p.messages = append(p.messages, message)
	p.users = append(p.users, userID)
}

func (p *recordingPublisher) BroadcastStream(stream string, message realtime.Message) {
	p.BroadcastToUser(stream, "", message)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type notificationFixture struct {
	db    *gorm.DB
	svc   *NotificationService
	hub   *recordingPublisher
	clock time.Time
}

func newNotificationFixture(t *testing.T) *notificationFixture {
	t.Helper()

	f := &notificationFixture{
		db:    testutil.MustOpenTestDB(t, testutil.WithAutoMigrate()),
		hub:   &recordingPublisher{},
		clock: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewNotificationService(f.db, f.hub, WithNotificationClock(func() time.Time { return f.clock }))
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *notificationFixture) count(t *testing.T, userID string) int64 {
	t.Helper()
	var total int64
	require.NoError(t, f.db.Model(&models.Notification{}).Where("user_id = ?", userID).Count(&total).Error)
	return total
}

func likeFrom(actor string) CreateNotificationInput {
	return CreateNotificationInput{
		UserID:     "author-1",
		ActorID:    actor,
		Type:       NotificationLike,
		ObjectType: "content",
		ObjectID:   "content-1",
	}
}

func TestNotificationServiceRequiresDB(t *testing.T) {
	_, err := NewNotificationService(nil, nil)
	require.Error(t, err)
}

func TestNotificationCreateInsertsAndBroadcasts(t *testing.T) {
	f := newNotificationFixture(t)

	outcome, err := f.svc.Create(context.Background(), likeFrom("fan-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)
	require.EqualValues(t, 1, f.count(t, "author-1"))

	require.Equal(t, 1, f.hub.count())
	require.Equal(t, realtime.StreamNotifications, f.hub.messages[0].Stream)
	require.Equal(t, realtime.EventNotificationCreated, f.hub.messages[0].Event)
	require.Equal(t, "author-1", f.hub.users[0])
}

func TestNotificationCreateSkipsSelf(t *testing.T) {
	f := newNotificationFixture(t)

	outcome, err := f.svc.Create(context.Background(), CreateNotificationInput{
		UserID: "author-1", ActorID: "author-1", Type: NotificationLike,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSkippedSelf, outcome)

	outcome, err = f.svc.Create(context.Background(), CreateNotificationInput{
		UserID: "author-1", ActorID: "author-1", Type: NotificationMilestone,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)
	require.EqualValues(t, 1, f.count(t, "author-1"))
}

func TestNotificationCreateSkipsPausedRecipient(t *testing.T) {
	f := newNotificationFixture(t)

	pausedUntil := f.clock.Add(2 * time.Hour)
	require.NoError(t, f.db.Create(&models.Profile{
		ID:                       "author-1",
		Username:                 "author",
		NotificationsPausedUntil: &pausedUntil,
	}).Error)

	outcome, err := f.svc.Create(context.Background(), likeFrom("fan-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSkippedPaused, outcome)

	f.clock = f.clock.Add(3 * time.Hour)
	outcome, err = f.svc.Create(context.Background(), likeFrom("fan-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)
}

func TestNotificationCreateSkipsMutedType(t *testing.T) {
	f := newNotificationFixture(t)

	require.NoError(t, f.db.Create(&models.Profile{
		ID:                   "author-1",
		Username:             "author",
		NotificationSettings: datatypes.JSON(`[{"types":{"like":false,"comment":true}}]`),
	}).Error)

	outcome, err := f.svc.Create(context.Background(), likeFrom("fan-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSkippedMuted, outcome)

	comment := likeFrom("fan-1")
	comment.Type = NotificationComment
	outcome, err = f.svc.Create(context.Background(), comment)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	save := likeFrom("fan-1")
	save.Type = NotificationSave
	outcome, err = f.svc.Create(context.Background(), save)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome, "types absent from settings stay enabled")
}

func TestNotificationCreateSuppressesDuplicatesWithinWindow(t *testing.T) {
	f := newNotificationFixture(t)
	ctx := context.Background()

	outcome, err := f.svc.Create(ctx, likeFrom("fan-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	f.clock = f.clock.Add(23 * time.Hour)
	outcome, err = f.svc.Create(ctx, likeFrom("fan-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSkippedDuplicate, outcome)

	other := likeFrom("fan-1")
	other.ObjectID = "content-2"
	outcome, err = f.svc.Create(ctx, other)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome, "a different object is not a duplicate")

	f.clock = f.clock.Add(2 * time.Hour)
	outcome, err = f.svc.Create(ctx, likeFrom("fan-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	require.EqualValues(t, 3, f.count(t, "author-1"))
}

func TestNotificationCreateWithoutObjectMatchesAnyObject(t *testing.T) {
	f := newNotificationFixture(t)
	ctx := context.Background()

	outcome, err := f.svc.Create(ctx, likeFrom("fan-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	outcome, err = f.svc.Create(ctx, CreateNotificationInput{UserID: "author-1", ActorID: "fan-1", Type: NotificationLike})
	require.NoError(t, err)
	require.Equal(t, OutcomeSkippedDuplicate, outcome)
}

func TestNotificationCreateRejectsIncompleteInput(t *testing.T) {
	f := newNotificationFixture(t)

	outcome, err := f.svc.Create(context.Background(), CreateNotificationInput{UserID: "author-1", Type: NotificationLike})
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, outcome)
}

func TestNotificationCreateReportsStoreFailure(t *testing.T) {
	f := newNotificationFixture(t)
	require.NoError(t, f.db.Migrator().DropTable(&models.Notification{}))

	outcome, err := f.svc.Create(context.Background(), likeFrom("fan-1"))
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, outcome)
}

func TestNotificationCreateRetriesTransientReadFailures(t *testing.T) {
	f := newNotificationFixture(t)
	svc, err := NewNotificationService(f.db, f.hub,
		WithNotificationClock(func() time.Time { return f.clock }),
		WithNotificationRetryPolicy(retry.Policy{Timeout: time.Second, Delay: time.Millisecond, Attempts: 2}),
	)
	require.NoError(t, err)

	failures := map[string]int{}
	require.NoError(t, f.db.Callback().Query().Before("gorm:query").Register("test:flaky_read", func(tx *gorm.DB) {
		table := tx.Statement.Table
		if table != "profiles" && table != "notifications" {
			return
		}
		if failures[table] == 0 {
			_ = tx.AddError(errors.New("connection reset by peer"))
		}
		failures[table]++
	}))

	outcome, err := svc.Create(context.Background(), likeFrom("fan-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)
	require.Equal(t, 2, failures["profiles"])
	require.Equal(t, 2, failures["notifications"])
	require.NoError(t, f.db.Callback().Query().Remove("test:flaky_read"))
	require.EqualValues(t, 1, f.count(t, "author-1"))
}

func TestNotificationDispatchRunsInBackground(t *testing.T) {
	f := newNotificationFixture(t)
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ctx, cancel := context.WithCancel(context.Background())
	f.svc.Dispatch(ctx, likeFrom("fan-1"))
	f.svc.Dispatch(ctx, likeFrom("fan-2"))
	cancel()
	f.svc.Wait()

	require.EqualValues(t, 2, f.count(t, "author-1"))
}

func TestNotificationListAndMarkRead(t *testing.T) {
	f := newNotificationFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, likeFrom("fan-1"))
	require.NoError(t, err)
	f.clock = f.clock.Add(time.Minute)
	_, err = f.svc.Create(ctx, likeFrom("fan-2"))
	require.NoError(t, err)

	items, err := f.svc.ListForUser(ctx, ListNotificationsInput{UserID: "author-1"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "fan-2", items[0].ActorID)
	require.Equal(t, "content-1", items[0].ObjectID)

	dto, err := f.svc.MarkRead(ctx, "author-1", items[0].ID)
	require.NoError(t, err)
	require.True(t, dto.IsRead)
	require.NotNil(t, dto.ReadAt)

	unread, err := f.svc.ListForUser(ctx, ListNotificationsInput{UserID: "author-1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)

	_, err = f.svc.MarkRead(ctx, "someone-else", items[1].ID)
	require.Error(t, err)

	changed, err := f.svc.MarkAllRead(ctx, "author-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, changed)

	unread, err = f.svc.ListForUser(ctx, ListNotificationsInput{UserID: "author-1", UnreadOnly: true})
	require.NoError(t, err)
	require.Empty(t, unread)
}
