package service

import (
	"context"
	"newsletter/internal/model"
	"newsletter/internal/repository"
	"newsletter/internal/repository/repotest"
	"newsletter/pkg/constraints"
	"newsletter/pkg/logger"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fakeSender struct {
	mu     sync.Mutex
	SendFn func(recipient string) error
	calls  []string
	sent   []sentMessage
}

type sentMessage struct {
	Recipient string
	Subject   string
	HTML      string
	Text      string
}

func (f *fakeSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recipient)
	if f.SendFn != nil {
		if err := f.SendFn(recipient); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMessage{Recipient: recipient, Subject: subject, HTML: htmlBody, Text: textBody})
	return nil
}

func (f *fakeSender) callsTo(recipient string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == recipient {
			n++
		}
	}
	return n
}

func (f *fakeSender) delivered() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	db     *gorm.DB
	issues *repository.IssueRepository
	queue  *repository.DeliveryQueueRepository
	subs   *repository.SubscriptionRepository
	idem   *repository.IdempotencyRepository
	news   *NewsletterService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := repotest.NewDB(t)
	f := &fixture{
		db:     db,
		issues: repository.NewIssueRepository(db),
		queue:  repository.NewDeliveryQueueRepository(db),
		subs:   repository.NewSubscriptionRepository(db),
		idem:   repository.NewIdempotencyRepository(db),
	}
	f.news = NewNewsletterService(f.issues, f.queue, f.subs)
	return f
}

func (f *fixture) executor(cfg IdempotencyConfig) *IdempotencyExecutor {
	return NewIdempotencyExecutor(f.db, f.idem, cfg, nil)
}

func (f *fixture) confirmed(t *testing.T, emails ...string) {
	t.Helper()
	for _, e := range emails {
		require.NoError(t, f.db.Create(&model.Subscription{
			ID:           uuid.NewString(),
			Email:        e,
			Name:         "Reader",
			SubscribedAt: time.Now().UTC(),
			Status:       constraints.StatusConfirmed,
		}).Error)
	}
}

func (f *fixture) count(t *testing.T, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}

// observeLogs routes the process logger into memory for the duration of the test.
func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(nil) })
	return logs
}
