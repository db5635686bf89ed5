package service

import (
	"context"
	"errors"
	"newsletter/internal/model"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var sampleInput = PublishInput{
	Title:       "Spring edition",
	TextContent: "Hello readers",
	HTMLContent: "<p>Hello readers</p>",
}

func TestExecute_ConcurrentSameKeyRunsOnce(t *testing.T) {
	f := newFixture(t)
	f.confirmed(t, "a@example.com", "b@example.com")
	exec := f.executor(IdempotencyConfig{Policy: PolicyWait, Wait: 5 * time.Second, Poll: 10 * time.Millisecond})

	var executions atomic.Int32
	fn := func(ctx context.Context, tx *gorm.DB) (*model.SavedResponse, error) {
		executions.Add(1)
		time.Sleep(50 * time.Millisecond)
		issue, n, err := f.news.Publish(ctx, tx, sampleInput)
		if err != nil {
			return nil, err
		}
		return AcceptedResponse(issue.ID, n), nil
	}

	const callers = 4
	responses := make([]*model.SavedResponse, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], _, errs[i] = exec.Execute(context.Background(), "u1", "k1", fn)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, responses[i])
		assert.Equal(t, responses[0].StatusCode, responses[i].StatusCode)
		assert.Equal(t, responses[0].Headers, responses[i].Headers)
		assert.Equal(t, string(responses[0].Body), string(responses[i].Body))
	}
	assert.Equal(t, int32(1), executions.Load())
	assert.Equal(t, int64(1), f.count(t, &model.NewsletterIssue{}))
	assert.Equal(t, int64(1), f.count(t, &model.IdempotencyRecord{}))
	assert.Equal(t, int64(2), f.count(t, &model.DeliveryTask{}))

	rec, err := f.idem.Get(context.Background(), "u1", "k1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Completed())
}

func TestExecute_FailedAttemptLeavesNoClaim(t *testing.T) {
	f := newFixture(t)
	f.confirmed(t, "a@example.com")
	exec := f.executor(IdempotencyConfig{Policy: PolicyFailFast})
	ctx := context.Background()

	boom := errors.New("storage hiccup")
	_, _, err := exec.Execute(ctx, "u1", "k1", func(ctx context.Context, tx *gorm.DB) (*model.SavedResponse, error) {
		if _, _, err := f.news.Publish(ctx, tx, sampleInput); err != nil {
			return nil, err
		}
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	rec, err := f.idem.Get(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Nil(t, rec, "claim must be rolled back with the business writes")
	assert.Zero(t, f.count(t, &model.NewsletterIssue{}))
	assert.Zero(t, f.count(t, &model.DeliveryTask{}))

	resp, replayed, err := f.news.PublishIdempotently(ctx, exec, "u1", "k1", sampleInput)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 202, resp.StatusCode)
	assert.Equal(t, int64(1), f.count(t, &model.NewsletterIssue{}))
}

func TestExecute_PanicRollsBack(t *testing.T) {
	f := newFixture(t)
	exec := f.executor(IdempotencyConfig{})

	assert.Panics(t, func() {
		_, _, _ = exec.Execute(context.Background(), "u1", "k1", func(ctx context.Context, tx *gorm.DB) (*model.SavedResponse, error) {
			panic("handler bug")
		})
	})

	rec, err := f.idem.Get(context.Background(), "u1", "k1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestExecute_InFlightFailFast(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&model.IdempotencyRecord{
		CallerID: "u1", IdempotencyKey: "k1", CreatedAt: time.Now().UTC(),
	}).Error)
	exec := f.executor(IdempotencyConfig{Policy: PolicyFailFast})

	called := false
	_, _, err := exec.Execute(context.Background(), "u1", "k1", func(ctx context.Context, tx *gorm.DB) (*model.SavedResponse, error) {
		called = true
		return AcceptedResponse("x", 0), nil
	})
	assert.ErrorIs(t, err, ErrRequestInFlight)
	assert.False(t, called)
}

func TestExecute_InFlightWaitsForResponse(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&model.IdempotencyRecord{
		CallerID: "u1", IdempotencyKey: "k1", CreatedAt: time.Now().UTC(),
	}).Error)
	exec := f.executor(IdempotencyConfig{Policy: PolicyWait, Wait: 5 * time.Second, Poll: 10 * time.Millisecond})

	want := AcceptedResponse("issue-from-first-caller", 3)
	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = f.idem.SaveResponse(context.Background(), "u1", "k1", want)
	}()

	called := false
	resp, replayed, err := exec.Execute(context.Background(), "u1", "k1", func(ctx context.Context, tx *gorm.DB) (*model.SavedResponse, error) {
		called = true
		return AcceptedResponse("second", 0), nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.False(t, called)
	assert.Equal(t, want.Body, resp.Body)
	assert.Equal(t, want.Headers, resp.Headers)
}

func TestExecute_InFlightWaitBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&model.IdempotencyRecord{
		CallerID: "u1", IdempotencyKey: "k1", CreatedAt: time.Now().UTC(),
	}).Error)
	exec := f.executor(IdempotencyConfig{Policy: PolicyWait, Wait: 50 * time.Millisecond, Poll: 10 * time.Millisecond})

	_, _, err := exec.Execute(context.Background(), "u1", "k1", func(ctx context.Context, tx *gorm.DB) (*model.SavedResponse, error) {
		return AcceptedResponse("x", 0), nil
	})
	assert.ErrorIs(t, err, ErrRequestInFlight)
}

func TestExecute_RejectsInvalidKeysBeforeStorage(t *testing.T) {
	f := newFixture(t)
	exec := f.executor(IdempotencyConfig{MaxKeyLength: 64})

	for name, key := range map[string]string{
		"empty":         "",
		"blank":         "   ",
		"too long":      strings.Repeat("k", 65),
		"control chars": "abc\x00def",
		"invalid utf8":  "\xff\xfe",
	} {
		t.Run(name, func(t *testing.T) {
			called := false
			_, _, err := exec.Execute(context.Background(), "u1", key, func(ctx context.Context, tx *gorm.DB) (*model.SavedResponse, error) {
				called = true
				return AcceptedResponse("x", 0), nil
			})
			ve, ok := AsValidation(err)
			require.True(t, ok, "expected validation error, got %v", err)
			assert.Equal(t, "idempotency_key", ve.Field)
			assert.False(t, called)
		})
	}
	assert.Zero(t, f.count(t, &model.IdempotencyRecord{}))
}

func TestExecute_CallerIDBoundedByColumn(t *testing.T) {
	f := newFixture(t)
	exec := f.executor(IdempotencyConfig{})

	called := false
	_, _, err := exec.Execute(context.Background(), strings.Repeat("u", model.MaxCallerIDLength+1), "k1", func(ctx context.Context, tx *gorm.DB) (*model.SavedResponse, error) {
		called = true
		return AcceptedResponse("x", 0), nil
	})
	ve, ok := AsValidation(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.Equal(t, "caller_id", ve.Field)
	assert.False(t, called)
	assert.Zero(t, f.count(t, &model.IdempotencyRecord{}))

	_, replayed, err := f.news.PublishIdempotently(context.Background(), exec, strings.Repeat("u", model.MaxCallerIDLength), "k1", sampleInput)
	require.NoError(t, err)
	assert.False(t, replayed)
}

func TestExecute_MaxLengthKeyAccepted(t *testing.T) {
	f := newFixture(t)
	exec := f.executor(IdempotencyConfig{MaxKeyLength: 64})

	_, replayed, err := f.news.PublishIdempotently(context.Background(), exec, "u1", strings.Repeat("k", 64), sampleInput)
	require.NoError(t, err)
	assert.False(t, replayed)
}
