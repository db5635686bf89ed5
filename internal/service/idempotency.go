package service

import (
	"context"
	"errors"
	"fmt"
	"newsletter/internal/metrics"
	"newsletter/internal/model"
	"newsletter/internal/repository"
	"newsletter/pkg/logger"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InFlightPolicy decides what a request does when its key is held by an unfinished execution.
type InFlightPolicy string

const (
	// PolicyWait polls until the other execution saves its response or the wait budget runs out.
	PolicyWait InFlightPolicy = "wait"
	// PolicyFailFast rejects immediately.
	PolicyFailFast InFlightPolicy = "fail_fast"
)

type IdempotencyConfig struct {
	MaxKeyLength int
	Policy       InFlightPolicy
	Wait         time.Duration
	Poll         time.Duration
}

// BusinessFunc produces the response for a freshly claimed key. Every write must go through tx.
type BusinessFunc func(ctx context.Context, tx *gorm.DB) (*model.SavedResponse, error)

// IdempotencyExecutor runs a BusinessFunc at most once per (caller, key) and replays the saved
// response to every later request with the same key.
type IdempotencyExecutor struct {
	db       *gorm.DB
	repo     repository.IdempotencyInterface
	cfg      IdempotencyConfig
	observer metrics.IdempotencyObserver
}

func NewIdempotencyExecutor(db *gorm.DB, repo repository.IdempotencyInterface, cfg IdempotencyConfig, observer metrics.IdempotencyObserver) *IdempotencyExecutor {
	if cfg.MaxKeyLength <= 0 {
		cfg.MaxKeyLength = 64
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyWait
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 100 * time.Millisecond
	}
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &IdempotencyExecutor{db: db, repo: repo, cfg: cfg, observer: observer}
}

// ValidateKey normalises an idempotency key or explains why it is unusable.
func (e *IdempotencyExecutor) ValidateKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", invalid("idempotency_key", "must not be empty")
	}
	if !utf8.ValidString(key) {
		return "", invalid("idempotency_key", "must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(key); n > e.cfg.MaxKeyLength {
		return "", invalid("idempotency_key", fmt.Sprintf("must be at most %d characters long, got %d", e.cfg.MaxKeyLength, n))
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return "", invalid("idempotency_key", "must not contain control characters")
		}
	}
	return key, nil
}

// Execute returns the response for (callerID, key) and whether it was replayed from storage.
// Invalid keys fail before any transaction is opened.
func (e *IdempotencyExecutor) Execute(ctx context.Context, callerID, key string, fn BusinessFunc) (*model.SavedResponse, bool, error) {
	key, err := e.ValidateKey(key)
	if err != nil {
		return nil, false, err
	}
	if callerID == "" {
		return nil, false, errors.New("idempotent execution requires a caller identity")
	}
	if n := utf8.RuneCountInString(callerID); n > model.MaxCallerIDLength {
		return nil, false, invalid("caller_id", fmt.Sprintf("must be at most %d characters long, got %d", model.MaxCallerIDLength, n))
	}

	deadline := time.Now().Add(e.cfg.Wait)
	for {
		outcome, resp, err := e.attempt(ctx, callerID, key, fn)
		if err != nil {
			return nil, false, err
		}

		switch outcome {
		case repository.ClaimAcquired:
			e.observer.RecordExecuted()
			return resp, false, nil
		case repository.ClaimCompleted:
			e.observer.RecordReplayed()
			logger.Info("idempotent replay",
				zap.String("caller_id", callerID),
				zap.String("idempotency_key", key),
				zap.Int("status", resp.StatusCode))
			return resp, true, nil
		}

		if e.cfg.Policy == PolicyFailFast || !time.Now().Add(e.cfg.Poll).Before(deadline) {
			e.observer.RecordInFlightRejected()
			logger.Warn("idempotency key in flight",
				zap.String("caller_id", callerID),
				zap.String("idempotency_key", key),
				zap.String("policy", string(e.cfg.Policy)))
			return nil, false, ErrRequestInFlight
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(e.cfg.Poll):
		}
	}
}

// attempt runs one claim in its own transaction. Only ClaimAcquired commits; every other path
// rolls back so that nothing of a failed execution survives, the claim row included.
func (e *IdempotencyExecutor) attempt(ctx context.Context, callerID, key string, fn BusinessFunc) (outcome repository.ClaimOutcome, resp *model.SavedResponse, err error) {
	tx := e.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}

	committed := false
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
		if !committed {
			tx.Rollback()
		}
	}()

	repo := e.repo.WithTx(tx)
	outcome, saved, err := repo.Claim(ctx, callerID, key)
	if err != nil {
		return 0, nil, err
	}
	if outcome != repository.ClaimAcquired {
		return outcome, saved, nil
	}

	resp, err = fn(ctx, tx)
	if err != nil {
		return outcome, nil, err
	}
	if resp == nil {
		return outcome, nil, errors.New("business function returned no response")
	}
	if err := repo.SaveResponse(ctx, callerID, key, resp); err != nil {
		return outcome, nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return outcome, nil, fmt.Errorf("commit idempotent execution: %w", err)
	}
	committed = true
	return repository.ClaimAcquired, resp, nil
}
