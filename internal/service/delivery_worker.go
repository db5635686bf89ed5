package service

import (
	"context"
	"fmt"
	"newsletter/internal/email"
	"newsletter/internal/metrics"
	"newsletter/internal/model"
	"newsletter/internal/repository"
	"newsletter/pkg/logger"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type ExecutionOutcome int

const (
	TaskCompleted ExecutionOutcome = iota
	EmptyQueue
)

type WorkerConfig struct {
	IdleInterval      time.Duration
	ErrorInterval     time.Duration
	SendTimeout       time.Duration
	SendRatePerSecond float64
	Retry             RetryPolicy
}

// DeliveryWorker drains the delivery queue one task at a time. Any number of workers may run
// against the same database; the row lock taken by Dequeue keeps them off each other's tasks.
type DeliveryWorker struct {
	db       *gorm.DB
	queue    repository.DeliveryQueueInterface
	issues   repository.IssueInterface
	sender   email.Sender
	validate *validator.Validate
	limiter  *rate.Limiter
	cfg      WorkerConfig
	observer metrics.DeliveryObserver
	now      func() time.Time
}

func NewDeliveryWorker(db *gorm.DB, queue repository.DeliveryQueueInterface, issues repository.IssueInterface, sender email.Sender, cfg WorkerConfig, observer metrics.DeliveryObserver) *DeliveryWorker {
	if observer == nil {
		observer = metrics.Nop{}
	}
	w := &DeliveryWorker{
		db:       db,
		queue:    queue,
		issues:   issues,
		sender:   sender,
		validate: validator.New(),
		cfg:      cfg,
		observer: observer,
		now:      time.Now,
	}
	if cfg.SendRatePerSecond > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.SendRatePerSecond), 1)
	}
	return w
}

// Run loops until ctx is cancelled. A task already claimed when ctx is cancelled is finished on
// a detached context, so its row is either advanced or released, never left half-done.
func (w *DeliveryWorker) Run(ctx context.Context) {
	logger.Info("delivery worker started")
	defer logger.Info("delivery worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}

		outcome, err := w.TryExecuteTask(context.WithoutCancel(ctx))
		switch {
		case err != nil:
			logger.Error("delivery attempt failed", zap.Error(err))
			sleepCtx(ctx, w.cfg.ErrorInterval)
		case outcome == EmptyQueue:
			sleepCtx(ctx, w.cfg.IdleInterval)
		}
	}
}

// TryExecuteTask claims one eligible task, attempts it and advances it, all in one transaction.
// An error means the transaction was rolled back and the task is eligible again.
func (w *DeliveryWorker) TryExecuteTask(ctx context.Context) (outcome ExecutionOutcome, err error) {
	tx := w.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, fmt.Errorf("begin transaction: %w", tx.Error)
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

	task, err := w.queue.WithTx(tx).Dequeue(ctx, w.now())
	if err != nil {
		return 0, err
	}
	if task == nil {
		return EmptyQueue, nil
	}

	if err := w.process(ctx, tx, task); err != nil {
		return TaskCompleted, err
	}
	if err := tx.Commit().Error; err != nil {
		return TaskCompleted, fmt.Errorf("commit delivery task: %w", err)
	}
	committed = true
	return TaskCompleted, nil
}

func (w *DeliveryWorker) process(ctx context.Context, tx *gorm.DB, task *model.DeliveryTask) error {
	queue := w.queue.WithTx(tx)

	if err := w.validate.Var(task.RecipientEmail, "required,email"); err != nil {
		return w.dropPermanent(ctx, queue, task, fmt.Errorf("invalid recipient address: %w", err))
	}

	issue, err := w.issues.WithTx(tx).Get(ctx, task.IssueID)
	if err != nil {
		return err
	}
	if issue == nil {
		logger.Warn("delivery task references a missing issue, dropping it",
			zap.String("issue_id", task.IssueID),
			zap.String("recipient", task.RecipientEmail))
		return queue.Delete(ctx, task)
	}

	sendCtx := ctx
	if w.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, w.cfg.SendTimeout)
		defer cancel()
	}
	start := time.Now()
	sendErr := w.sender.Send(sendCtx, task.RecipientEmail, issue.Title, issue.HTMLContent, issue.TextContent)
	w.observer.ObserveSendLatency(time.Since(start).Seconds())

	switch {
	case sendErr == nil:
		if err := queue.Delete(ctx, task); err != nil {
			return err
		}
		w.observer.RecordDelivered()
		logger.Debug("newsletter delivered",
			zap.String("issue_id", task.IssueID),
			zap.String("recipient", task.RecipientEmail))
		return nil
	case email.IsPermanent(sendErr):
		return w.dropPermanent(ctx, queue, task, sendErr)
	case w.cfg.Retry.Exhausted(task.NRetries):
		if err := queue.Delete(ctx, task); err != nil {
			return err
		}
		w.observer.RecordAbandoned()
		logger.Error("delivery abandoned after retries",
			zap.String("issue_id", task.IssueID),
			zap.String("recipient", task.RecipientEmail),
			zap.Int("n_retries", task.NRetries),
			zap.Error(sendErr))
		return nil
	default:
		nRetries := task.NRetries + 1
		next := w.now().Add(w.cfg.Retry.Backoff(nRetries))
		if err := queue.Reschedule(ctx, task, nRetries, next, sendErr.Error()); err != nil {
			return err
		}
		w.observer.RecordRetry()
		logger.Warn("transient delivery failure, retry scheduled",
			zap.String("issue_id", task.IssueID),
			zap.String("recipient", task.RecipientEmail),
			zap.Int("n_retries", nRetries),
			zap.Time("execute_after", next),
			zap.Error(sendErr))
		return nil
	}
}

func (w *DeliveryWorker) dropPermanent(ctx context.Context, queue repository.DeliveryQueueInterface, task *model.DeliveryTask, cause error) error {
	if err := queue.Delete(ctx, task); err != nil {
		return err
	}
	w.observer.RecordPermanentFailure()
	logger.Warn("permanent delivery failure, skipping recipient",
		zap.String("issue_id", task.IssueID),
		zap.String("recipient", task.RecipientEmail),
		zap.Error(cause))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
