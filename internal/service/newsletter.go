package service

import (
	"context"
	"fmt"
	"net/http"
	"newsletter/internal/model"
	"newsletter/internal/repository"
	v1 "newsletter/pkg/api/v1"
	"newsletter/pkg/logger"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const AcceptedMessage = "The newsletter issue has been accepted - emails will go out shortly."

type PublishInput struct {
	Title       string
	TextContent string
	HTMLContent string
}

// Validate rejects input that can never be published.
func (in PublishInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return invalid("title", "must not be empty")
	}
	if strings.TrimSpace(in.TextContent) == "" {
		return invalid("content_text", "must not be empty")
	}
	if strings.TrimSpace(in.HTMLContent) == "" {
		return invalid("content_html", "must not be empty")
	}
	return nil
}

// NewsletterService stores issues and fans them out to the delivery queue.
type NewsletterService struct {
	issues repository.IssueInterface
	queue  repository.DeliveryQueueInterface
	subs   repository.SubscriptionInterface
	now    func() time.Time
}

func NewNewsletterService(issues repository.IssueInterface, queue repository.DeliveryQueueInterface, subs repository.SubscriptionInterface) *NewsletterService {
	return &NewsletterService{
		issues: issues,
		queue:  queue,
		subs:   subs,
		now:    time.Now,
	}
}

// Publish inserts the issue and one delivery task per currently confirmed subscriber, all inside
// tx. Subscribers confirmed after this call are not part of the issue.
func (s *NewsletterService) Publish(ctx context.Context, tx *gorm.DB, in PublishInput) (*model.NewsletterIssue, int, error) {
	if err := in.Validate(); err != nil {
		return nil, 0, err
	}

	now := s.now().UTC()
	issue := &model.NewsletterIssue{
		ID:          uuid.NewString(),
		Title:       in.Title,
		TextContent: in.TextContent,
		HTMLContent: in.HTMLContent,
		PublishedAt: now,
	}
	if err := s.issues.WithTx(tx).Create(ctx, issue); err != nil {
		return nil, 0, err
	}

	recipients, err := s.subs.WithTx(tx).ListConfirmedEmails(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list confirmed subscribers: %w", err)
	}
	n, err := s.queue.WithTx(tx).Enqueue(ctx, issue.ID, recipients, now)
	if err != nil {
		return nil, 0, err
	}
	return issue, n, nil
}

// PublishIdempotently publishes through the executor and returns the accepted response, which
// is identical for the first execution and every replay. A completed key is replayed whatever
// the content of the retry; the content is only validated when the key is executed.
func (s *NewsletterService) PublishIdempotently(ctx context.Context, exec *IdempotencyExecutor, callerID, key string, in PublishInput) (*model.SavedResponse, bool, error) {
	return exec.Execute(ctx, callerID, key, func(ctx context.Context, tx *gorm.DB) (*model.SavedResponse, error) {
		issue, n, err := s.Publish(ctx, tx, in)
		if err != nil {
			return nil, err
		}
		logger.Info("newsletter issue accepted",
			zap.String("issue_id", issue.ID),
			zap.Int("recipients", n),
			zap.String("caller_id", callerID))
		return AcceptedResponse(issue.ID, n), nil
	})
}

func (s *NewsletterService) GetIssue(ctx context.Context, id string) (*v1.Issue, error) {
	issue, err := s.issues.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, ErrIssueNotFound
	}
	pending, err := s.queue.CountByIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	out := toIssue(issue)
	out.PendingDelivery = pending
	return &out, nil
}

func (s *NewsletterService) ListIssues(ctx context.Context, limit int) ([]v1.Issue, error) {
	issues, err := s.issues.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]v1.Issue, 0, len(issues))
	for i := range issues {
		out = append(out, toIssue(&issues[i]))
	}
	return out, nil
}

func toIssue(m *model.NewsletterIssue) v1.Issue {
	return v1.Issue{
		IssueID:     m.ID,
		Title:       m.Title,
		TextContent: m.TextContent,
		HTMLContent: m.HTMLContent,
		PublishedAt: m.PublishedAt,
	}
}

// AcceptedResponse is the 202 answer to a publish request.
func AcceptedResponse(issueID string, recipients int) *model.SavedResponse {
	body := (&v1.PublishIssueResponse{
		IssueID:    issueID,
		Recipients: recipients,
		Message:    AcceptedMessage,
	}).ToJSON()
	return &model.SavedResponse{
		StatusCode: http.StatusAccepted,
		Headers: []model.HeaderPair{
			{Name: "Content-Type", Value: []byte("application/json; charset=utf-8")},
			{Name: "Location", Value: []byte("/v1/admin/issues/" + issueID)},
		},
		Body: body,
	}
}
