package v1

import (
	"encoding/json"
	"time"
)

// PublishIssueRequest is the body of POST /v1/admin/issues.
type PublishIssueRequest struct {
	Title          string `json:"title"`
	ContentText    string `json:"content_text"`
	ContentHTML    string `json:"content_html"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PublishIssueResponse is the saved (and replayed) body of an accepted publication.
type PublishIssueResponse struct {
	IssueID    string `json:"issue_id"`
	Recipients int    `json:"recipients"`
	Message    string `json:"message"`
}

type Issue struct {
	IssueID         string    `json:"issue_id"`
	Title           string    `json:"title"`
	TextContent     string    `json:"text_content"`
	HTMLContent     string    `json:"html_content"`
	PublishedAt     time.Time `json:"published_at"`
	PendingDelivery int64     `json:"pending_deliveries"`
}

type SubscribeRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (r *PublishIssueResponse) ToJSON() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		panic("newsletter: response serialization failed: " + err.Error())
	}
	return b
}
