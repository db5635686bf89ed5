package req

// PublishIssueRequest carries no binding rules: a retry of a completed key is replayed even
// when its body is incomplete, so content is checked by the service.
type PublishIssueRequest struct {
	Title          string `json:"title"`
	ContentText    string `json:"content_text"`
	ContentHTML    string `json:"content_html"`
	IdempotencyKey string `json:"idempotency_key"`
}

type GetIssueRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type ListIssuesRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}
