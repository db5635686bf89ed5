package api

import (
	"context"
	"net/http"
	"newsletter/internal/dto/req"
	"newsletter/internal/dto/resp"
	"newsletter/internal/model"
	"newsletter/internal/service"
	v1 "newsletter/pkg/api/v1"
	"newsletter/pkg/constraints"

	"github.com/gin-gonic/gin"
)

type IssueProvider interface {
	PublishIdempotently(ctx context.Context, exec *service.IdempotencyExecutor, callerID, key string, in service.PublishInput) (*model.SavedResponse, bool, error)
	GetIssue(ctx context.Context, id string) (*v1.Issue, error)
	ListIssues(ctx context.Context, limit int) ([]v1.Issue, error)
}

type IssueHandler struct {
	service IssueProvider
	exec    *service.IdempotencyExecutor
}

func NewIssueHandler(service IssueProvider, exec *service.IdempotencyExecutor) *IssueHandler {
	return &IssueHandler{
		service: service,
		exec:    exec,
	}
}

// PublishIssue accepts an issue for delivery. The idempotency key comes from the body or,
// when that is empty, from the Idempotency-Key header.
func (h *IssueHandler) PublishIssue(c *gin.Context) {
	var r req.PublishIssueRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, v1.ErrorResponse{Error: "request body must be a JSON object"})
		return
	}
	key := r.IdempotencyKey
	if key == "" {
		key = c.GetHeader(constraints.HeaderIdempotencyKey)
	}
	callerID := service.CallerID(c.Request.Context())
	if callerID == "" {
		c.JSON(http.StatusUnauthorized, v1.ErrorResponse{Error: "caller identity missing"})
		return
	}

	saved, _, err := h.service.PublishIdempotently(c.Request.Context(), h.exec, callerID, key, service.PublishInput{
		Title:       r.Title,
		TextContent: r.ContentText,
		HTMLContent: r.ContentHTML,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeSaved(c, saved)
}

// writeSaved writes a stored response exactly as it was produced.
func writeSaved(c *gin.Context, saved *model.SavedResponse) {
	header := c.Writer.Header()
	for _, h := range saved.Headers {
		header.Add(h.Name, string(h.Value))
	}
	c.Writer.WriteHeader(saved.StatusCode)
	_, _ = c.Writer.Write(saved.Body)
}

func (h *IssueHandler) GetIssue(c *gin.Context) {
	var r req.GetIssueRequest
	if err := c.ShouldBindUri(&r); err != nil {
		c.JSON(http.StatusBadRequest, v1.ErrorResponse{Error: "invalid issue id"})
		return
	}
	issue, err := h.service.GetIssue(c.Request.Context(), r.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *IssueHandler) ListIssues(c *gin.Context) {
	var r req.ListIssuesRequest
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, v1.ErrorResponse{Error: "invalid limit"})
		return
	}
	issues, err := h.service.ListIssues(c.Request.Context(), r.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.ListIssuesResponse{Data: issues})
}
