package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"newsletter/internal/model"
	"newsletter/internal/repository"
	"newsletter/internal/repository/repotest"
	"newsletter/internal/service"
	v1 "newsletter/pkg/api/v1"
	"newsletter/pkg/constraints"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type captureSender struct {
	mu   sync.Mutex
	html []string
}

func (s *captureSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = append(s.html, htmlBody)
	return nil
}

type testServer struct {
	db     *gorm.DB
	router *gin.Engine
	token  string
	mail   *captureSender
}

func newTestServer(t *testing.T, policy service.InFlightPolicy) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := repotest.NewDB(t)
	issues := repository.NewIssueRepository(db)
	queue := repository.NewDeliveryQueueRepository(db)
	subs := repository.NewSubscriptionRepository(db)
	idem := repository.NewIdempotencyRepository(db)

	mail := &captureSender{}
	news := service.NewNewsletterService(issues, queue, subs)
	exec := service.NewIdempotencyExecutor(db, idem, service.IdempotencyConfig{
		MaxKeyLength: 64,
		Policy:       policy,
		Wait:         2 * time.Second,
		Poll:         10 * time.Millisecond,
	}, nil)
	subSvc := service.NewSubscriptionService(db, subs, mail, "http://localhost:8080")
	tokens := service.NewTokenService("test-key", "newsletter", time.Hour)

	router := RegisterRoutes(
		NewIssueHandler(news, exec),
		NewSubscriptionHandler(subSvc),
		NewHealthHandler(func(ctx context.Context) error { return repository.Ping(ctx, db) }),
		tokens,
		nil,
		1000,
		false,
	)
	token, err := tokens.Mint("editor-"+uuid.NewString(), "editor", "admin")
	require.NoError(t, err)
	return &testServer{db: db, router: router, token: token, mail: mail}
}

func (s *testServer) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.token}
}

func (s *testServer) confirmed(t *testing.T, emails ...string) {
	for _, e := range emails {
		require.NoError(t, s.db.Create(&model.Subscription{
			ID: uuid.NewString(), Email: e, Name: "R", SubscribedAt: time.Now().UTC(), Status: constraints.StatusConfirmed,
		}).Error)
	}
}

func issueBody(key string) v1.PublishIssueRequest {
	return v1.PublishIssueRequest{
		Title:          "Weekly",
		ContentText:    "plain",
		ContentHTML:    "<p>html</p>",
		IdempotencyKey: key,
	}
}

func TestPublishIssue_ReplayIsIdentical(t *testing.T) {
	s := newTestServer(t, service.PolicyWait)
	s.confirmed(t, "a@example.com", "b@example.com")

	first := s.do(http.MethodPost, "/v1/admin/issues", issueBody("key-1"), s.auth())
	require.Equal(t, http.StatusAccepted, first.Code, first.Body.String())

	var body v1.PublishIssueResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Recipients)
	assert.Equal(t, service.AcceptedMessage, body.Message)
	assert.Equal(t, "/v1/admin/issues/"+body.IssueID, first.Header().Get("Location"))

	second := s.do(http.MethodPost, "/v1/admin/issues", issueBody("key-1"), s.auth())
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, first.Header().Get("Location"), second.Header().Get("Location"))
	assert.Equal(t, first.Header().Get("Content-Type"), second.Header().Get("Content-Type"))

	var issues int64
	require.NoError(t, s.db.Model(&model.NewsletterIssue{}).Count(&issues).Error)
	assert.Equal(t, int64(1), issues)
}

func TestPublishIssue_ConcurrentDuplicates(t *testing.T) {
	s := newTestServer(t, service.PolicyWait)
	s.confirmed(t, "a@example.com")

	const n = 5
	bodies := make([][]byte, n)
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := s.do(http.MethodPost, "/v1/admin/issues", issueBody("same-key"), s.auth())
			codes[i], bodies[i] = w.Code, w.Body.Bytes()
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, http.StatusAccepted, codes[i])
		assert.Equal(t, bodies[0], bodies[i])
	}
	var issues int64
	require.NoError(t, s.db.Model(&model.NewsletterIssue{}).Count(&issues).Error)
	assert.Equal(t, int64(1), issues)
}

func TestPublishIssue_HeaderKeyFallback(t *testing.T) {
	s := newTestServer(t, service.PolicyWait)

	header := s.auth()
	header[constraints.HeaderIdempotencyKey] = "from-header"
	first := s.do(http.MethodPost, "/v1/admin/issues", issueBody(""), header)
	require.Equal(t, http.StatusAccepted, first.Code)
	second := s.do(http.MethodPost, "/v1/admin/issues", issueBody(""), header)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestPublishIssue_Errors(t *testing.T) {
	s := newTestServer(t, service.PolicyFailFast)

	w := s.do(http.MethodPost, "/v1/admin/issues", issueBody("k"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/v1/admin/issues", issueBody(""), s.auth())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errBody v1.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errBody))
	assert.Equal(t, "idempotency_key", errBody.Field)

	w = s.do(http.MethodPost, "/v1/admin/issues", map[string]string{"title": "only a title", "idempotency_key": "partial"}, s.auth())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errBody = v1.ErrorResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errBody))
	assert.Equal(t, "content_text", errBody.Field)

	long, err := service.NewTokenService("test-key", "newsletter", time.Hour).Mint(strings.Repeat("u", model.MaxCallerIDLength+1), "editor", "admin")
	require.NoError(t, err)
	w = s.do(http.MethodPost, "/v1/admin/issues", issueBody("k"), map[string]string{"Authorization": "Bearer " + long})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errBody = v1.ErrorResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errBody))
	assert.Equal(t, "caller_id", errBody.Field)

	var records int64
	require.NoError(t, s.db.Model(&model.IdempotencyRecord{}).Count(&records).Error)
	assert.Zero(t, records)
}

func TestPublishIssue_RetryWithEmptyBodyReplays(t *testing.T) {
	s := newTestServer(t, service.PolicyWait)
	s.confirmed(t, "a@example.com")

	first := s.do(http.MethodPost, "/v1/admin/issues", issueBody("key-1"), s.auth())
	require.Equal(t, http.StatusAccepted, first.Code, first.Body.String())

	header := s.auth()
	header[constraints.HeaderIdempotencyKey] = "key-1"
	retry := s.do(http.MethodPost, "/v1/admin/issues", map[string]string{}, header)
	assert.Equal(t, http.StatusAccepted, retry.Code)
	assert.Equal(t, first.Body.Bytes(), retry.Body.Bytes())
	assert.Equal(t, first.Header().Get("Location"), retry.Header().Get("Location"))
}

func TestPublishIssue_InFlightFailFast(t *testing.T) {
	s := newTestServer(t, service.PolicyFailFast)

	// the token's subject is the caller the key is scoped to
	tokens := service.NewTokenService("test-key", "newsletter", time.Hour)
	claims, err := tokens.Parse(s.token)
	require.NoError(t, err)
	require.NoError(t, s.db.Create(&model.IdempotencyRecord{
		CallerID: claims.UserID, IdempotencyKey: "busy", CreatedAt: time.Now().UTC(),
	}).Error)

	w := s.do(http.MethodPost, "/v1/admin/issues", issueBody("busy"), s.auth())
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "1", w.Header().Get(constraints.HeaderRetryAfter))
}

func TestGetAndListIssues(t *testing.T) {
	s := newTestServer(t, service.PolicyWait)
	s.confirmed(t, "a@example.com")

	created := s.do(http.MethodPost, "/v1/admin/issues", issueBody("k"), s.auth())
	require.Equal(t, http.StatusAccepted, created.Code)

	w := s.do(http.MethodGet, created.Header().Get("Location"), nil, s.auth())
	require.Equal(t, http.StatusOK, w.Code)
	var issue v1.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issue))
	assert.Equal(t, "Weekly", issue.Title)
	assert.Equal(t, int64(1), issue.PendingDelivery)

	w = s.do(http.MethodGet, "/v1/admin/issues/"+uuid.NewString(), nil, s.auth())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/v1/admin/issues/not-a-uuid", nil, s.auth())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/v1/admin/issues?limit=5", nil, s.auth())
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []v1.Issue `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Data, 1)
}

var confirmLink = regexp.MustCompile(`/v1/subscriptions/confirm\?subscription_token=[A-Za-z0-9]{25}`)

func TestSubscribeAndConfirm(t *testing.T) {
	s := newTestServer(t, service.PolicyWait)

	w := s.do(http.MethodPost, "/v1/subscriptions", v1.SubscribeRequest{Name: "le guin", Email: "ursula_le_guin@gmail.com"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/v1/subscriptions", v1.SubscribeRequest{Name: "le guin", Email: "ursula_le_guin@gmail.com"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/v1/subscriptions", v1.SubscribeRequest{Name: "le guin", Email: "definitely-not-an-email"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Len(t, s.mail.html, 1)
	link := confirmLink.FindString(s.mail.html[0])
	require.NotEmpty(t, link)

	w = s.do(http.MethodGet, link, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/v1/subscriptions/confirm", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodGet, "/v1/subscriptions/confirm?subscription_token=bad", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodGet, "/v1/subscriptions/confirm?subscription_token=AAAAAAAAAAAAAAAAAAAAAAAAA", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var sub model.Subscription
	require.NoError(t, s.db.Where("email = ?", "ursula_le_guin@gmail.com").Take(&sub).Error)
	assert.Equal(t, constraints.StatusConfirmed, sub.Status)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, service.PolicyWait)
	w := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
