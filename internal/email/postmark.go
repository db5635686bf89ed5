package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// PostmarkClient sends mail through the Postmark HTTP API.
type PostmarkClient struct {
	baseURL    string
	sender     string
	token      string
	httpClient *http.Client
}

func NewPostmarkClient(baseURL, sender, token string, timeout time.Duration) *PostmarkClient {
	return &PostmarkClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sender:     sender,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Send returns nil on 2xx. 429 and 5xx answers, timeouts and network errors are transient;
// every other status is permanent.
func (c *PostmarkClient) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	payload, err := json.Marshal(sendEmailRequest{
		From:     c.sender,
		To:       recipient,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return Permanent(fmt.Errorf("encode email: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return Permanent(fmt.Errorf("build email request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("post email: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	de := &DeliveryError{
		StatusCode: resp.StatusCode,
		Err:        errors.New(strings.TrimSpace(string(msg))),
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return de
	}
	de.Permanent = true
	return de
}
