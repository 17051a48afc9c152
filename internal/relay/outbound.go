package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy is applied at the outbound boundary. Attempts counts the
// first call, so 1 means no retry.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

type retryingSender struct {
	next     Outbound
	platform Platform
	policy   RetryPolicy
	logger   *zap.Logger
}

// WithRetry wraps a sender with a bounded retry loop.
func WithRetry(next Outbound, platform Platform, policy RetryPolicy, logger *zap.Logger) Outbound {
	if policy.Attempts <= 1 {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryingSender{next: next, platform: platform, policy: policy, logger: logger}
}

func (s *retryingSender) Send(ctx context.Context, chatID, text, threadID string) error {
	var err error
	for attempt := 1; attempt <= s.policy.Attempts; attempt++ {
		err = s.next.Send(ctx, chatID, text, threadID)
		if err == nil {
			return nil
		}
		s.logger.Warn("send attempt failed",
			zap.String("platform", string(s.platform)),
			zap.String("chat_id", chatID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == s.policy.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.policy.Backoff):
		}
	}
	return err
}

func (s *retryingSender) Typing(ctx context.Context, chatID, threadID string) error {
	if t, ok := s.next.(Typer); ok {
		return t.Typing(ctx, chatID, threadID)
	}
	return nil
}

// PostJSON sends body as JSON and fails on any status >= 300, including the
// response body in the error. out, when non-nil, receives the decoded reply.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
