// Package channel sends bot replies back through Facebook Messenger and Zalo
// OA. Web conversations get their reply synchronously and need no push.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/commerce-chat/internal/metrics"
)

// Policy configures chunking, pacing and retries of outbound calls.
type Policy struct {
	TextChunkLimit int
	RetryMax       int
	RetryBackoff   time.Duration
	// Delay separates a product carousel from the text that follows it.
	Delay time.Duration
}

func NormalizePolicy(p Policy) Policy {
	if p.TextChunkLimit <= 0 {
		p.TextChunkLimit = 2000
	}
	if p.RetryMax <= 0 {
		p.RetryMax = 3
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = 500 * time.Millisecond
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// StatusError is a non-2xx answer from a channel API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// APIError is a 2xx answer that carries an application error code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	var ae *APIError
	return !errors.As(err, &ae)
}

// withRetry runs fn up to RetryMax times with linear backoff, retrying only
// network errors, 5xx and 429.
func withRetry(ctx context.Context, p Policy, platform, op string, fn func(context.Context) error) error {
	var lastErr error
	for i := 0; i < p.RetryMax; i++ {
		err := fn(ctx)
		if err == nil {
			metrics.OutboundSend(platform, true)
			return nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		log.WithFields(log.Fields{"platform": platform, "op": op, "attempt": i + 1}).
			WithError(err).Warn("outbound retry")
		if i+1 < p.RetryMax {
			if err := sleep(ctx, time.Duration(i+1)*p.RetryBackoff); err != nil {
				break
			}
		}
	}
	metrics.OutboundSend(platform, false)
	return errors.Wrapf(lastErr, "%s %s", platform, op)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChunkText splits text at newline boundaries, respecting the rune limit.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(trimmed) <= limit {
		return []string{trimmed}
	}
	var chunks []string
	var buf []string
	bufLen := 0
	for _, line := range strings.Split(trimmed, "\n") {
		lineLen := utf8.RuneCountInString(line)
		sep := 0
		if len(buf) > 0 {
			sep = 1
		}
		if bufLen+sep+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sep + lineLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf, bufLen = buf[:0], 0
		}
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		r := []rune(line)
		for len(r) > limit {
			chunks = append(chunks, string(r[:limit]))
			r = r[limit:]
		}
		buf = append(buf, string(r))
		bufLen = len(r)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n"))
	}
	return chunks
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any, out any) error {
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
	return do(client, req, out)
}

func do(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return errors.Wrap(err, "decode response")
		}
	}
	return nil
}

func defaultClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
