package provider

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// transientStatus reports whether an HTTP status is worth retrying:
// 5xx server errors and 429 rate-limit responses.
func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// backoff grows quadratically with the attempt number and adds jitter
// to prevent thundering herd.
func backoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * time.Second
	return base + time.Duration(rand.Int63n(int64(base/2+1)))
}

// send issues a request, retrying transient failures up to o.maxRetries
// times. buildReq is invoked per attempt because a consumed request body
// cannot be replayed.
func (o *OpenAI) send(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt)
			o.logger.Warn("retrying provider request", "attempt", attempt+1, "backoff", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := o.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if transientStatus(resp.StatusCode) {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(body))
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("provider request failed after %d attempt(s): %w", o.maxRetries+1, lastErr)
}
