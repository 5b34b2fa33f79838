package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient sends upstream calls through a breaker with bounded retries.
// Transport errors, 5xx and 429 count as failures. Only GET, HEAD, requests
// marked Safe and requests carrying an Idempotency-Key are retried; anything
// else gets a single attempt so a slow WooCommerce never ends up with
// duplicate orders.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	// Timeout bounds each attempt; the body stays readable until closed.
	Timeout time.Duration
	// Target labels log lines and breaker metrics, e.g. "vies" or "commerce".
	Target   string
	Logger   *zerolog.Logger
	Fallback func(context.Context, *http.Request, error) (*http.Response, error)
}

// StatusError is returned when the last attempt ended in a failure status.
type StatusError struct {
	StatusCode int
	Status     string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilience: upstream answered %s", e.Status)
}

// Do sends req. A refused breaker yields ErrOpenCircuit, or the Fallback's
// answer when one is set.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	br := cl.Breaker
	if br == nil {
		br = NewBreaker(1, 1, time.Second).WithTarget(cl.Target)
	}
	attempts := max(cl.MaxAttempts, 1)
	if !replayable(req) {
		attempts = 1
	}
	payload, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if !br.Allow(ctx) {
			lastErr = ErrOpenCircuit
			break
		}
		started := time.Now()
		resp, err := cl.send(ctx, withBody(ctx, req, payload))
		if err == nil && !failedStatus(resp.StatusCode) {
			br.Report(ctx, true)
			return resp, nil
		}
		br.Report(ctx, false)
		if err != nil {
			lastErr = err
		} else {
			lastErr = &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, RetryAfter: retryAfter(resp)}
			discard(resp)
		}
		cl.log(ctx).Warn().
			Str("target", cl.Target).
			Str("method", req.Method).
			Int("attempt", attempt).
			Dur("elapsed", time.Since(started)).
			Err(lastErr).
			Msg("upstream_attempt_failed")
		if attempt >= attempts {
			break
		}
		if err := sleep(ctx, cl.wait(attempt, lastErr)); err != nil {
			return nil, err
		}
	}

	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, lastErr)
	}
	return nil, lastErr
}

func (cl HTTPClient) wait(attempt int, err error) time.Duration {
	d := Backoff(cl.BaseBackoff, attempt, cl.Jitter)
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > d {
		d = min(se.RetryAfter, time.Minute)
	}
	return d
}

func (cl HTTPClient) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		return cl.Client.Do(req)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := cl.Client.Do(req.WithContext(attemptCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	if cl.Logger != nil {
		return cl.Logger
	}
	return zerolog.Ctx(context.Background())
}

type safeKey struct{}

// Safe marks a request as free of side effects so Do may retry it whatever
// its method. The VIES check endpoint is a POST of that kind.
func Safe(req *http.Request) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), safeKey{}, true))
}

func replayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		return true
	}
	if safe, _ := req.Context().Value(safeKey{}).(bool); safe {
		return true
	}
	return req.Header.Get("Idempotency-Key") != ""
}

func failedStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(time.Until(at), 0)
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func discard(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// bufferBody reads the request body once so every attempt can resend it.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func withBody(ctx context.Context, req *http.Request, payload []byte) *http.Request {
	out := req.Clone(ctx)
	if payload == nil {
		return out
	}
	out.Body = io.NopCloser(bytes.NewReader(payload))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	out.ContentLength = int64(len(payload))
	return out
}
