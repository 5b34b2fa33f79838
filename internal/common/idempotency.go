package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const idemPending = "pending"

// Idem makes a POST safe to retry under the same Idempotency-Key: the first
// completed response is stored and replayed verbatim to later requests. A
// request still running answers 409. Only 500 responses and panics release
// the key.
type Idem struct {
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

func (i Idem) key(r *http.Request, header string) string {
	sum := sha256.Sum256([]byte(r.Method + " " + r.URL.Path + " " + header))
	prefix := i.Prefix
	if prefix == "" {
		prefix = "idem:"
	}
	return prefix + hex.EncodeToString(sum[:])
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

// Middleware implements the chi middleware signature.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := i.key(r, header)

		fresh, err := i.R.SetNX(ctx, key, idemPending, i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, CodeUnavailable, "idempotency store unavailable", nil)
			return
		}
		if !fresh {
			i.replay(ctx, w, key)
			return
		}

		// the client may have gone away; the outcome must still be stored
		bg := context.WithoutCancel(ctx)
		defer func() {
			if p := recover(); p != nil {
				_ = i.R.Del(bg, key).Err()
				panic(p)
			}
		}()

		rec := &bodyCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status == http.StatusInternalServerError {
			_ = i.R.Del(bg, key).Err()
			return
		}
		raw, _ := json.Marshal(storedResponse{Status: rec.status, Body: rec.body()})
		if err := i.R.Set(bg, key, raw, i.ttl()).Err(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("store idempotent response")
		}
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	val, err := i.R.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		JSONError(w, http.StatusConflict, CodeConflict, "request with this Idempotency-Key expired mid-flight; retry", nil)
		return
	case err != nil:
		JSONError(w, http.StatusServiceUnavailable, CodeUnavailable, "idempotency store unavailable", nil)
		return
	case val == idemPending:
		JSONError(w, http.StatusConflict, "IDEMPOTENT_IN_PROGRESS", "a request with this Idempotency-Key is still running", nil)
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		JSONError(w, http.StatusInternalServerError, CodeInternal, "corrupt idempotent response", nil)
		return
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

type bodyCapture struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (b *bodyCapture) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bodyCapture) Write(p []byte) (int, error) {
	b.buf.Write(p)
	return b.ResponseWriter.Write(p)
}

func (b *bodyCapture) body() json.RawMessage {
	raw := bytes.TrimSpace(b.buf.Bytes())
	if !json.Valid(raw) {
		return json.RawMessage("null")
	}
	return raw
}
