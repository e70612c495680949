package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/retail-backoffice/api/responses"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	pkgredis "github.com/angelmondragon/retail-backoffice/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// inFlightTTL bounds how long a crashed request can hold its key.
	inFlightTTL = 2 * time.Minute

	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

type idempotencyRule struct {
	method   string
	pattern  []string
	ttl      time.Duration
	required bool
}

func rule(method, pattern string, ttl time.Duration, required bool) idempotencyRule {
	return idempotencyRule{method: method, pattern: splitPath(pattern), ttl: ttl, required: required}
}

// Payments must always carry a key; the other writes are replayed when the
// client sends one.
var idempotencyRules = []idempotencyRule{
	rule(http.MethodPost, "/api/v1/orders/*/payments", criticalIdempotencyTTL, true),
	rule(http.MethodPost, "/api/v1/orders", defaultIdempotencyTTL, false),
	rule(http.MethodPost, "/api/v1/orders/*/lines", defaultIdempotencyTTL, false),
	rule(http.MethodPost, "/api/v1/orders/*/coupons", defaultIdempotencyTTL, false),
	rule(http.MethodPost, "/api/v1/orders/*/confirm", criticalIdempotencyTTL, false),
	rule(http.MethodPost, "/api/v1/orders/*/cancel", criticalIdempotencyTTL, false),
	rule(http.MethodPost, "/api/v1/orders/*/fulfill", criticalIdempotencyTTL, false),
	rule(http.MethodPost, "/api/v1/orders/*/complete", defaultIdempotencyTTL, false),
	rule(http.MethodPost, "/api/v1/inventory/*/receive", defaultIdempotencyTTL, false),
	rule(http.MethodPost, "/api/v1/inventory/*/adjust", defaultIdempotencyTTL, false),
}

func splitPath(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}

func (r idempotencyRule) matches(method string, segments []string) bool {
	if r.method != method || len(r.pattern) != len(segments) {
		return false
	}
	for i, want := range r.pattern {
		if want != "*" && want != segments[i] {
			return false
		}
	}
	return true
}

func matchRule(method, path string) (idempotencyRule, bool) {
	segments := splitPath(path)
	for _, r := range idempotencyRules {
		if r.matches(method, segments) {
			return r, true
		}
	}
	return idempotencyRule{}, false
}

// storedResponse is what sits under an idempotency key. While the first
// request runs, Done is false and only the request hash is known.
type storedResponse struct {
	Done        bool   `json:"done"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the first response recorded for a key within the
// current shop and route. A second request arriving while the first is
// still running gets a conflict instead of running twice.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rule, ok := matchRule(r.Method, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				if rule.required {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])
			key := store.IdempotencyKey(requestScope(r), clientKey)

			claimed, err := claim(ctx, store, key, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if !claimed {
				replay(ctx, store, key, hash, w, logg)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			// Detach so a client disconnect does not leave the key claimed.
			remember(context.WithoutCancel(ctx), store, key, hash, rule.ttl, capture, logg)
		})
	}
}

func requestScope(r *http.Request) string {
	shop := ""
	if id, ok := ShopIDFromContext(r.Context()); ok {
		shop = id.String()
	}
	return shop + "|" + r.Method + "|" + strings.TrimSuffix(r.URL.Path, "/")
}

func claim(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string) (bool, error) {
	pending, err := json.Marshal(storedResponse{RequestHash: hash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(pending), inFlightTTL)
}

func replay(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string, w http.ResponseWriter, logg *logger.Logger) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The holder released the key between our claim and this read.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is being retried, try again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case stored.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case !stored.Done:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

// remember swaps the in-flight marker for the final response. Server errors
// release the key so the client can retry with it.
func remember(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string, ttl time.Duration, capture *responseCapture, logg *logger.Logger) {
	if err := store.Del(ctx, key); err != nil {
		logError(ctx, logg, "release idempotency key", err)
		return
	}
	status := capture.statusCode()
	if status >= http.StatusInternalServerError {
		return
	}

	payload, err := json.Marshal(storedResponse{
		Done:        true,
		RequestHash: hash,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	})
	if err != nil {
		logError(ctx, logg, "marshal idempotency record", err)
		return
	}
	if _, err := store.SetNX(ctx, key, string(payload), ttl); err != nil {
		logError(ctx, logg, "persist idempotency record", err)
	}
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
