package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func shopRequest(method, url, body string, shopID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	return req.WithContext(WithShopID(req.Context(), shopID))
}

func TestMatchRuleSelection(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		want     time.Duration
		required bool
		ok       bool
	}{
		{"payment", http.MethodPost, "/api/v1/orders/123/payments", criticalIdempotencyTTL, true, true},
		{"confirm", http.MethodPost, "/api/v1/orders/123/confirm", criticalIdempotencyTTL, false, true},
		{"create", http.MethodPost, "/api/v1/orders/", defaultIdempotencyTTL, false, true},
		{"receive", http.MethodPost, "/api/v1/inventory/abc/receive", defaultIdempotencyTTL, false, true},
		{"payment history", http.MethodGet, "/api/v1/orders/123/payments", 0, false, false},
		{"remove line", http.MethodDelete, "/api/v1/orders/123/lines/9", 0, false, false},
	}

	for _, tt := range tests {
		rule, ok := matchRule(tt.method, tt.path)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if !ok {
			continue
		}
		if rule.ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, rule.ttl)
		}
		if rule.required != tt.required {
			t.Fatalf("%s: expected required=%v", tt.name, tt.required)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeaderForPayments(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	req := shopRequest(http.MethodPost, "/api/v1/orders/1/payments", `{"amount":"10"}`, uuid.New())
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareOptionalKeyPassesThrough(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		mw(handler).ServeHTTP(resp, shopRequest(http.MethodPost, "/api/v1/orders/1/confirm", `{}`, uuid.New()))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", resp.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run twice, got %d", calls)
	}
	if len(store.data) != 0 {
		t.Fatalf("nothing should be stored without a key")
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	shopID := uuid.New()
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	for i := 0; i < 2; i++ {
		req := shopRequest(http.MethodPost, "/api/v1/orders/1/payments", `{"amount":"10"}`, shopID)
		req.Header.Set("Idempotency-Key", "abc")
		resp := httptest.NewRecorder()
		mw(handler).ServeHTTP(resp, req)
		if resp.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d", i, resp.Code)
		}
		if body := resp.Body.String(); body != `{"ok":true}` {
			t.Fatalf("attempt %d: unexpected body %s", i, body)
		}
		if i == 1 && resp.Header().Get("Idempotent-Replayed") != "true" {
			t.Fatalf("expected replay header on second attempt")
		}
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
}

func TestIdempotencyMiddlewareRejectsDifferentBody(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	shopID := uuid.New()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	req := shopRequest(http.MethodPost, "/api/v1/orders/1/payments", `{"amount":"10"}`, shopID)
	req.Header.Set("Idempotency-Key", "abc")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	req = shopRequest(http.MethodPost, "/api/v1/orders/1/payments", `{"amount":"20"}`, shopID)
	req.Header.Set("Idempotency-Key", "abc")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
}

func TestIdempotencyMiddlewareDoesNotCacheServerErrors(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	req := shopRequest(http.MethodPost, "/api/v1/orders/1/payments", `{"amount":"10"}`, uuid.New())
	req.Header.Set("Idempotency-Key", "abc")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	if len(store.data) != 0 {
		t.Fatalf("5xx responses must not be stored")
	}
}

func TestIdempotencyKeysAreScopedPerShop(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		req := shopRequest(http.MethodPost, "/api/v1/orders/1/payments", `{"amount":"10"}`, uuid.New())
		req.Header.Set("Idempotency-Key", "same")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected both shops to reach the handler, got %d", calls)
	}
}

func TestIdempotencyMiddlewareWithoutStoreStillRequiresPaymentKey(t *testing.T) {
	mw := Idempotency(nil, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, shopRequest(http.MethodPost, "/api/v1/orders/1/payments", `{}`, uuid.New()))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	req := shopRequest(http.MethodPost, "/api/v1/orders/1/payments", `{}`, uuid.New())
	req.Header.Set("Idempotency-Key", "k1")
	resp = httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
}

func TestIdempotencyMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	shopID := uuid.New()

	var inner *httptest.ResponseRecorder
	var handler http.Handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inner == nil {
			inner = httptest.NewRecorder()
			dup := shopRequest(http.MethodPost, "/api/v1/orders/1/payments", `{"amount":"10"}`, shopID)
			dup.Header.Set("Idempotency-Key", "abc")
			mw(handler).ServeHTTP(inner, dup)
		}
		w.WriteHeader(http.StatusCreated)
	})

	req := shopRequest(http.MethodPost, "/api/v1/orders/1/payments", `{"amount":"10"}`, shopID)
	req.Header.Set("Idempotency-Key", "abc")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected first request to succeed, got %d", resp.Code)
	}
	if inner.Code != http.StatusConflict {
		t.Fatalf("expected in-flight duplicate to conflict, got %d", inner.Code)
	}
}

func TestIdempotencyMiddlewareAllowsRetryAfterServerError(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	shopID := uuid.New()
	statuses := []int{http.StatusServiceUnavailable, http.StatusCreated}
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statuses[calls])
		calls++
	})

	for i := range statuses {
		req := shopRequest(http.MethodPost, "/api/v1/orders/1/payments", `{"amount":"10"}`, shopID)
		req.Header.Set("Idempotency-Key", "retry")
		resp := httptest.NewRecorder()
		mw(handler).ServeHTTP(resp, req)
		if resp.Code != statuses[i] {
			t.Fatalf("attempt %d: expected %d got %d", i, statuses[i], resp.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected the retry to reach the handler, got %d calls", calls)
	}
	if len(store.data) != 1 {
		t.Fatalf("expected the successful response to be stored")
	}
}
