package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/greenroute/fleetlink/internal/metrics"
	"github.com/greenroute/fleetlink/internal/model"
)

// testBreaker returns breaker settings with a unique name so metric series
// do not collide between tests.
func testBreaker(name string) BreakerSettings {
	s := DefaultBreakerSettings()
	s.Name = name
	return s
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://fleet.example.com", "test-token")

		if c.baseURL != "https://fleet.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://fleet.example.com")
		}
		if c.token != "test-token" {
			t.Errorf("token = %q, want %q", c.token, "test-token")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.limiter != nil {
			t.Error("limiter should be nil by default")
		}
		if c.BreakerState() != "closed" {
			t.Errorf("BreakerState() = %q, want closed", c.BreakerState())
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://fleet.example.com", "tok",
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
			WithUserAgent("fleetlink/test"),
			WithRateLimit(5, 2),
		)
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.maxRetries != 10 || c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retries = (%d, %v), want (10, 500ms)", c.maxRetries, c.retryBackoff)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
		if c.userAgent != "fleetlink/test" {
			t.Errorf("userAgent = %q", c.userAgent)
		}
		if c.limiter == nil || c.limiter.Burst() != 2 {
			t.Error("rate limiter not configured")
		}
	})

	t.Run("nil logger keeps default", func(t *testing.T) {
		c := NewClient("https://fleet.example.com", "", WithLogger(nil))
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("https://fleet.example.com", "", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	err := &APIError{StatusCode: 404, Message: "Not Found"}
	if err.Error() != "fleet api error 404: Not Found" {
		t.Errorf("Error() = %q", err.Error())
	}

	tests := []struct {
		code     int
		expected bool
	}{
		{500, true},
		{502, true},
		{503, true},
		{429, true},
		{400, false},
		{401, false},
		{404, false},
		{499, false},
	}

	for _, tt := range tests {
		err := &APIError{StatusCode: tt.code}
		if got := err.IsRetryable(); got != tt.expected {
			t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
		}
	}
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("headers and body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token" {
				t.Errorf("Authorization header = %q", r.Header.Get("Authorization"))
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
			}
			if r.Header.Get("User-Agent") != "fleetlink/test" {
				t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"a":1}` {
				t.Errorf("body = %q", body)
			}
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "test-token", WithUserAgent("fleetlink/test"))
		body, err := c.doRequest(context.Background(), http.MethodPost, "/test", nil, []byte(`{"a":1}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("request without token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Errorf("Authorization header should be empty, got %q", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "tok")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if !strings.Contains(string(apiErr.Body), "not found") {
			t.Errorf("Body should contain 'not found', got %q", apiErr.Body)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		c := NewClient(server.URL, "tok")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "tok", WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("retries on 429", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "tok", WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("does not retry on 4xx", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, "tok", WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, "tok", WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("expected max retries error, got %v", err)
		}
		// 1 initial + 2 retries
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})
}

func TestPollUpdates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathPollingUpdates {
			t.Errorf("path = %q, want %q", r.URL.Path, PathPollingUpdates)
		}
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.Write([]byte(`{"updates":[
			{"type":"bin_update","data":{"id":"b-1","fillLevel":40}},
			{"data":{"id":"missing-type"}},
			{"type":"driver_location","data":{"driverId":"d-1","lat":1,"lng":2}}
		]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", WithBreaker(testBreaker("poll-updates")))
	envs, err := c.PollUpdates(context.Background())
	if err != nil {
		t.Fatalf("PollUpdates: %v", err)
	}

	if len(envs) != 2 {
		t.Fatalf("len(envs) = %d, want 2", len(envs))
	}
	if envs[0].Type != model.TypeBinUpdate || envs[1].Type != model.TypeDriverLocation {
		t.Errorf("types = %q, %q", envs[0].Type, envs[1].Type)
	}
	if len(envs[0].Raw) == 0 {
		t.Error("Raw should hold the original frame")
	}

	var bin model.Bin
	if err := envs[0].DecodeData(&bin); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if bin.ID != "b-1" || bin.FillLevel != 40 {
		t.Errorf("bin = %+v", bin)
	}
}

func TestPostMessage(t *testing.T) {
	received := make(chan model.Envelope, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathMessage || r.Method != http.MethodPost {
			t.Errorf("%s %s, want POST %s", r.Method, r.URL.Path, PathMessage)
		}
		var env model.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode body: %v", err)
		}
		received <- env
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	env, err := model.NewEnvelope(model.TypeChatMessage, model.ChatMessage{DriverID: "d-1", Text: "hi"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	c := NewClient(server.URL, "tok", WithBreaker(testBreaker("post-message")))
	if err := c.PostMessage(context.Background(), env); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	got := <-received
	if got.ID != env.ID || got.Type != model.TypeChatMessage {
		t.Errorf("server received %+v", got)
	}
}

func TestDriverMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/driver/d-7/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"messages":[
			{"id":"m1","driverId":"d-7","sender":"admin","text":"go","timestamp":"2026-01-02T10:00:00Z"}
		]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", WithBreaker(testBreaker("driver-messages")))
	msgs, err := c.DriverMessages(context.Background(), "d-7")
	if err != nil {
		t.Fatalf("DriverMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].Text != "go" {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestJSONUnmarshalErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", WithBreaker(testBreaker("bad-json")))
	_, err := c.PollUpdates(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unmarshal response") {
		t.Errorf("expected unmarshal error, got %v", err)
	}
}

func TestCircuitBreaker_OpensOnFailures(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	settings := testBreaker("trip-test")
	settings.MinRequests = 3
	settings.FailureRatio = 0.5
	settings.Timeout = time.Hour

	c := NewClient(server.URL, "tok",
		WithRetries(0, time.Millisecond),
		WithBreaker(settings),
	)

	for i := 0; i < 3; i++ {
		if _, err := c.PollUpdates(context.Background()); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	if c.BreakerState() != "open" {
		t.Fatalf("BreakerState() = %q, want open", c.BreakerState())
	}
	if got := testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("trip-test")); got != 2 {
		t.Errorf("breaker state metric = %v, want 2", got)
	}

	_, err := c.PollUpdates(context.Background())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("server attempts = %d, want 3 (open breaker must not reach the server)", n)
	}
	if got := testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("trip-test", "rejected")); got != 1 {
		t.Errorf("rejected requests = %v, want 1", got)
	}
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	settings := testBreaker("client-errors")
	settings.MinRequests = 2
	settings.FailureRatio = 0.5

	c := NewClient(server.URL, "tok", WithBreaker(settings))
	for i := 0; i < 5; i++ {
		c.DriverMessages(context.Background(), "nobody")
	}

	if c.BreakerState() != "closed" {
		t.Errorf("BreakerState() = %q, want closed", c.BreakerState())
	}
}

func TestRateLimit_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"updates":[]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok",
		WithRateLimit(0.001, 1),
		WithBreaker(testBreaker("rate-limit")),
	)

	// The single burst token is consumed by the first call.
	if _, err := c.PollUpdates(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.PollUpdates(ctx)
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Errorf("expected rate limit error, got %v", err)
	}
}
