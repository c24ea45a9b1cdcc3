package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solace.app/companion/internal/retry"
)

const okBody = `{"candidates":[{"content":{"role":"model","parts":[{"text":"That sounds hard."}]},"finishReason":"STOP"}]}`

func newTestGenerationClient(t *testing.T, handler http.HandlerFunc) (*GenerationClient, *int32, *[]time.Duration) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	var delays []time.Duration
	policy := retry.Policy{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
		OnRetry: func(_ int, _ error, d time.Duration) {
			delays = append(delays, d)
		},
	}
	c := NewGenerationClient(GenerationClientConfig{
		BaseURL:        srv.URL + "/",
		APIKey:         "test-key",
		Model:          "gemini-test",
		AttemptTimeout: 2 * time.Second,
		Policy:         &policy,
	})
	return c, &calls, &delays
}

func simpleRequest() *GenerationRequest {
	return Augment(nil, nil, "hello", true)
}

func TestGenerateRetriesServerErrorsUntilExhausted(t *testing.T) {
	c, calls, delays := newTestGenerationClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	_, err := c.Generate(context.Background(), simpleRequest())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(5), atomic.LoadInt32(calls))
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond}, *delays)
}

func TestGenerateClientErrorIsFatal(t *testing.T) {
	c, calls, _ := newTestGenerationClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
	})

	_, err := c.Generate(context.Background(), simpleRequest())
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestGenerateRecoversAfterRateLimit(t *testing.T) {
	var n int32
	c, calls, _ := newTestGenerationClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(okBody))
	})

	res, err := c.Generate(context.Background(), simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, ResultOK, res.Kind)
	assert.Equal(t, "That sounds hard.", res.Reply())
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestGenerateRetriesDroppedConnections(t *testing.T) {
	var n int32
	c, calls, _ := newTestGenerationClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) <= 2 {
			if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
				conn.Close()
			}
			return
		}
		w.Write([]byte(okBody))
	})

	res, err := c.Generate(context.Background(), simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, ResultOK, res.Kind)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestGenerateSendsAugmentedRequest(t *testing.T) {
	received := make(chan GenerationRequest, 1)
	c, _, _ := newTestGenerationClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req GenerationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received <- req
		w.Write([]byte(okBody))
	})

	_, err := c.Generate(context.Background(), simpleRequest())
	require.NoError(t, err)
	got := <-received

	require.NotNil(t, got.SystemInstruction)
	assert.Contains(t, got.SystemInstruction.Parts[0].Text, CrisisToken)
	require.Len(t, got.Contents, 1)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "hello", got.Contents[0].Parts[0].Text)
	assert.Len(t, got.SafetySettings, 4)
	assert.InDelta(t, 0.7, got.GenerationConfig.Temperature, 1e-6)
	assert.Equal(t, int32(512), got.GenerationConfig.MaxOutputTokens)
}

func TestGenerateStopsWhenContextIsDone(t *testing.T) {
	c, calls, _ := newTestGenerationClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Generate(ctx, simpleRequest())
	require.Error(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(calls), int32(1))
}

func TestDecodeGenerationResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind ResultKind
		text string
	}{
		{name: "ok", body: okBody, kind: ResultOK, text: "That sounds hard."},
		{name: "safety finish reason", body: `{"candidates":[{"finishReason":"SAFETY"}]}`, kind: ResultSafetyBlocked},
		{name: "safety with partial content", body: `{"candidates":[{"content":{"parts":[{"text":"partial"}]},"finishReason":"SAFETY"}]}`, kind: ResultSafetyBlocked},
		{name: "blocked prompt", body: `{"promptFeedback":{"blockReason":"SAFETY"}}`, kind: ResultSafetyBlocked},
		{name: "crisis token", body: `{"candidates":[{"content":{"parts":[{"text":"CRISIS_DETECTED"}]},"finishReason":"STOP"}]}`, kind: ResultCrisis},
		{name: "crisis token with whitespace", body: `{"candidates":[{"content":{"parts":[{"text":"  CRISIS_DETECTED\n"}]}}]}`, kind: ResultCrisis},
		{name: "token inside prose is not a crisis", body: `{"candidates":[{"content":{"parts":[{"text":"I said CRISIS_DETECTED once"}]}}]}`, kind: ResultOK, text: "I said CRISIS_DETECTED once"},
		{name: "no candidates", body: `{"candidates":[]}`, kind: ResultMalformed},
		{name: "no parts", body: `{"candidates":[{"content":{"parts":[]},"finishReason":"STOP"}]}`, kind: ResultMalformed},
		{name: "no content", body: `{"candidates":[{"finishReason":"MAX_TOKENS"}]}`, kind: ResultMalformed},
		{name: "not json", body: `<html>oops</html>`, kind: ResultMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := decodeGenerationResponse([]byte(tt.body))
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.text, res.Text)
		})
	}
}

func TestGenerationResultReply(t *testing.T) {
	assert.Equal(t, "hi", GenerationResult{Kind: ResultOK, Text: "hi"}.Reply())
	assert.Equal(t, SafetyBlockedReply, GenerationResult{Kind: ResultSafetyBlocked}.Reply())
	assert.Equal(t, TroubleConnectingReply, GenerationResult{Kind: ResultMalformed}.Reply())
	assert.Equal(t, CrisisReply, GenerationResult{Kind: ResultCrisis}.Reply())
	assert.NotContains(t, CrisisReply, CrisisToken)
	assert.Contains(t, CrisisReply, "988")
}

func TestAPIErrorTransient(t *testing.T) {
	for code, want := range map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusBadRequest:          false,
		http.StatusUnauthorized:        false,
		http.StatusForbidden:           false,
		http.StatusNotFound:            false,
	} {
		assert.Equal(t, want, (&APIError{StatusCode: code}).Transient(), "status %d", code)
	}
	assert.True(t, isTransient(errors.New("connection reset by peer")))
}
