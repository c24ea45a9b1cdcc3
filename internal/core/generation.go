package core

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

	log "github.com/sirupsen/logrus"

	"solace.app/companion/internal/metrics"
	"solace.app/companion/internal/retry"
)

// Wire format of the generateContent API.

type Part struct {
	Text string `json:"text"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

func textContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type GenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int32   `json:"maxOutputTokens,omitempty"`
}

type GenerationRequest struct {
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	Contents          []Content        `json:"contents"`
	SafetySettings    []SafetySetting  `json:"safetySettings,omitempty"`
	GenerationConfig  GenerationConfig `json:"generationConfig"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      *Content `json:"content"`
		FinishReason string   `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Finish reasons that mean the provider withheld the answer on policy grounds.
var safetyFinishReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
}

type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultSafetyBlocked
	ResultMalformed
	ResultCrisis
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultSafetyBlocked:
		return "safety_blocked"
	case ResultMalformed:
		return "malformed"
	case ResultCrisis:
		return "crisis"
	default:
		return "unknown"
	}
}

// GenerationResult is a successful (2xx) generation response, decoded once.
// Text is only set for ResultOK.
type GenerationResult struct {
	Kind ResultKind
	Text string
}

// Reply is the text shown to the user for this result.
func (r GenerationResult) Reply() string {
	switch r.Kind {
	case ResultOK:
		return r.Text
	case ResultSafetyBlocked:
		return SafetyBlockedReply
	case ResultCrisis:
		return CrisisReply
	default:
		return TroubleConnectingReply
	}
}

func decodeGenerationResponse(body []byte) GenerationResult {
	var resp generateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return GenerationResult{Kind: ResultMalformed}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return GenerationResult{Kind: ResultSafetyBlocked}
	}
	if len(resp.Candidates) == 0 {
		return GenerationResult{Kind: ResultMalformed}
	}

	candidate := resp.Candidates[0]
	if safetyFinishReasons[candidate.FinishReason] {
		return GenerationResult{Kind: ResultSafetyBlocked}
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 || candidate.Content.Parts[0].Text == "" {
		return GenerationResult{Kind: ResultMalformed}
	}

	text := candidate.Content.Parts[0].Text
	if strings.TrimSpace(text) == CrisisToken {
		return GenerationResult{Kind: ResultCrisis}
	}
	return GenerationResult{Kind: ResultOK, Text: text}
}

// APIError is a non-2xx answer from the generation API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generation API returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying: rate limiting or a
// server-side failure.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// isTransient treats every error that is not an APIError as a transport
// failure: the request never completed.
func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return true
}

type Generator interface {
	Generate(ctx context.Context, req *GenerationRequest) (GenerationResult, error)
}

type GenerationClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// AttemptTimeout bounds one HTTP attempt. Zero means no per-attempt limit.
	AttemptTimeout time.Duration
	// Policy defaults to retry.DefaultPolicy(). Its Retryable is always
	// replaced by the client's own classification.
	Policy     *retry.Policy
	HTTPClient *http.Client
}

// GenerationClient calls the generateContent endpoint with bounded
// exponential backoff.
type GenerationClient struct {
	httpClient     *http.Client
	endpoint       string
	apiKey         string
	attemptTimeout time.Duration
	policy         retry.Policy
}

func NewGenerationClient(cfg GenerationClientConfig) *GenerationClient {
	policy := retry.DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &GenerationClient{
		httpClient:     httpClient,
		endpoint:       fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(cfg.BaseURL, "/"), cfg.Model),
		apiKey:         cfg.APIKey,
		attemptTimeout: cfg.AttemptTimeout,
		policy:         policy,
	}
}

// Generate returns a decoded result for any 2xx answer. It returns an error
// for a non-retryable status or once the attempts are exhausted.
func (c *GenerationClient) Generate(ctx context.Context, req *GenerationRequest) (GenerationResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return GenerationResult{}, fmt.Errorf("failed to encode generation request: %w", err)
	}

	start := time.Now()
	defer func() { metrics.GenerationLatency.Observe(time.Since(start).Seconds()) }()

	policy := c.policy
	policy.Retryable = isTransient
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Warn("Generation attempt failed, retrying")
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}

	result, err := retry.Do(ctx, policy, func(ctx context.Context) (GenerationResult, error) {
		return c.attempt(ctx, body)
	})
	if err != nil {
		return GenerationResult{}, fmt.Errorf("generation failed: %w", err)
	}
	return result, nil
}

func (c *GenerationClient) attempt(ctx context.Context, body []byte) (GenerationResult, error) {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return GenerationResult{}, fmt.Errorf("failed to build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.GenerationAttempts.WithLabelValues("transient").Inc()
		return GenerationResult{}, fmt.Errorf("generation request did not complete: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		metrics.GenerationAttempts.WithLabelValues("transient").Inc()
		return GenerationResult{}, fmt.Errorf("failed to read generation response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: truncate(string(payload), 512)}
		if apiErr.Transient() {
			metrics.GenerationAttempts.WithLabelValues("transient").Inc()
		} else {
			metrics.GenerationAttempts.WithLabelValues("fatal").Inc()
		}
		return GenerationResult{}, apiErr
	}

	result := decodeGenerationResponse(payload)
	metrics.GenerationAttempts.WithLabelValues(result.Kind.String()).Inc()
	if result.Kind == ResultMalformed {
		log.WithField("body", truncate(string(payload), 256)).Warn("Unrecognized generation response shape")
	}
	return result, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
