package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Request is what a verifier needs to decide one leaf gate.
type Request struct {
	Gate       AccessGate `json:"gate"`
	UserID     uuid.UUID  `json:"user_id"`
	VerifierID string     `json:"verifier_id"`
	ChatID     uuid.UUID  `json:"chat_id"`
	Now        time.Time  `json:"now"`
}

// Verifier decides a single non-composite gate.
//
// Verify returns nil on success, a *FailedError for a legitimate
// rejection and any other error when no answer could be produced.
// Calling it more than once for the same attempt must be safe.
type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, req Request) error

func (f VerifierFunc) Verify(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// HTTPVerifier calls an external verification service:
//
//	POST {baseURL}/v1/verify
//	{"gate": ..., "user_id": ..., "verifier_id": ..., "chat_id": ..., "now": ...}
//
// and expects {"outcome": "success"|"failed"|"error", "reason": "..."}.
type HTTPVerifier struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPVerifier(baseURL string, httpClient *http.Client) *HTTPVerifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPVerifier{baseURL: baseURL, httpClient: httpClient}
}

type verifyResponse struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason"`
}

const maxVerifyResponse = 64 << 10

func (v *HTTPVerifier) Verify(ctx context.Context, req Request) error {
	encoded, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode verify request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/verify", bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVerifyResponse))
	if err != nil {
		return fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("verifier returned %d: %s", resp.StatusCode, string(body))
	}

	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode verify response: %w", err)
	}
	switch out.Outcome {
	case "success":
		return nil
	case "failed":
		return &FailedError{Reason: out.Reason}
	default:
		return &InternalError{Detail: out.Reason}
	}
}
