// Package bridge talks to the live engine: a Remote Control HTTP client
// with bounded retry and a persistent WebSocket event channel.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
)

// Well-known engine object paths the command handlers dispatch to.
const (
	SubsystemPath     = "/Script/AegisBridge.Default__AegisSubsystem"
	SeedSubsystemPath = "/Script/AegisBridge.Default__AegisSeedSubsystem"
)

// Client is the engine call surface the command handlers depend on.
type Client interface {
	// CallFunction invokes a function on an engine object through the
	// Remote Control endpoint and returns the decoded response body.
	CallFunction(ctx context.Context, objectPath, functionName string, parameters map[string]interface{}) (map[string]interface{}, error)
}

// callRequest is the Remote Control wire shape.
type callRequest struct {
	ObjectPath   string                 `json:"objectPath"`
	FunctionName string                 `json:"functionName"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
}

// HTTPClient calls the engine's Remote Control API with bounded retry.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	attempts   int
	retryWait  time.Duration
}

// NewHTTPClient builds a Remote Control client for the engine at
// baseURL (e.g. http://localhost:30010).
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		attempts:   3,
		retryWait:  500 * time.Millisecond,
	}
}

// CallFunction implements Client. Network errors and 5xx responses are
// retried with linear backoff; engine-level failures are not, since the
// engine already executed (and refused) the call.
func (c *HTTPClient) CallFunction(ctx context.Context, objectPath, functionName string, parameters map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(callRequest{
		ObjectPath:   objectPath,
		FunctionName: functionName,
		Parameters:   parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode remote call: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * c.retryWait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			log.Printf("Retrying engine call %s (attempt %d/%d)", functionName, attempt, c.attempts)
		}

		response, retryable, err := c.doCall(ctx, body)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("engine call %s failed after %d attempts: %w", functionName, c.attempts, lastErr)
}

func (c *HTTPClient) doCall(ctx context.Context, body []byte) (map[string]interface{}, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/remote/object/call", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("engine returned %d: %s", resp.StatusCode, payload)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("engine rejected call (%d): %s", resp.StatusCode, payload)
	}

	var decoded map[string]interface{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, false, fmt.Errorf("failed to decode engine response: %w", err)
		}
	}

	// The subsystem reports its own failures in the body.
	if success, ok := decoded["success"].(bool); ok && !success {
		message, _ := decoded["error"].(string)
		if message == "" {
			message = "engine call failed"
		}
		return nil, false, engineError(message)
	}
	return decoded, false, nil
}

// engineError maps engine-reported failures onto the structured error
// taxonomy so handlers surface actionable codes.
func engineError(message string) error {
	if containsFold(message, "not found") || containsFold(message, "unknown object") {
		return models.NewActionError(models.CodeTargetNotFound, message).
			WithSuggestion("verify the target exists in the current level")
	}
	return models.NewActionError(models.CodeExecutionError, message)
}

func containsFold(haystack, needle string) bool {
	return bytes.Contains(bytes.ToLower([]byte(haystack)), bytes.ToLower([]byte(needle)))
}
