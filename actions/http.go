package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/liamcoop/automation/engine"
)

// maxCallAPIResponse caps how much of a response body is captured into the
// execution log.
const maxCallAPIResponse = 64 * 1024

// CallAPIParams configures the call_api action. Method defaults to POST when
// a body is present, GET otherwise.
type CallAPIParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    map[string]any    `json:"body"`
}

// CallAPIHandler performs a generic HTTP request. A non-2xx status is a
// failed result, not an error: the call completed and its outcome belongs in
// the execution log.
func CallAPIHandler(client *http.Client) engine.ActionHandlerFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, params map[string]any, _ engine.ActionContext) (engine.ActionResult, error) {
		var p CallAPIParams
		if err := decodeParams(params, &p); err != nil {
			return engine.ActionResult{}, err
		}
		if p.URL == "" {
			return engine.ActionResult{}, fmt.Errorf("call_api requires url")
		}
		if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
			return engine.ActionResult{}, fmt.Errorf("call_api url must be http or https")
		}

		var body io.Reader
		if p.Body != nil {
			raw, err := json.Marshal(p.Body)
			if err != nil {
				return engine.ActionResult{}, fmt.Errorf("failed to encode request body: %w", err)
			}
			body = bytes.NewReader(raw)
		}

		method := strings.ToUpper(p.Method)
		if method == "" {
			method = http.MethodGet
			if p.Body != nil {
				method = http.MethodPost
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
		if err != nil {
			return engine.ActionResult{}, fmt.Errorf("failed to build request: %w", err)
		}
		if p.Body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range p.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return engine.ActionResult{}, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxCallAPIResponse))
		if err != nil {
			return engine.ActionResult{}, fmt.Errorf("failed to read response: %w", err)
		}

		response := map[string]any{
			"status": resp.StatusCode,
			"body":   string(respBody),
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return engine.ActionResult{
				Success:  false,
				Error:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
				Response: response,
			}, nil
		}
		return successResult(response), nil
	}
}
