package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deepnoodle-ai/conductor"
)

// HTTPParams defines the parameters for the HTTP executor
type HTTPParams struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"` // GET, POST, PUT, DELETE, etc.
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`             // JSON string or plain text
	JSONPayload     map[string]any    `json:"json_payload"`     // Alternative to body for JSON
	Timeout         float64           `json:"timeout"`          // in seconds, default 30
	FollowRedirects bool              `json:"follow_redirects"` // default true
}

// HTTPOutput defines the output of the HTTP executor
type HTTPOutput struct {
	StatusCode    int               `json:"status_code"`
	Status        string            `json:"status"`
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body"`
	JSONResponse  map[string]any    `json:"json_response,omitempty"`
	Success       bool              `json:"success"`
	ContentLength int64             `json:"content_length"`
}

// HTTPExecutor makes HTTP requests
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{}
}

func (e *HTTPExecutor) Type() string {
	return "http"
}

func (e *HTTPExecutor) Execute(ctx context.Context, req *conductor.StepRequest) (*conductor.StepResult, error) {
	var params HTTPParams
	if err := decodeParams(req.Parameters, &params); err != nil {
		return nil, err
	}
	if params.URL == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	// Default values
	if params.Method == "" {
		params.Method = "GET"
	}
	if params.Timeout <= 0 {
		params.Timeout = 30
	}

	// Prepare request body
	var bodyReader io.Reader
	if params.JSONPayload != nil {
		jsonData, err := json.Marshal(params.JSONPayload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	} else if params.Body != "" {
		bodyReader = strings.NewReader(params.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(params.Method), params.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range params.Headers {
		httpReq.Header.Set(key, value)
	}

	// Set content type for JSON payload
	if params.JSONPayload != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := e.client
	if client == nil {
		client = &http.Client{
			Timeout: time.Duration(params.Timeout * float64(time.Second)),
		}
		if !params.FollowRedirects {
			client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			}
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	output := HTTPOutput{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Body:          string(respBody),
		Success:       resp.StatusCode >= 200 && resp.StatusCode < 300,
		ContentLength: resp.ContentLength,
		Headers:       make(map[string]string),
	}
	for key, values := range resp.Header {
		if len(values) > 0 {
			output.Headers[key] = values[0]
		}
	}

	// Try to parse JSON response
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var jsonResp map[string]any
		if err := json.Unmarshal(respBody, &jsonResp); err == nil {
			output.JSONResponse = jsonResp
		}
	}

	// Round-trip through JSON so downstream template references see plain
	// maps rather than the struct.
	var result map[string]any
	data, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &conductor.StepResult{Output: result}, nil
}
