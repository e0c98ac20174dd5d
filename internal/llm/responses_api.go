package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client makes raw HTTP calls to an Open Responses-compliant endpoint.
// It is safe for concurrent use; per-request state lives in the Request.
type Client struct {
	BaseURL      string            // e.g. "https://api.openai.com/v1"
	APIKey       string            // sent as a Bearer token when set
	ExtraHeaders map[string]string // provider-specific headers
	HTTPClient   *http.Client      // defaults to SharedHTTPClient
}

// NewClient creates a client for baseURL. A nil httpClient selects the
// shared process-wide client.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: httpClient,
	}
}

// Request is the body of POST /responses.
type Request struct {
	Model              string     `json:"model"`
	Input              []Item     `json:"input"`
	Instructions       string     `json:"instructions,omitempty"`
	Tools              []any      `json:"tools,omitempty"`
	ToolChoice         any        `json:"tool_choice,omitempty"`
	ParallelToolCalls  *bool      `json:"parallel_tool_calls,omitempty"`
	Reasoning          *Reasoning `json:"reasoning,omitempty"`
	Include            []string   `json:"include,omitempty"`
	Store              bool       `json:"store"`
	Stream             bool       `json:"stream"`
	MaxOutputTokens    int        `json:"max_output_tokens,omitempty"`
	Temperature        *float64   `json:"temperature,omitempty"`
	TopP               *float64   `json:"top_p,omitempty"`
	PreviousResponseID string     `json:"previous_response_id,omitempty"`
}

// Reasoning configures reasoning effort for models that support it.
type Reasoning struct {
	Effort  string `json:"effort,omitempty"`  // "minimal", "low", "medium", "high"
	Summary string `json:"summary,omitempty"` // "auto", "concise", "detailed"
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return SharedHTTPClient(TransportOptions{})
}

func (c *Client) endpoint(parts ...string) string {
	u := c.BaseURL + "/responses"
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, target string, body []byte, accept string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", accept)
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for key, value := range c.ExtraHeaders {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, accept string) (*http.Response, error) {
	httpReq, err := c.newRequest(ctx, method, target, body, accept)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: strings.ToLower(method), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

// Stream sends a streaming request and returns its events.
func (c *Client) Stream(ctx context.Context, req Request) (Stream, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.endpoint(), body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return NewEventStream(ctx, resp.Body), nil
}

// Create sends a non-streaming request and returns the whole response.
func (c *Client) Create(ctx context.Context, req Request) (*Response, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.endpoint(), body, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &ProtocolError{Event: "response", Data: string(data), Err: err}
	}
	return &out, nil
}

// Delete releases a server-side stored response.
func (c *Client) Delete(ctx context.Context, responseID string) error {
	if responseID == "" {
		return nil
	}
	resp, err := c.do(ctx, http.MethodDelete, c.endpoint(responseID), nil, "application/json")
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var wrapped struct {
		Error *ErrorBody `json:"error"`
	}
	if json.Unmarshal(data, &wrapped) == nil && wrapped.Error != nil {
		apiErr.Type = wrapped.Error.Type
		apiErr.Code = wrapped.Error.Code
		apiErr.Message = wrapped.Error.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
