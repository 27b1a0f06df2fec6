package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohans/labelx/internal/api"
	"github.com/mohans/labelx/labelx"
)

// LabelClient calls the labelx HTTP API.
type LabelClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewLabelClient(baseURL, token string) *LabelClient {
	return &LabelClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-200 error_code returned in an envelope, or a non-JSON
// HTTP failure.
type APIError struct {
	Code    int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Code, e.Message)
}

// envelopeOf gives access to the embedded envelope of every response type.
type envelopeOf interface{ envelope() api.Envelope }

type statusResponse struct{ api.StatusEnvelope }

func (r statusResponse) envelope() api.Envelope { return r.Envelope }

type listResponse struct{ api.ListEnvelope }

func (r listResponse) envelope() api.Envelope { return r.Envelope }

type sampleResponse struct{ api.SampleEnvelope }

func (r sampleResponse) envelope() api.Envelope { return r.Envelope }

// Submit sends POST /api/tasks/ and returns the accepted task.
func (c *LabelClient) Submit(req api.CreateTaskRequest) (*labelx.Accepted, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var raw struct {
		api.Envelope
		ErrorMessage json.RawMessage `json:"error_message"`
	}
	if err := c.do(http.MethodPost, "/api/tasks/", body, &raw); err != nil {
		return nil, err
	}
	if raw.ErrorCode != http.StatusOK {
		var msg string
		_ = json.Unmarshal(raw.ErrorMessage, &msg)
		return nil, &APIError{Code: raw.ErrorCode, Kind: raw.ErrorKind, Message: msg}
	}
	var acc labelx.Accepted
	if err := json.Unmarshal(raw.ErrorMessage, &acc); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &acc, nil
}

// Status sends GET /api/tasks/{id}.
func (c *LabelClient) Status(taskID string) (*api.StatusEnvelope, error) {
	var resp statusResponse
	if err := c.get("/api/tasks/"+url.PathEscape(taskID), &resp); err != nil {
		return nil, err
	}
	return &resp.StatusEnvelope, nil
}

// List sends GET /api/tasks/?limit=N.
func (c *LabelClient) List(limit int) ([]labelx.TaskStateRecord, error) {
	path := "/api/tasks/"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var resp listResponse
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return resp.Content, nil
}

// Sample sends GET /api/tasks/{id}/sample/.
func (c *LabelClient) Sample(taskID string) (*api.SampleEnvelope, error) {
	var resp sampleResponse
	if err := c.get("/api/tasks/"+url.PathEscape(taskID)+"/sample/", &resp); err != nil {
		return nil, err
	}
	return &resp.SampleEnvelope, nil
}

func (c *LabelClient) get(path string, out envelopeOf) error {
	if err := c.do(http.MethodGet, path, nil, out); err != nil {
		return err
	}
	env := out.envelope()
	if env.ErrorCode != http.StatusOK {
		return &APIError{Code: env.ErrorCode, Kind: env.ErrorKind, Message: fmt.Sprint(env.ErrorMessage)}
	}
	return nil
}

func (c *LabelClient) do(method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Add("Authorization", "Bearer "+c.Token)
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(respBody, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Code: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
