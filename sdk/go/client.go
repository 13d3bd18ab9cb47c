// Package dochelpersdk is a minimal client for the Doc Helper HTTP API.
package dochelpersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one project of a Doc Helper server.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// ChangeResult is the outcome of applying one field change.
type ChangeResult struct {
	SchemaVersion int            `json:"schema_version"`
	Snapshot      map[string]any `json:"snapshot"`
	Effects       []Effect       `json:"effects,omitempty"`
	FieldErrors   []FieldError   `json:"field_errors,omitempty"`
	ChainDepth    int            `json:"chain_depth"`
	Persisted     bool           `json:"persisted"`
}

// Effect is one control-rule instruction from a change.
type Effect struct {
	RuleID  string `json:"rule_id"`
	Target  string `json:"target"`
	Kind    string `json:"kind"`
	Value   any    `json:"value,omitempty"`
	Visible *bool  `json:"visible,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// FieldError is a per-field computation failure.
type FieldError struct {
	FieldID string `json:"field_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationIssue is one violated constraint.
type ValidationIssue struct {
	FieldID  string `json:"field_id"`
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// ValidationResult is the outcome of a validation pass.
type ValidationResult struct {
	EntityID string            `json:"entity_id"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
	Infos    []ValidationIssue `json:"infos,omitempty"`
	Blocking bool              `json:"blocking"`
	Success  bool              `json:"success"`
	Message  string            `json:"message,omitempty"`
}

// Event is one log entry.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`
	FieldID  string `json:"field_id"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload,omitempty"`
}

// SchemaIssue is one finding from a schema check.
type SchemaIssue struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Ref      string `json:"ref"`
	Message  string `json:"message"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ImportSchema stores the YAML document as a new schema version.
func (c *Client) ImportSchema(ctx context.Context, docYAML string, force bool) (int, []SchemaIssue, error) {
	var resp struct {
		Version int           `json:"version"`
		Issues  []SchemaIssue `json:"issues"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("schema"), map[string]any{
		"doc_yaml": docYAML,
		"force":    force,
	}, &resp)
	return resp.Version, resp.Issues, err
}

// CheckSchema validates a document without importing it.
func (c *Client) CheckSchema(ctx context.Context, docYAML string) ([]SchemaIssue, bool, error) {
	var resp struct {
		Issues []SchemaIssue `json:"issues"`
		OK     bool          `json:"ok"`
	}
	err := c.do(ctx, http.MethodPost, "v0/schema/check", map[string]any{"doc_yaml": docYAML}, &resp)
	return resp.Issues, resp.OK, err
}

// ApplyChange sets one field and returns the propagated result.
func (c *Client) ApplyChange(ctx context.Context, entityID, fieldID string, value any) (ChangeResult, error) {
	var resp ChangeResult
	err := c.do(ctx, http.MethodPost, c.projectPath("entities/"+url.PathEscape(entityID)+"/changes"), map[string]any{
		"field_id": fieldID,
		"value":    value,
	}, &resp)
	return resp, err
}

// Validate runs a validation pass for the entity's stored values.
func (c *Client) Validate(ctx context.Context, entityID string) (ValidationResult, error) {
	var resp ValidationResult
	err := c.do(ctx, http.MethodPost, c.projectPath("entities/"+url.PathEscape(entityID)+"/validate"), nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint += fmt.Sprintf("?limit=%d", limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
