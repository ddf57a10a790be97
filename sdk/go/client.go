package gyroscopesdk

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

// Client is a minimal Gyroscope HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Issue is one problem found in a block.
type Issue struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// Data is the parsed data line of a block.
type Data struct {
	Timestamp string `json:"timestamp"`
	Mode      string `json:"mode"`
	Alignment string `json:"alignment"`
	TraceID   int    `json:"trace_id"`
}

// Block is the structured form of a trace block (partial).
type Block struct {
	Header string `json:"header,omitempty"`
	Data   *Data  `json:"data,omitempty"`
}

// ParseResult is the outcome of checking one block.
type ParseResult struct {
	Valid    bool     `json:"is_valid"`
	Block    Block    `json:"block"`
	Errors   []Issue  `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Result is one checked region of a validation run.
type Result struct {
	Source    string `json:"source"`
	LineCount int    `json:"line_count"`
	ParseResult
}

// Run is a validation run.
type Run struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Strategy  string `json:"strategy"`
	ActorID   string `json:"actor_id"`
	Total     int    `json:"total"`
	Valid     int    `json:"valid"`
	CreatedAt string `json:"created_at"`
}

// Summary aggregates a run.
type Summary struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

// Validation is the response of Validate.
type Validation struct {
	Run         Run      `json:"run"`
	Summary     Summary  `json:"summary"`
	SuccessRate string   `json:"success_rate"`
	Results     []Result `json:"results"`
}

// StoredResult is a persisted result of a run.
type StoredResult struct {
	Seq       int     `json:"seq"`
	Source    string  `json:"source"`
	LineCount int     `json:"line_count"`
	Valid     bool    `json:"is_valid"`
	Mode      string  `json:"mode,omitempty"`
	TraceID   *int    `json:"trace_id,omitempty"`
	Errors    []Issue `json:"errors"`
}

// RunDetail is a run with its stored results.
type RunDetail struct {
	Run     Run            `json:"run"`
	Results []StoredResult `json:"results"`
}

// Generated is an emitted block.
type Generated struct {
	Text    string `json:"text"`
	Mode    string `json:"mode"`
	TraceID int    `json:"trace_id"`
}

// GenerateOptions are optional generation parameters; zero values use the
// server defaults.
type GenerateOptions struct {
	Mode      string `json:"mode,omitempty"`
	TraceID   *int   `json:"trace_id,omitempty"`
	Turn      *int   `json:"turn,omitempty"`
	Alignment string `json:"alignment,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Response  string `json:"response,omitempty"`
}

// Challenge is a catalog entry.
type Challenge struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Metrics     []string `json:"metrics"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedRuns wraps run listings with a cursor.
type PaginatedRuns struct {
	Items      []Run  `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// Parse checks one block. With semantic false only structure and formats
// are checked.
func (c *Client) Parse(ctx context.Context, text string, semantic bool) (ParseResult, error) {
	body := map[string]any{"text": text, "semantic": semantic}
	var resp ParseResult
	err := c.do(ctx, http.MethodPost, "parse", body, &resp)
	return resp, err
}

// Generate emits a block.
func (c *Client) Generate(ctx context.Context, opts GenerateOptions) (Generated, error) {
	var resp Generated
	err := c.do(ctx, http.MethodPost, "generate", opts, &resp)
	return resp, err
}

// Validate segments text and checks every region; save persists the run.
func (c *Client) Validate(ctx context.Context, source, text, split string, save bool) (Validation, error) {
	body := map[string]any{"text": text, "save": save}
	if source != "" {
		body["source"] = source
	}
	if split != "" {
		body["split"] = split
	}
	var resp Validation
	err := c.do(ctx, http.MethodPost, "validate", body, &resp)
	return resp, err
}

// ListRuns returns one page of saved runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int, cursor string) (PaginatedRuns, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "runs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedRuns
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetRun fetches a run with its results.
func (c *Client) GetRun(ctx context.Context, id string) (RunDetail, error) {
	var resp RunDetail
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Challenges lists the challenge catalog.
func (c *Client) Challenges(ctx context.Context) ([]Challenge, error) {
	var resp []Challenge
	err := c.do(ctx, http.MethodGet, "challenges", nil, &resp)
	return resp, err
}

// Challenge fetches one catalog entry.
func (c *Client) Challenge(ctx context.Context, id string) (Challenge, error) {
	var resp Challenge
	err := c.do(ctx, http.MethodGet, "challenges/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
