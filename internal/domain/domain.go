package domain

import "gyroscope/internal/trace"

// Run is one persisted validation pass over one or more sources.
type Run struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Strategy  string `json:"strategy" enum:"blank,markers"`
	ActorID   string `json:"actor_id"`
	Total     int    `json:"total"`
	Valid     int    `json:"valid"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Invalid returns the number of invalid blocks.
func (r Run) Invalid() int { return r.Total - r.Valid }

// StoredResult is one checked region of a run.
type StoredResult struct {
	RunID     string        `json:"run_id"`
	Seq       int           `json:"seq"`
	Source    string        `json:"source"`
	LineCount int           `json:"line_count"`
	Valid     bool          `json:"is_valid"`
	Mode      string        `json:"mode,omitempty"`
	TraceID   *int          `json:"trace_id,omitempty"`
	Errors    []trace.Issue `json:"errors"`
	Warnings  []string      `json:"warnings"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Challenge is a catalog entry addressed by id.
type Challenge struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Metrics     []string `json:"metrics"`
}
