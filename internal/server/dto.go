package server

import (
	"encoding/json"

	"gyroscope/internal/domain"
	"gyroscope/internal/engine"
	"gyroscope/internal/report"
	"gyroscope/internal/segment"
	"gyroscope/internal/trace"
)

// Request payloads

type ParseRequest struct {
	Text     string `json:"text" doc:"Candidate trace block"`
	Semantic *bool  `json:"semantic,omitempty" doc:"Apply semantic rules (default true)"`
}

type GenerateRequest struct {
	Mode      string `json:"mode,omitempty" enum:"Gen,Int,Generative,Integrative,gen,int" doc:"Defaults to the configured mode"`
	TraceID   *int   `json:"trace_id,omitempty" minimum:"0" doc:"Allocated from the scope sequence when omitted"`
	Turn      *int   `json:"turn,omitempty" minimum:"0" doc:"Derive mode and id from a conversation turn"`
	Alignment string `json:"alignment,omitempty" enum:"Y,N"`
	Scope     string `json:"scope,omitempty"`
	Response  string `json:"response,omitempty" doc:"When set, the block is appended to this text"`
}

type ValidateRequest struct {
	Source string `json:"source,omitempty" doc:"Source tag; defaults to api"`
	Text   string `json:"text"`
	Split  string `json:"split,omitempty" enum:"blank,markers"`
	Save   *bool  `json:"save,omitempty" doc:"Persist the run (default true)"`
}

// Responses

type GenerateResponse struct {
	Text    string      `json:"text"`
	Mode    string      `json:"mode"`
	TraceID int         `json:"trace_id"`
	Block   trace.Block `json:"block"`
}

type ValidateResponse struct {
	Run     domain.Run               `json:"run"`
	Summary report.Summary           `json:"summary"`
	Rate    string                   `json:"success_rate"`
	Results []ValidateResultResponse `json:"results"`
}

// ValidateResultResponse is one checked region of a validation request.
type ValidateResultResponse struct {
	Source    string        `json:"source"`
	LineCount int           `json:"line_count"`
	Valid     bool          `json:"is_valid"`
	Block     trace.Block   `json:"block"`
	Errors    []trace.Issue `json:"errors"`
	Warnings  []string      `json:"warnings"`
}

type RunDetailResponse struct {
	Run     domain.Run            `json:"run"`
	Results []domain.StoredResult `json:"results"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedRuns struct {
	Items      []domain.Run `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func generateResponse(g engine.Generated, text string) GenerateResponse {
	return GenerateResponse{Text: text, Mode: g.Mode, TraceID: g.TraceID, Block: g.Block}
}

func validateResponse(out engine.RunOutcome) ValidateResponse {
	s := report.Summarize(out.Results)
	results := make([]ValidateResultResponse, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, validateResultResponse(r))
	}
	return ValidateResponse{Run: out.Run, Summary: s, Rate: s.SuccessRate(), Results: results}
}

func validateResultResponse(r segment.Result) ValidateResultResponse {
	errs := r.Errors
	if errs == nil {
		errs = []trace.Issue{}
	}
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return ValidateResultResponse{
		Source:    r.Source,
		LineCount: r.LineCount,
		Valid:     r.Valid,
		Block:     r.Block,
		Errors:    errs,
		Warnings:  warnings,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}
