package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"gyroscope/internal/domain"
	"gyroscope/internal/engine"
	"gyroscope/internal/events"
	"gyroscope/internal/repo"
	"gyroscope/internal/trace"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"invalid cursor"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope of every non-2xx response.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gyroscope API.
func New(cfg Config) (http.Handler, error) {
	basePath := normalizeBasePath(cfg.BasePath)
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Gyroscope API", "0.3.0")
	hcfg.OpenAPIPath = path.Join(basePath, "openapi")
	hcfg.DocsPath = "/docs"
	hcfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		"apiKeyAuth": {Type: "apiKey", In: "header", Name: "X-Api-Key"},
	}
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerParse(group)
	registerGenerate(group, cfg.Engine)
	registerValidate(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerChallenges(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

var authSecurity = []map[string][]string{
	{"bearerAuth": {}},
	{"apiKeyAuth": {}},
}

// register adds an operation that accepts either credential scheme unless it
// declares its own security.
func register[I, O any](api huma.API, op huma.Operation, handler func(context.Context, *I) (*O, error)) {
	if op.Security == nil {
		op.Security = authSecurity
	}
	huma.Register(api, op, handler)
}

func normalizeBasePath(p string) string {
	if p == "" {
		p = "/v0"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusServiceUnavailable, "canceled", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "must be") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Security:    []map[string][]string{},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerParse(api huma.API) {
	register(api, huma.Operation{
		OperationID: "parse-block",
		Method:      http.MethodPost,
		Path:        "/parse",
		Summary:     "Parse and check one trace block",
		Description: "Issues are reported in the result; an invalid block is still a 200.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ParseRequest `json:"body"`
	}) (*struct {
		Body trace.Result `json:"body"`
	}, error) {
		res := trace.Check(input.Body.Text)
		if input.Body.Semantic != nil && !*input.Body.Semantic {
			res = trace.Parse(input.Body.Text)
		}
		return &struct {
			Body trace.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerGenerate(api huma.API, e engine.Engine) {
	register(api, huma.Operation{
		OperationID:   "generate-block",
		Method:        http.MethodPost,
		Path:          "/generate",
		Summary:       "Generate a trace block",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body GenerateRequest `json:"body"`
	}) (*struct {
		Body GenerateResponse `json:"body"`
	}, error) {
		opts := engine.GenerateOptions{
			Mode:      input.Body.Mode,
			TraceID:   input.Body.TraceID,
			Turn:      input.Body.Turn,
			Alignment: input.Body.Alignment,
			Scope:     input.Body.Scope,
			ActorID:   actorID(ctx),
		}
		var (
			g    engine.Generated
			text string
			err  error
		)
		if input.Body.Response != "" {
			text, g, err = e.Annotate(ctx, input.Body.Response, opts)
		} else {
			g, err = e.Generate(ctx, opts)
			text = g.Text
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GenerateResponse `json:"body"`
		}{Body: generateResponse(g, text)}, nil
	})
}

func registerValidate(api huma.API, e engine.Engine) {
	register(api, huma.Operation{
		OperationID: "validate-text",
		Method:      http.MethodPost,
		Path:        "/validate",
		Summary:     "Segment text and check every region",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ValidateRequest `json:"body"`
	}) (*struct {
		Body ValidateResponse `json:"body"`
	}, error) {
		save := true
		if input.Body.Save != nil {
			save = *input.Body.Save
		}
		source := strings.TrimSpace(input.Body.Source)
		if source == "" {
			source = "api"
		}
		out, err := e.ValidateText(ctx, source, input.Body.Text, engine.ValidateOptions{
			ActorID:  actorID(ctx),
			Strategy: input.Body.Split,
			Save:     save,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ValidateResponse `json:"body"`
		}{Body: validateResponse(out)}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List saved runs, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedRuns `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"cursor": input.Cursor})
		}
		runs, err := e.Repo.ListRuns(ctx, limit+1, ts, id)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedRuns{Items: []domain.Run{}}
		if len(runs) > limit {
			runs = runs[:limit]
			last := runs[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = append(resp.Items, runs...)
		return &struct {
			Body paginatedRuns `json:"body"`
		}{Body: resp}, nil
	})

	register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get a run with its results",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunDetailResponse `json:"body"`
	}, error) {
		detail, err := e.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		results := detail.Results
		if results == nil {
			results = []domain.StoredResult{}
		}
		return &struct {
			Body RunDetailResponse `json:"body"`
		}{Body: RunDetailResponse{Run: detail.Run, Results: results}}, nil
	})
}

func registerChallenges(api huma.API, e engine.Engine) {
	register(api, huma.Operation{
		OperationID: "list-challenges",
		Method:      http.MethodGet,
		Path:        "/challenges",
		Summary:     "List the challenge catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Challenge `json:"body"`
	}, error) {
		return &struct {
			Body []domain.Challenge `json:"body"`
		}{Body: e.Challenges()}, nil
	})

	register(api, huma.Operation{
		OperationID: "get-challenge",
		Method:      http.MethodGet,
		Path:        "/challenges/{challenge_id}",
		Summary:     "Get a challenge by id",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ChallengeID string `path:"challenge_id"`
	}) (*struct {
		Body domain.Challenge `json:"body"`
	}, error) {
		c, err := e.Challenge(input.ChallengeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Challenge `json:"body"`
		}{Body: c}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"run,block,api_key"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if input.Type != "" && !events.Known(input.Type) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid event type", map[string]any{"type": input.Type, "known": events.Types})
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
