package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gyroscope/internal/config"
	"gyroscope/internal/domain"
	"gyroscope/internal/events"
	"gyroscope/internal/grammar"
	"gyroscope/internal/logging"
	"gyroscope/internal/repo"
	"gyroscope/internal/segment"
	"gyroscope/internal/trace"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Log    *slog.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Log:    logging.New("engine"),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func actorOrDefault(actorID string) string {
	if actorID == "" {
		return "local-user"
	}
	return actorID
}

// ValidateOptions tune a validation run.
type ValidateOptions struct {
	ActorID  string
	Strategy string // blank or markers; empty uses the config
	Save     bool
}

// RunOutcome is the result of a validation run. Run.ID is empty unless the
// run was saved.
type RunOutcome struct {
	Run     domain.Run       `json:"run"`
	Results []segment.Result `json:"results"`
}

// ValidateFiles checks every file concurrently, in argument order.
func (e Engine) ValidateFiles(ctx context.Context, paths []string, opts ValidateOptions) (RunOutcome, error) {
	if len(paths) == 0 {
		return RunOutcome{}, errors.New("at least one file is required")
	}
	sources := make([]segment.Source, len(paths))
	for i, p := range paths {
		sources[i] = segment.FileSource(p)
	}
	label := sources[0].Tag
	if len(paths) > 1 {
		label = fmt.Sprintf("%d files", len(paths))
	}
	return e.ValidateSources(ctx, label, sources, opts)
}

// ValidateText checks in-memory text, such as stdin or a request body.
func (e Engine) ValidateText(ctx context.Context, tag, text string, opts ValidateOptions) (RunOutcome, error) {
	if tag == "" {
		tag = "stdin"
	}
	return e.ValidateSources(ctx, tag, []segment.Source{segment.TextSource(tag, text)}, opts)
}

// ValidateSources runs a batch and optionally stores it with a run.completed
// event.
func (e Engine) ValidateSources(ctx context.Context, label string, sources []segment.Source, opts ValidateOptions) (RunOutcome, error) {
	split := opts.Strategy
	if split == "" {
		split = e.Config.Batch.Split
	}
	strategy, err := segment.ParseStrategy(split)
	if err != nil {
		return RunOutcome{}, err
	}
	results, err := segment.Batch(ctx, sources, segment.BatchOptions{
		Strategy:    strategy,
		Parallelism: e.Config.Batch.Parallelism,
	})
	if err != nil {
		return RunOutcome{}, err
	}
	run := domain.Run{
		Source:    label,
		Strategy:  string(strategy),
		ActorID:   actorOrDefault(opts.ActorID),
		Total:     len(results),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	for _, r := range results {
		if r.Valid {
			run.Valid++
		}
	}
	e.log().Debug("validated", "source", label, "blocks", run.Total, "valid", run.Valid)
	out := RunOutcome{Run: run, Results: results}
	if !opts.Save {
		return out, nil
	}

	out.Run.ID = uuid.NewString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RunOutcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRunTx(ctx, tx, out.Run, storedResults(results)); err != nil {
		return RunOutcome{}, err
	}
	if err := e.writer().Append(ctx, tx, events.RunCompleted, "run", out.Run.ID, out.Run.ActorID, events.EventPayload{
		"source":  out.Run.Source,
		"total":   out.Run.Total,
		"valid":   out.Run.Valid,
		"invalid": out.Run.Invalid(),
	}); err != nil {
		return RunOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return RunOutcome{}, err
	}
	e.log().Info("run saved", "run_id", out.Run.ID, "blocks", out.Run.Total, "valid", out.Run.Valid)
	return out, nil
}

func storedResults(results []segment.Result) []domain.StoredResult {
	out := make([]domain.StoredResult, len(results))
	for i, r := range results {
		s := domain.StoredResult{
			Source:    r.Source,
			LineCount: r.LineCount,
			Valid:     r.Valid,
			Errors:    r.Errors,
			Warnings:  r.Warnings,
		}
		if d := r.Block.Data; d != nil {
			s.Mode = d.Mode
			id := d.TraceID
			s.TraceID = &id
		}
		out[i] = s
	}
	return out
}

// RunDetail is a stored run with its results.
type RunDetail struct {
	Run     domain.Run            `json:"run"`
	Results []domain.StoredResult `json:"results"`
}

func (e Engine) GetRun(ctx context.Context, id string) (RunDetail, error) {
	run, err := e.Repo.GetRun(ctx, id)
	if err != nil {
		return RunDetail{}, fmt.Errorf("run %s: %w", id, err)
	}
	results, err := e.Repo.RunResults(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Run: run, Results: results}, nil
}

// GenerateOptions describe a block to emit. Turn, when set, derives Mode and
// TraceID from the conversation cycle. Without a TraceID the next id of
// Scope is allocated.
type GenerateOptions struct {
	Mode      string
	TraceID   *int
	Turn      *int
	Timestamp time.Time
	Alignment string
	Scope     string
	ActorID   string
}

// Generated is an emitted block.
type Generated struct {
	Text    string      `json:"text"`
	Block   trace.Block `json:"block"`
	Mode    string      `json:"mode"`
	TraceID int         `json:"trace_id"`
}

// Generate emits a block. With a database, an absent trace id is taken from
// the scope sequence and a block.generated event is recorded; without one the
// id must come from opts.
func (e Engine) Generate(ctx context.Context, opts GenerateOptions) (Generated, error) {
	modeStr := opts.Mode
	if modeStr == "" {
		modeStr = e.Config.Defaults.Mode
	}
	mode, err := grammar.ParseMode(modeStr)
	if err != nil {
		return Generated{}, err
	}
	traceID := opts.TraceID
	if opts.Turn != nil {
		if *opts.Turn < 0 {
			return Generated{}, errors.New("turn must be non-negative")
		}
		mode = grammar.ModeForTurn(*opts.Turn)
		id := grammar.TraceIDForTurn(*opts.Turn)
		traceID = &id
	}
	align := opts.Alignment
	if align == "" {
		align = e.Config.Defaults.Alignment
	}
	scope := opts.Scope
	if scope == "" {
		scope = e.Config.Defaults.Scope
	}
	ts := opts.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	req := trace.Request{Mode: mode, Timestamp: ts, Alignment: align}
	if e.DB == nil {
		// no sequence store: the id must be given and nothing is recorded
		if traceID == nil {
			return Generated{}, errors.New("trace id is required without a workspace database")
		}
		req.TraceID = *traceID
		return e.render(req)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Generated{}, err
	}
	defer tx.Rollback()
	if traceID != nil {
		req.TraceID = *traceID
	} else if req.TraceID, err = e.Repo.NextTraceIDTx(ctx, tx, scope); err != nil {
		return Generated{}, fmt.Errorf("allocate trace id: %w", err)
	}
	g, err := e.render(req)
	if err != nil {
		return Generated{}, err
	}
	if err := e.writer().Append(ctx, tx, events.BlockGenerated, "block", fmt.Sprintf("%s:%d", scope, g.TraceID), actorOrDefault(opts.ActorID), events.EventPayload{
		"mode":      g.Mode,
		"trace_id":  g.TraceID,
		"scope":     scope,
		"timestamp": g.Block.Data.Timestamp,
	}); err != nil {
		return Generated{}, err
	}
	if err := tx.Commit(); err != nil {
		return Generated{}, err
	}
	return g, nil
}

func (e Engine) render(req trace.Request) (Generated, error) {
	b, err := trace.Generator{Now: e.now}.NewBlock(req)
	if err != nil {
		return Generated{}, err
	}
	return Generated{Text: trace.Render(b), Block: b, Mode: string(req.Mode), TraceID: req.TraceID}, nil
}

// Annotate appends a freshly generated block to response.
func (e Engine) Annotate(ctx context.Context, response string, opts GenerateOptions) (string, Generated, error) {
	g, err := e.Generate(ctx, opts)
	if err != nil {
		return "", Generated{}, err
	}
	return trace.Annotate(response, g.Text), g, nil
}

// Challenges returns the configured catalog sorted by id.
func (e Engine) Challenges() []domain.Challenge {
	ids := e.Config.ChallengeIDs()
	out := make([]domain.Challenge, 0, len(ids))
	for _, id := range ids {
		c := e.Config.Challenges[id]
		out = append(out, domain.Challenge{ID: id, Description: c.Description, Metrics: append([]string(nil), c.Metrics...)})
	}
	return out
}

func (e Engine) Challenge(id string) (domain.Challenge, error) {
	c, ok := e.Config.Challenges[id]
	if !ok {
		return domain.Challenge{}, fmt.Errorf("challenge %s (known: %v): %w", id, e.Config.ChallengeIDs(), repo.ErrNotFound)
	}
	return domain.Challenge{ID: id, Description: c.Description, Metrics: append([]string(nil), c.Metrics...)}, nil
}
