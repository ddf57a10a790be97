package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gyroscope/internal/config"
	"gyroscope/internal/engine"
	"gyroscope/internal/grammar"
	"gyroscope/internal/repo"
	"gyroscope/internal/report"
	"gyroscope/internal/server"
	"gyroscope/internal/trace"
)

func validateCmd() *cobra.Command {
	var (
		stdin, save, failOnInvalid bool
		split, reportFormat        string
	)
	cmd := &cobra.Command{
		Use:   "validate [files...]",
		Short: "Validate every trace block in files or stdin",
		Long: `Splits each input into candidate regions (maximal runs of non-blank lines of at least
ten lines, or header/footer pairs with --split markers) and checks each one independently.
An input with no qualifying region is checked whole.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !stdin && len(args) == 0 {
				return errors.New("no input: pass files or --stdin")
			}
			if stdin && len(args) > 0 {
				return errors.New("--stdin cannot be combined with files")
			}
			ctx := cmd.Context()
			opts := engine.ValidateOptions{
				ActorID:  viper.GetString("actor-id"),
				Strategy: split,
				Save:     save,
			}
			run := func(ctx context.Context, e engine.Engine) (engine.RunOutcome, error) {
				if stdin {
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return engine.RunOutcome{}, fmt.Errorf("read stdin: %w", err)
					}
					return e.ValidateText(ctx, "stdin", string(data), opts)
				}
				return e.ValidateFiles(ctx, args, opts)
			}

			var (
				out engine.RunOutcome
				cfg *config.Config
			)
			if save {
				err := withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
					cfg = e.Config
					var err error
					out, err = run(ctx, e)
					return err
				})
				if err != nil {
					return err
				}
			} else {
				var err error
				if cfg, err = loadConfig(); err != nil {
					return err
				}
				if out, err = run(ctx, engine.New(nil, cfg)); err != nil {
					return err
				}
			}

			format, err := resolveFormat(reportFormat, cfg)
			if err != nil {
				return err
			}
			if err := report.Write(cmd.OutOrStdout(), format, out.Results); err != nil {
				return err
			}
			s := report.Summarize(out.Results)
			fmt.Fprintf(cmd.ErrOrStderr(), "Summary: %d/%d blocks valid (%s)\n", s.Valid, s.Total, s.SuccessRate())
			if out.Run.ID != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved run %s\n", out.Run.ID)
			}
			if failOnInvalid && s.Invalid > 0 {
				return exitError{code: 2}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stdin, "stdin", false, "read from standard input")
	cmd.Flags().StringVar(&split, "split", "", "region strategy: blank or markers (default from config)")
	cmd.Flags().StringVar(&reportFormat, "report", "", "report format: text, json, table or markdown (default from config)")
	cmd.Flags().BoolVar(&save, "save", false, "store the run in the workspace")
	cmd.Flags().BoolVar(&failOnInvalid, "fail-on-invalid", false, "exit with status 2 when any block is invalid")
	return cmd
}

func resolveFormat(flag string, cfg *config.Config) (report.Format, error) {
	if viper.GetBool("json") {
		return report.JSON, nil
	}
	if flag == "" && cfg != nil {
		flag = cfg.Report.Format
	}
	return report.ParseFormat(flag)
}

func parseCmd() *cobra.Command {
	var noSemantic, failOnInvalid bool
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Check a single trace block",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			res := trace.Check(text)
			if noSemantic {
				res = trace.Parse(text)
			}
			w := cmd.OutOrStdout()
			if viper.GetBool("json") {
				if err := printJSON(w, res); err != nil {
					return err
				}
			} else {
				printResult(w, res)
			}
			if failOnInvalid && !res.Valid {
				return exitError{code: 2}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSemantic, "no-semantic", false, "skip the semantic rules")
	cmd.Flags().BoolVar(&failOnInvalid, "fail-on-invalid", false, "exit with status 2 when the block is invalid")
	return cmd
}

func printResult(w io.Writer, res trace.Result) {
	if res.Valid {
		fmt.Fprintln(w, "✓ VALID")
	} else {
		fmt.Fprintln(w, "✗ INVALID")
	}
	if d := res.Block.Data; d != nil {
		fmt.Fprintf(w, "  Mode: %s  ID: %d  Timestamp: %s  Alignment: %s\n", d.Mode, d.TraceID, d.Timestamp, d.Alignment)
	}
	if len(res.Errors) > 0 {
		fmt.Fprintln(w, "  Errors:")
		for _, e := range res.Errors {
			fmt.Fprintf(w, "    - %s\n", e.Error())
		}
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintln(w, "  Warnings:")
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "    - %s\n", warn)
		}
	}
}

type generateFlags struct {
	mode, alignment, scope, timestamp string
	id, turn                          int
}

func (f *generateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", "", "Gen or Int (default from config)")
	cmd.Flags().IntVar(&f.id, "id", 0, "trace id (default: next id of the scope)")
	cmd.Flags().IntVar(&f.turn, "turn", 0, "derive mode and id from a 0-based conversation turn")
	cmd.Flags().StringVar(&f.alignment, "alignment", "", "Y or N (default from config)")
	cmd.Flags().StringVar(&f.scope, "scope", "", "trace id sequence (default from config)")
	cmd.Flags().StringVar(&f.timestamp, "timestamp", "", "timestamp as "+grammar.TimestampLayout+" (default now)")
}

func (f *generateFlags) options(cmd *cobra.Command) (engine.GenerateOptions, error) {
	opts := engine.GenerateOptions{
		Mode:      f.mode,
		Alignment: f.alignment,
		Scope:     f.scope,
		ActorID:   viper.GetString("actor-id"),
	}
	if cmd.Flags().Changed("id") {
		id := f.id
		opts.TraceID = &id
	}
	if cmd.Flags().Changed("turn") {
		turn := f.turn
		opts.Turn = &turn
	}
	if f.timestamp != "" {
		ts, err := time.ParseInLocation(grammar.TimestampLayout, f.timestamp, time.Local)
		if err != nil {
			return opts, fmt.Errorf("invalid --timestamp %q (expected %s)", f.timestamp, grammar.TimestampLayout)
		}
		opts.Timestamp = ts
	}
	return opts, nil
}

func generateCmd() *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Emit a canonical trace block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options(cmd)
			if err != nil {
				return err
			}
			return withGenerator(cmd.Context(), opts, func(ctx context.Context, e engine.Engine) error {
				g, err := e.Generate(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), g)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), g.Text)
				return err
			})
		},
	}
	f.register(cmd)
	return cmd
}

func annotateCmd() *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "annotate [file]",
		Short: "Append a trace block to a response",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			response, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			opts, err := f.options(cmd)
			if err != nil {
				return err
			}
			return withGenerator(cmd.Context(), opts, func(ctx context.Context, e engine.Engine) error {
				text, g, err := e.Annotate(ctx, response, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), map[string]any{"text": text, "mode": g.Mode, "trace_id": g.TraceID})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
				return err
			})
		},
	}
	f.register(cmd)
	return cmd
}

func extractCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Print the header-to-footer blocks found in text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			blocks := trace.Extract(text)
			w := cmd.OutOrStdout()
			if viper.GetBool("json") {
				type item struct {
					Text   string        `json:"text"`
					Result *trace.Result `json:"result,omitempty"`
				}
				items := make([]item, len(blocks))
				for i, b := range blocks {
					items[i].Text = b
					if check {
						res := trace.Check(b)
						items[i].Result = &res
					}
				}
				return printJSON(w, items)
			}
			for i, b := range blocks {
				if i > 0 {
					fmt.Fprintln(w)
				}
				fmt.Fprintln(w, b)
				if check {
					printResult(w, trace.Check(b))
				}
			}
			if len(blocks) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no trace blocks found")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "validate each extracted block")
	return cmd
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect saved validation runs",
	}
	runs.AddCommand(runsListCmd())
	runs.AddCommand(runsShowCmd())
	return runs
}

func runsListCmd() *cobra.Command {
	var limit int
	var cursor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			var createdAt, id string
			if cursor != "" {
				parts := strings.SplitN(cursor, "|", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid cursor %q", cursor)
				}
				createdAt, id = parts[0], parts[1]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRuns(ctx, limit+1, createdAt, id)
				if err != nil {
					return err
				}
				next := ""
				if len(items) > limit {
					items = items[:limit]
					next = items[limit-1].CreatedAt + "|" + items[limit-1].ID
				}
				w := cmd.OutOrStdout()
				if viper.GetBool("json") {
					return printJSON(w, map[string]any{"items": items, "next_cursor": next})
				}
				fmt.Fprintln(w, report.Runs(tableMode(e.Config), items))
				if next != "" {
					fmt.Fprintf(w, "next: --cursor '%s'\n", next)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from the previous page")
	return cmd
}

func runsShowCmd() *cobra.Command {
	var reportFormat string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				detail, err := e.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if viper.GetBool("json") {
					return printJSON(w, detail)
				}
				format, err := resolveFormat(reportFormat, e.Config)
				if err != nil {
					return err
				}
				if format == report.Text {
					fmt.Fprintf(w, "Run %s (%s, %s split, by %s at %s)\n\n", detail.Run.ID, detail.Run.Source, detail.Run.Strategy, detail.Run.ActorID, detail.Run.CreatedAt)
				}
				return report.Write(w, format, report.FromStored(detail.Results))
			})
		},
	}
	cmd.Flags().StringVar(&reportFormat, "report", "", "report format: text, json, table or markdown")
	return cmd
}

func challengeCmd() *cobra.Command {
	ch := &cobra.Command{
		Use:   "challenge",
		Short: "Browse the evaluation challenge catalog",
	}
	ch.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List challenges",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			items := engine.New(nil, cfg).Challenges()
			return printJSONOrTable(cmd.OutOrStdout(), items, func() string {
				return report.Challenges(tableMode(cfg), items)
			})
		},
	})
	ch.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := engine.New(nil, cfg).Challenge(args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(cmd.OutOrStdout(), c, func() string {
				return fmt.Sprintf("%s\n  %s\n  Metrics: %s", c.ID, c.Description, strings.Join(c.Metrics, ", "))
			})
		},
	})
	return ch
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage gyroscope.yml",
		Long:  "gyroscope.yml sets generation defaults, batch parallelism and split strategy, the report format, the challenge catalog and outbound webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				if perr := printJSON(cmd.OutOrStdout(), map[string]any{"ok": err == nil, "error": errString(err)}); perr != nil {
					return perr
				}
				if err != nil {
					return exitError{code: 1}
				}
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys for the HTTP server",
	}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyDeleteCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var name, owner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, raw, err := e.CreateAPIKey(ctx, owner, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), map[string]any{"id": k.ID, "actor_id": k.ActorID, "name": k.Name, "key": raw})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", raw)
				fmt.Fprintf(cmd.ErrOrStderr(), "created key %s for %s; store it now, it is not shown again\n", k.ID, k.ActorID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	cmd.Flags().StringVar(&owner, "for", "", "owning actor (default --actor-id)")
	return cmd
}

func keyListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, owner)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), keys, func() string {
					return report.APIKeys(tableMode(e.Config), keys)
				})
			})
		},
	}
	cmd.Flags().StringVar(&owner, "for", "", "only keys of this actor")
	return cmd
}

func keyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteAPIKey(ctx, args[0], viper.GetString("actor-id")); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("no API key %s", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP server",
		Long:  "Signs an HS256 token for --actor-id with the server secret (--jwt-secret or GYROSCOPE_JWT_SECRET).",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), viper.GetString("actor-id"), ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	bindSecretFlag(cmd)
	return cmd
}

func bindSecretFlag(cmd *cobra.Command) {
	cmd.Flags().String("jwt-secret", "", "HS256 secret (env GYROSCOPE_JWT_SECRET)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every saved run, generated block and API key change is recorded as an event.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), items, func() string {
					return report.Events(tableMode(e.Config), items)
				})
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind (run, block, api_key)")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Serves the API under --base-path with OpenAPI at <base>/openapi.json and Swagger UI at /docs.
With a JWT secret every request except health needs a bearer token or an X-Api-Key.
Configured webhooks receive events recorded while the server runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Logger: e.Log}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, e)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				if authCfg.JWTSecret == "" {
					e.Log.Warn("no JWT secret configured; the API accepts anonymous requests")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Serving Gyroscope API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	bindSecretFlag(cmd)
	return cmd
}
