package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gyroscope/internal/app"
	"gyroscope/internal/config"
	"gyroscope/internal/engine"
	"gyroscope/internal/logging"
	"gyroscope/internal/report"
)

const rootLong = `Gyroscope checks, generates and stores reasoning trace blocks.
- Trace block: a fixed 14-line footer an assistant appends to each reply, declaring four
  reasoning states (@ & % ~), the two modes (Generative, Integrative) and a data line
  with timestamp, mode, alignment and trace id.
- Parse: structural and format checks, line by line at fixed positions.
- Validate: parse plus semantic rules (state order in Generative mode, mode paths).
- Batch: split a transcript into candidate blocks and check each one.
- Workspace: a .gyroscope directory holding saved runs, trace-id sequences and the event log;
  gyroscope.yml next to it sets defaults and the challenge catalog.`

// exitError carries a process exit code without printing anything more.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gyro",
		Short:         "Gyroscope trace block toolkit",
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(viper.GetString("log-level"))
			if err != nil {
				return err
			}
			logging.Init(level, viper.GetString("log-format"), cmd.ErrOrStderr())
			return nil
		},
	}
	addPersistentFlags(root)
	registerCommands(root)
	return root
}

func main() {
	cobra.OnInitialize(initConfig)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GYROSCOPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to <workspace>/"+config.FileName+")")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(validateCmd())
	root.AddCommand(parseCmd())
	root.AddCommand(generateCmd())
	root.AddCommand(annotateCmd())
	root.AddCommand(extractCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(challengeCmd())
	root.AddCommand(configCmd())
	root.AddCommand(keyCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(logCmd())
	root.AddCommand(serveCmd())
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	ws, err := app.OpenWorkspace(ctx, viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine)
}

// withGenerator opens the workspace only when a trace id has to be allocated
// from its sequence.
func withGenerator(ctx context.Context, opts engine.GenerateOptions, fn func(context.Context, engine.Engine) error) error {
	if opts.TraceID == nil && opts.Turn == nil {
		return withEngine(ctx, fn)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(nil, cfg))
}

// loadConfig resolves the config without touching the database.
func loadConfig() (*config.Config, error) {
	return app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
}

func tableMode(cfg *config.Config) report.TableMode {
	if cfg != nil && cfg.Report.Format == string(report.MarkdownTable) {
		return report.Markdown
	}
	return report.ASCII
}

func printJSONOrTable(w io.Writer, v any, table func() string) error {
	if viper.GetBool("json") || table == nil {
		return printJSON(w, v)
	}
	_, err := fmt.Fprintln(w, table())
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// readInput returns the contents of the single optional file argument, or
// stdin when it is absent or "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", err
	}
	return string(data), nil
}
