// Package cmd implements the harvester command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/topic-harvester/internal/app"
	"github.com/JakeFAU/topic-harvester/internal/config"
	"github.com/JakeFAU/topic-harvester/internal/logging"
)

// Runner is the slice of *app.App the root command drives.
type Runner interface {
	Run(ctx context.Context) (app.Outcome, error)
	Close()
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, out io.Writer) (Runner, error) {
	return app.New(ctx, cfg, logger, app.WithOutput(out))
}

// exitError carries a process exit code out of cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

type rootOptions struct {
	configFile string
	outputDir  string
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if o.outputDir != "" {
		cfg.Output.Dir = o.outputDir
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvest encyclopedia articles for a list of topics",
		Long: `harvester resolves each configured topic to encyclopedia articles, extracts
their lead text and structured fields, and writes a CSV record set, a text
digest and a JSON run report.

Exit codes: 0 success, 1 fatal error, 2 finished with failed queries,
3 no data collected.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&opts.outputDir, "output-dir", "", "override output.dir")

	cmd.AddCommand(newTopicsCmd(opts))
	return cmd
}

func runHarvest(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return &exitError{code: app.ExitFatal, err: err}
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return &exitError{code: app.ExitFatal, err: err}
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	a, err := newApp(cmd.Context(), cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return &exitError{code: app.ExitFatal, err: fmt.Errorf("initialize application services: %w", err)}
	}
	defer a.Close()

	out, err := a.Run(cmd.Context())
	if err != nil {
		logger.Error("harvest failed", zap.Error(err))
		return &exitError{code: app.ExitFatal, err: err}
	}
	logger.Info("harvest command finished", zap.Int("exit_code", out.Code), zap.Strings("files", out.Paths))
	if out.Code != app.ExitOK {
		return &exitError{code: out.Code}
	}
	return nil
}

// run executes the command tree and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return app.ExitOK
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return app.ExitFatal
}

// Execute runs the CLI against os.Args and returns the exit code. SIGINT and
// SIGTERM cancel the run; a canceled run writes no output.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
