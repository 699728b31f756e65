package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reportweaver/internal/config"
	"reportweaver/internal/logging"
	"reportweaver/internal/metadata"
	"reportweaver/internal/normalize"
	"reportweaver/internal/shard"
	"reportweaver/internal/trace"
)

// CLIResult is the outcome of one invocation. Only the field of the command
// that ran is set.
type CLIResult struct {
	ExitCode  int
	Merge     *metadata.Result
	Normalize *normalize.Stats
	Symlinks  int
	Shards    []shard.Result
}

// app carries per-invocation state shared by the commands.
type app struct {
	configPath string
	verbose    bool
	tracePath  string

	stdout io.Writer
	stderr io.Writer

	started bool
	cfg     config.Config
	log     *zap.Logger
	rec     *trace.Recorder
	result  CLIResult
}

// Run is a high-level CLI entrypoint suitable for black-box tests.
// It accepts the argument slice (excluding argv[0]) and returns the semantic
// exit code plus any error.
func Run(ctx context.Context, args []string) (CLIResult, error) {
	return RunWithIO(ctx, args, os.Stdout, os.Stderr)
}

// RunWithIO is Run with explicit command output streams. Logs always go to
// stderr.
func RunWithIO(ctx context.Context, args []string, stdout, stderr io.Writer) (CLIResult, error) {
	a := &app{stdout: stdout, stderr: stderr, rec: trace.NewRecorder(), log: zap.NewNop()}
	root := newRootCommand(a)
	if args == nil {
		// cobra reads os.Args for a nil slice
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil && !a.started {
		// cobra rejected the command line before any command ran
		var invErr *InvocationError
		if !errors.As(err, &invErr) {
			err = &InvocationError{ExitCode: ExitInvalidInvocation, Message: err.Error()}
		}
	}
	if a.tracePath != "" && a.started {
		if werr := a.rec.Trace().WriteFile(a.tracePath); werr != nil {
			a.log.Warn("could not write trace", zap.String("path", a.tracePath), zap.Error(werr))
		}
	}
	_ = a.log.Sync()

	a.result.ExitCode = ExitCode(err)
	return a.result, err
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reportweaver",
		Short: "Merge and normalize sharded static analysis results",
		Long: `reportweaver turns per-file analyzer output produced inside a build
sandbox into one coherent project-wide result: it merges the per-shard run
metadata and rewrites the source paths embedded in report and fixit files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.started = true
			cfg := config.Default()
			if a.configPath != "" {
				var err error
				cfg, err = config.Load(a.configPath)
				if err != nil {
					return err
				}
			}
			a.cfg = cfg

			log, err := logging.New(a.verbose || cfg.Logging.Verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.log = log.With(zap.String("run", a.rec.RunID()))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&a.tracePath, "trace", "", "Write the canonical event trace to this path")

	cmd.AddCommand(newMergeCommand(a))
	cmd.AddCommand(newNormalizeCommand(a))
	cmd.AddCommand(newSymlinksCommand(a))
	cmd.AddCommand(newAnalyzeCommand(a))
	cmd.AddCommand(newShardsCommand(a))
	return cmd
}
