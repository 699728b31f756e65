package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reportweaver/internal/shard"
	"reportweaver/internal/trace"
)

const errorBanner = "===-----------------------------------------------------==="

func newAnalyzeCommand(a *app) *cobra.Command {
	var (
		dataDir         string
		file            string
		logPath         string
		reports         string
		compileCommands string
		configFile      string
		extraArgs       string
		binary          string
		workDir         string
		ctu             bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one source file into a shard",
		Long: `Runs the analyzer for a single source file with its output in --data-dir,
then moves each analyzer's report to the destination given in --reports
("analyzer,dest;analyzer,dest").

Exit code 1 or a signal from the analyzer fails the command and prints the
invocation log. Other non-zero analyzer exit codes mean reports were found.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range []struct{ name, value string }{
				{"data-dir", dataDir}, {"file", file}, {"log", logPath}, {"reports", reports},
			} {
				if err := requireFlag(f.name, f.value); err != nil {
					return err
				}
			}
			outputs, err := shard.ParseReportOutputs(reports)
			if err != nil {
				return invalidInvocationf("--reports: %v", err)
			}

			inv := shard.Invocation{
				Binary:     firstNonEmpty(binary, a.cfg.Analyzer.Binary),
				Args:       a.cfg.Analyzer.Args,
				DataDir:    dataDir,
				Sources:    []string{file},
				ConfigFile: firstNonEmpty(configFile, a.cfg.Analyzer.ConfigFile),
				LogPath:    logPath,
				CTU:        ctu,
				WorkDir:    workDir,
			}
			if cmd.Flags().Changed("args") {
				inv.Args = strings.Fields(extraArgs)
			}
			if cc := firstNonEmpty(compileCommands, a.cfg.Analyzer.CompileCommands); cc != "" {
				dir := workDir
				if dir == "" {
					if dir, err = os.Getwd(); err != nil {
						return err
					}
				}
				inv.CompileCommands = cc + ".abs"
				if err := shard.PrepareCompileCommands(cc, inv.CompileCommands, dir); err != nil {
					return fmt.Errorf("prepare compile commands: %w", err)
				}
			}

			executor := &shard.Executor{Logger: a.log}
			if _, err := executor.Analyze(cmd.Context(), inv); err != nil {
				var aerr *shard.AnalyzerError
				if errors.As(err, &aerr) {
					fmt.Fprintln(cmd.ErrOrStderr(), errorBanner)
					fmt.Fprintf(cmd.ErrOrStderr(), "[ERROR]: CodeChecker returned with %d!\n", aerr.ExitCode)
					fmt.Fprint(cmd.ErrOrStderr(), aerr.Log)
				}
				trace.SafeRecord(a.rec, trace.Event{Kind: trace.EventShardFailed, Subject: dataDir, Reason: "AnalyzerFailed"})
				return err
			}

			moved, err := shard.CollectReports(cmd.Context(), dataDir, outputs)
			if err != nil {
				return fmt.Errorf("collect reports: %w", err)
			}
			trace.SafeRecord(a.rec, trace.Event{Kind: trace.EventShardAnalyzed, Subject: dataDir, Reason: "per-file", Count: moved})
			a.log.Info("analyzed source", zap.String("file", file), zap.Int("reports", moved))
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Analyzer output directory. Required.")
	cmd.Flags().StringVar(&file, "file", "", "Source file to analyze. Required.")
	cmd.Flags().StringVar(&logPath, "log", "", "Invocation log file. Required.")
	cmd.Flags().StringVar(&reports, "reports", "", "Report destinations as analyzer,dest;analyzer,dest. Required.")
	cmd.Flags().StringVar(&compileCommands, "compile-commands", "", "Compilation database with relative directories")
	cmd.Flags().StringVar(&configFile, "config-file", "", "Analyzer configuration file")
	cmd.Flags().StringVar(&extraArgs, "args", "", "Extra analyzer arguments, whitespace separated")
	cmd.Flags().StringVar(&binary, "binary", "", "Analyzer driver executable")
	cmd.Flags().StringVar(&workDir, "workdir", "", "Working directory for the analyzer (default: current)")
	cmd.Flags().BoolVar(&ctu, "ctu", false, "Enable cross translation unit analysis")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
