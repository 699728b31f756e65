package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"reportweaver/internal/shard"
)

func newShardsCommand(a *app) *cobra.Command {
	var (
		root        string
		ctu         bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "shards <source>...",
		Short: "Analyze sources into one shard per unit",
		Long: `Analyzes each source as its own unit, or all sources as one whole-program
unit with --ctu, writing one shard directory per unit under --root. Prints
one line per shard: name, directory and status.`,
		Args: minArgs(1, "<source>..."),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("root", root); err != nil {
				return err
			}
			rootDir, err := cleanPath("--root", root)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = a.cfg.Analyzer.Concurrency
			}

			var units []shard.Unit
			if ctu {
				units = []shard.Unit{shard.WholeProgramUnit(args...)}
			} else {
				for _, src := range args {
					units = append(units, shard.PerFileUnit(src))
				}
			}

			template := shard.Invocation{
				Binary:     a.cfg.Analyzer.Binary,
				Args:       a.cfg.Analyzer.Args,
				ConfigFile: a.cfg.Analyzer.ConfigFile,
			}
			if cc := a.cfg.Analyzer.CompileCommands; cc != "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				template.CompileCommands = filepath.Join(rootDir, "compile_commands.json.abs")
				if err := shard.PrepareCompileCommands(cc, template.CompileCommands, wd); err != nil {
					return fmt.Errorf("prepare compile commands: %w", err)
				}
			}

			o := &shard.Orchestrator{
				Layout:      shard.Layout{Root: rootDir},
				Analyzer:    shard.CodeChecker{Executor: &shard.Executor{Logger: a.log}, Template: template},
				Concurrency: concurrency,
				Logger:      a.log,
				Trace:       a.rec,
			}
			results, runErr := o.Run(cmd.Context(), units)
			a.result.Shards = results
			for _, r := range results {
				status := "ok"
				if r.Err != nil {
					status = "failed: " + r.Err.Error()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.Shard.Name, r.Shard.Dir, status)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Directory shards are created under. Required.")
	cmd.Flags().BoolVar(&ctu, "ctu", false, "Analyze all sources as one whole-program unit")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Units analyzed in parallel (default from configuration)")
	return cmd
}
