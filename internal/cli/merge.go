package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reportweaver/internal/metadata"
)

func newMergeCommand(a *app) *cobra.Command {
	var cached []string

	cmd := &cobra.Command{
		Use:   "merge <output> <input>...",
		Short: "Merge per-shard run metadata into one document",
		Long: `Merges metadata.json documents from analyzer shards, in argument order.

Inputs that are missing or cannot be decoded are skipped with a warning. If
no input contributes data, nothing is written and the exit code is 1. Inputs
with differing schema versions abort the merge with exit code 3.`,
		Args: minArgs(1, "<output> <input>..."),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := cleanPath("output", args[0])
			if err != nil {
				return err
			}
			res, err := metadata.MergeFiles(args[1:], metadata.Options{
				Cached: cached,
				Logger: a.log,
				Trace:  a.rec,
			})
			a.result.Merge = res
			if err != nil {
				return err
			}
			if err := metadata.WriteFile(output, res.Merged); err != nil {
				return err
			}
			a.log.Info("saved merged metadata", zap.String("path", output))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&cached, "cached", nil, "Input restored from a build cache; excluded from the time window (repeatable)")
	return cmd
}
