package cli

import (
	"github.com/spf13/cobra"

	"reportweaver/internal/normalize"
	"reportweaver/internal/symlink"
)

func newNormalizeCommand(a *app) *cobra.Command {
	var (
		input   string
		output  string
		baseDir string
	)

	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Rewrite source paths in report and fixit files",
		Long: `Walks --input and rewrites the source paths embedded in plist reports and
YAML fixit files: sandbox prefixes are stripped by the configured rewrite
rules, then symlinks such as virtual includes are resolved to real files.

Results keep their relative path under --output. Without --output the files
are updated in place.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("input", input); err != nil {
				return err
			}
			in, err := cleanPath("--input", input)
			if err != nil {
				return err
			}
			out := in
			if output != "" {
				if out, err = cleanPath("--output", output); err != nil {
					return err
				}
			}
			if baseDir == "" {
				baseDir = a.cfg.Normalize.BaseDir
			}
			rules, err := a.cfg.RuleSet()
			if err != nil {
				return err
			}

			n := normalize.New(normalize.Options{
				Rules:    rules,
				Resolver: symlink.NewResolver(baseDir),
				Logger:   a.log,
				Trace:    a.rec,
			})
			stats, err := n.Normalize(cmd.Context(), in, out)
			a.result.Normalize = &stats
			return err
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Directory holding analyzer output. Required.")
	cmd.Flags().StringVar(&output, "output", "", "Directory for normalized files (default: in place)")
	cmd.Flags().StringVar(&baseDir, "base", "", "Directory relative artifact paths are resolved against")
	return cmd
}
