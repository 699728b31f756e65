package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reportweaver/internal/symlink"
	"reportweaver/internal/trace"
)

func newSymlinksCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "symlinks <root> <output>",
		Short: "Write the symlink map of a build tree as JSON",
		Args:  exactArgs(2, "<root>", "<output>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := cleanPath("root", args[0])
			if err != nil {
				return err
			}
			output, err := cleanPath("output", args[1])
			if err != nil {
				return err
			}

			m, err := symlink.BuildMap(root)
			if err != nil {
				return invalidInvocationf("symlinks: %v", err)
			}
			broken := m.Broken()
			for _, p := range broken {
				a.log.Debug("broken symlink", zap.String("link", p), zap.String("error", m[p].Err))
				trace.SafeRecord(a.rec, trace.Event{Kind: trace.EventLinkBroken, Subject: p})
			}
			if err := m.WriteJSON(output); err != nil {
				return err
			}
			a.result.Symlinks = len(m)
			a.log.Info("wrote symlink map",
				zap.String("path", output), zap.Int("links", len(m)), zap.Int("broken", len(broken)))
			return nil
		},
	}
}
