package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"reportweaver/internal/config"
	"reportweaver/internal/metadata"
	"reportweaver/internal/shard"
)

const (
	ExitSuccess           = 0
	ExitNoData            = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error returned by Run to the process exit code.
//
//   - no shard data, or an analyzer failure: 1
//   - bad flags or arguments: 2
//   - bad configuration or a metadata schema mismatch: 3
//   - anything else: 4
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	switch {
	case errors.Is(err, metadata.ErrNoShards), errors.Is(err, shard.ErrAnalyzerFailed):
		return ExitNoData
	case errors.Is(err, metadata.ErrSchemaMismatch), errors.Is(err, config.ErrInvalid):
		return ExitConfigError
	default:
		return ExitInternalError
	}
}

func exactArgs(n int, names ...string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if n == 0 && len(args) > 0 {
			return invalidInvocationf("%s: unexpected positional arguments: %q", cmd.Name(), strings.Join(args, " "))
		}
		if len(args) != n {
			return invalidInvocationf("%s: expected %d arguments (%s), got %d", cmd.Name(), n, strings.Join(names, " "), len(args))
		}
		return nil
	}
}

func minArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return invalidInvocationf("%s: expected at least %d arguments (%s), got %d", cmd.Name(), n, usage, len(args))
		}
		return nil
	}
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalidInvocationf("--%s is required", name)
	}
	return nil
}

// cleanPath rejects empty and "." paths and returns p cleaned.
func cleanPath(name, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("%s must not be empty", name)
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("%s must not be '.'", name)
	}
	return clean, nil
}
