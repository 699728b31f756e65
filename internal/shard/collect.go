package shard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/viant/afs"
)

// ReportOutput routes the report file of one analyzer to a fixed path.
type ReportOutput struct {
	Analyzer string
	Dest     string
}

// ParseReportOutputs parses "analyzer,dest;analyzer,dest".
func ParseReportOutputs(s string) ([]ReportOutput, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []ReportOutput
	for i, item := range strings.Split(s, ";") {
		parts := strings.Split(item, ",")
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("report output %d: want analyzer,dest, got %q", i, item)
		}
		out = append(out, ReportOutput{Analyzer: strings.TrimSpace(parts[0]), Dest: strings.TrimSpace(parts[1])})
	}
	return out, nil
}

// CollectReports moves report files out of dataDir to their declared
// destinations, dropping the content hash the analyzer puts in report file
// names. A file is matched by the first output whose analyzer appears as
// "_<analyzer>_" in its name. It returns the number of files moved.
func CollectReports(ctx context.Context, dataDir string, outputs []ReportOutput) (int, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return 0, err
	}
	patterns := make([]*regexp.Regexp, len(outputs))
	for i, o := range outputs {
		patterns[i] = regexp.MustCompile(`_` + regexp.QuoteMeta(o.Analyzer) + `_.*\.plist$`)
	}

	fs := afs.New()
	moved := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		for i, re := range patterns {
			if !re.MatchString(entry.Name()) {
				continue
			}
			dest := outputs[i].Dest
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return moved, err
			}
			if err := fs.Move(ctx, filepath.Join(dataDir, entry.Name()), dest); err != nil {
				return moved, fmt.Errorf("move %s: %w", entry.Name(), err)
			}
			moved++
			break
		}
	}
	return moved, nil
}
