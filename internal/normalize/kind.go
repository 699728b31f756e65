package normalize

import (
	"path/filepath"
	"strings"
)

// Kind identifies how an analysis artifact is processed.
type Kind int

const (
	// KindUnknown artifacts are carried over byte for byte.
	KindUnknown Kind = iota
	// KindReport is a plist report with a top-level "files" array.
	KindReport
	// KindTrace is a line-oriented YAML fixit or trace file.
	KindTrace
)

func (k Kind) String() string {
	switch k {
	case KindReport:
		return "report"
	case KindTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// KindOf classifies a file by its extension.
func KindOf(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".plist":
		return KindReport
	case ".yaml", ".yml":
		return KindTrace
	default:
		return KindUnknown
	}
}
