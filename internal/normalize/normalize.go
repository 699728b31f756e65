// Package normalize rewrites source paths embedded in analysis artifacts so
// they point at the real source tree instead of sandbox or remote-worker
// locations.
package normalize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"go.uber.org/zap"

	"reportweaver/internal/fileutil"
	"reportweaver/internal/logging"
	"reportweaver/internal/rewrite"
	"reportweaver/internal/symlink"
	"reportweaver/internal/trace"
)

// Options configures a Normalizer. Zero values fall back to the default
// rewrite rules, a resolver anchored at the working directory, a no-op
// logger and no trace.
type Options struct {
	Rules    *rewrite.RuleSet
	Resolver *symlink.Resolver
	Logger   *zap.Logger
	Trace    trace.Sink
}

// Normalizer rewrites artifact paths in two passes. The rule set is first
// applied to the whole content of every text artifact, so sandbox prefixes
// disappear from metadata, diagnostics and any other embedded string. Then
// each path field of a report or trace is resolved to its canonical real
// location. Resolution needs the prefixes gone to find the path on disk.
type Normalizer struct {
	rules    *rewrite.RuleSet
	resolver *symlink.Resolver
	log      *zap.Logger
	trace    trace.Sink
	fs       afs.Service
}

// Stats summarizes a Normalize pass.
type Stats struct {
	// Processed counts every file visited.
	Processed int
	// Rewritten counts files written with at least one change.
	Rewritten int
	// Copied counts files carried over unchanged into a separate output.
	Copied int
	// Untouched counts unchanged files left alone during an in-place pass.
	Untouched int
	// Stripped counts rule matches removed across all files.
	Stripped int
	// UpdatedPaths counts path fields changed by resolution across all files.
	UpdatedPaths int
}

var binaryPlistMagic = []byte("bplist")

func New(opts Options) *Normalizer {
	n := &Normalizer{
		rules:    opts.Rules,
		resolver: opts.Resolver,
		log:      logging.OrNop(opts.Logger),
		trace:    opts.Trace,
		fs:       afs.New(),
	}
	if n.rules == nil {
		n.rules = rewrite.Default()
	}
	if n.resolver == nil {
		n.resolver = symlink.NewResolver("")
	}
	n.log.Debug("normalizer configured", zap.Int("rules", n.rules.Len()))
	return n
}

// Resolve maps one embedded path to its final form.
func (n *Normalizer) Resolve(p string) string {
	out := n.resolver.Canonical(n.rules.Rewrite(p))
	if out != p {
		n.log.Debug("updating path", zap.String("from", p), zap.String("to", out))
	}
	return out
}

// strip applies the rule set to a whole text artifact. Binary content,
// including binary plists, is returned as-is; reports get their strings
// rewritten after decoding instead.
func (n *Normalizer) strip(data []byte) ([]byte, int) {
	if bytes.HasPrefix(data, binaryPlistMagic) || !utf8.Valid(data) {
		return data, 0
	}
	return n.rules.RewriteText(data)
}

func (n *Normalizer) stripValue(s string) (string, int) {
	out, count := n.rules.RewriteText([]byte(s))
	if count == 0 {
		return s, 0
	}
	return string(out), count
}

// Normalize processes every file under inputDir in sorted order and writes
// results under outputDir at the same relative path. outputDir may equal
// inputDir, in which case unchanged files are not rewritten.
func (n *Normalizer) Normalize(ctx context.Context, inputDir, outputDir string) (Stats, error) {
	var stats Stats
	in, err := filepath.Abs(inputDir)
	if err != nil {
		return stats, err
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return stats, err
	}
	inPlace := in == out

	files, err := n.collect(ctx, in)
	if err != nil {
		return stats, fmt.Errorf("walk %s: %w", in, err)
	}
	n.log.Info("resolving file paths in analyzer output",
		zap.String("input", in), zap.String("output", out), zap.Int("files", len(files)))

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := n.normalizeFile(ctx, in, out, rel, inPlace, &stats); err != nil {
			return stats, err
		}
	}
	n.log.Info("processed file paths",
		zap.Int("processed", stats.Processed),
		zap.Int("rewritten", stats.Rewritten),
		zap.Int("stripped", stats.Stripped),
		zap.Int("updated_paths", stats.UpdatedPaths))
	return stats, nil
}

func (n *Normalizer) collect(ctx context.Context, root string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}
	var files []string
	var visitor storage.OnVisit = func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (bool, error) {
		if info.IsDir() {
			return true, nil
		}
		files = append(files, path.Join(strings.Trim(parent, "/"), info.Name()))
		return true, nil
	}
	if err := n.fs.Walk(ctx, root, visitor); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (n *Normalizer) normalizeFile(ctx context.Context, in, out, rel string, inPlace bool, stats *Stats) error {
	src := filepath.Join(in, filepath.FromSlash(rel))
	dst := filepath.Join(out, filepath.FromSlash(rel))
	stats.Processed++

	data, err := n.fs.DownloadWithURL(ctx, src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	kind := KindOf(rel)
	content, stripped := n.strip(data)
	var changed int
	switch kind {
	case KindReport:
		n.log.Debug("processing plist file", zap.String("path", rel))
		updated, s, c, err := rewriteReport(content, n.stripValue, n.Resolve)
		if err != nil {
			n.log.Warn("could not rewrite report paths, carrying it over with prefixes stripped",
				zap.String("path", rel), zap.Error(err))
		} else if updated != nil {
			content = updated
			stripped += s
			changed = c
		}
	case KindTrace:
		n.log.Debug("processing YAML file", zap.String("path", rel))
		if updated, c := rewriteTrace(content, n.Resolve); c > 0 {
			content = updated
			changed = c
		}
	case KindUnknown:
	}

	if stripped > 0 || changed > 0 {
		if err := fileutil.WriteFileAtomic(dst, content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", dst, err)
		}
		stats.Rewritten++
		stats.Stripped += stripped
		stats.UpdatedPaths += changed
		n.log.Debug("updated paths", zap.String("path", rel), zap.Int("stripped", stripped), zap.Int("resolved", changed))
		trace.SafeRecord(n.trace, trace.Event{Kind: trace.EventArtifactNormalized, Subject: rel, Reason: kind.String(), Count: stripped + changed})
		return nil
	}

	if inPlace {
		stats.Untouched++
		trace.SafeRecord(n.trace, trace.Event{Kind: trace.EventArtifactUntouched, Subject: rel, Reason: kind.String()})
		return nil
	}
	if err := fileutil.WriteFileAtomic(dst, data, 0o644); err != nil {
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	stats.Copied++
	trace.SafeRecord(n.trace, trace.Event{Kind: trace.EventArtifactCopied, Subject: rel, Reason: kind.String()})
	return nil
}
