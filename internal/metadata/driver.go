package metadata

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"reportweaver/internal/fileutil"
	"reportweaver/internal/logging"
	"reportweaver/internal/trace"
)

// Options configures MergeFiles.
type Options struct {
	// Cached names inputs that were restored from a build cache rather than
	// produced by this run. Their timestamps are left out of the merged time
	// window; everything else merges normally.
	Cached []string

	Logger *zap.Logger
	Trace  trace.Sink
}

// SkippedInput is an input MergeFiles could not use.
type SkippedInput struct {
	Path string
	Err  error
}

// Result is the outcome of MergeFiles.
type Result struct {
	Merged  ShardMetadata
	Used    []string
	Skipped []SkippedInput
}

// MergeFiles reads the documents at paths and merges them in order.
//
// A missing or unparsable input is logged, recorded and skipped. A schema
// version mismatch aborts the merge. When no input contributes any data the
// error is ErrNoShards.
func MergeFiles(paths []string, opts Options) (*Result, error) {
	log := logging.OrNop(opts.Logger)
	cached := make(map[string]bool, len(opts.Cached))
	for _, p := range opts.Cached {
		cached[filepath.Clean(p)] = true
	}

	res := &Result{}
	var window *Timestamps
	for _, path := range paths {
		shard, err := ReadFile(path)
		if err != nil {
			reason := "Unparsable"
			if errors.Is(err, fs.ErrNotExist) {
				reason = "NotFound"
				log.Warn("metadata shard not found, skipping", zap.String("path", path))
			} else {
				log.Warn("could not decode metadata shard, skipping", zap.String("path", path), zap.Error(err))
			}
			res.Skipped = append(res.Skipped, SkippedInput{Path: path, Err: err})
			trace.SafeRecord(opts.Trace, trace.Event{Kind: trace.EventShardSkipped, Subject: path, Reason: reason})
			continue
		}
		if n := shard.DroppedTools(); n > 0 {
			log.Warn("metadata shard has more than one tool entry, only the first is merged",
				zap.String("path", path), zap.Int("dropped", n))
		}
		for k := range shard.ResultSourceFiles {
			if _, ok := res.Merged.ResultSourceFiles[k]; ok {
				log.Debug("result source file reported by more than one shard", zap.String("source", k), zap.String("path", path))
			}
		}

		merged, err := Combine(res.Merged, shard)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", path, err)
		}
		res.Merged = merged
		res.Used = append(res.Used, path)

		reason := ""
		if cached[filepath.Clean(path)] {
			reason = "Cached"
		} else if !shard.IsEmpty() {
			window = widen(window, shard.Timestamps)
		}
		trace.SafeRecord(opts.Trace, trace.Event{
			Kind:    trace.EventShardMerged,
			Subject: path,
			Reason:  reason,
			Count:   len(shard.ResultSourceFiles),
		})
	}

	if res.Merged.IsEmpty() {
		return res, ErrNoShards
	}
	switch {
	case window != nil:
		res.Merged.Timestamps = *window
	case len(cached) > 0:
		log.Warn("every merged shard was restored from cache, time window covers cached runs")
	}
	log.Info("merged metadata shards",
		zap.Int("used", len(res.Used)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("sources", len(res.Merged.ResultSourceFiles)))
	return res, nil
}

// WriteFile atomically writes the encoding of m to path.
func WriteFile(path string, m ShardMetadata) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, b, 0o644)
}

func widen(w *Timestamps, ts Timestamps) *Timestamps {
	if w == nil {
		return &Timestamps{Begin: ts.Begin, End: ts.End}
	}
	if ts.Begin < w.Begin {
		w.Begin = ts.Begin
	}
	if ts.End > w.End {
		w.End = ts.End
	}
	return w
}
