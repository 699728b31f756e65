package metadata

import (
	"bytes"
	"encoding/json"
)

// Combine merges b into a copy of a. Neither operand is modified.
//
//   - the empty document is the identity on either side
//   - differing schema versions fail with a *SchemaMismatchError
//   - result source files are unioned; on a key collision b wins
//   - skipped entries are concatenated, a's first
//   - the time window widens to min(begin) and max(end)
//   - analyzer counters add and source lists concatenate; an analyzer
//     present on only one side is carried through
//   - uninterpreted fields keep a's value when both sides have one
func Combine(a, b ShardMetadata) (ShardMetadata, error) {
	if a.IsEmpty() {
		return b.clone(), nil
	}
	if b.IsEmpty() {
		return a.clone(), nil
	}
	if !bytes.Equal(a.Version, b.Version) {
		return ShardMetadata{}, &SchemaMismatchError{Left: string(a.Version), Right: string(b.Version)}
	}

	out := ShardMetadata{
		Version:      append(json.RawMessage(nil), a.Version...),
		Timestamps:   a.Timestamps,
		droppedTools: a.droppedTools + b.droppedTools,
	}

	out.ResultSourceFiles = make(map[string]json.RawMessage, len(a.ResultSourceFiles)+len(b.ResultSourceFiles))
	for k, v := range a.ResultSourceFiles {
		out.ResultSourceFiles[k] = v
	}
	for k, v := range b.ResultSourceFiles {
		out.ResultSourceFiles[k] = v
	}

	out.Skipped = make([]json.RawMessage, 0, len(a.Skipped)+len(b.Skipped))
	out.Skipped = append(out.Skipped, a.Skipped...)
	out.Skipped = append(out.Skipped, b.Skipped...)

	if b.Timestamps.Begin < out.Timestamps.Begin {
		out.Timestamps.Begin = b.Timestamps.Begin
	}
	if b.Timestamps.End > out.Timestamps.End {
		out.Timestamps.End = b.Timestamps.End
	}

	out.Analyzers = make(map[string]Analyzer, len(a.Analyzers)+len(b.Analyzers))
	for name, an := range a.Analyzers {
		out.Analyzers[name] = an.clone()
	}
	for name, bn := range b.Analyzers {
		an, ok := out.Analyzers[name]
		if !ok {
			out.Analyzers[name] = bn.clone()
			continue
		}
		an.Statistics.Failed += bn.Statistics.Failed
		an.Statistics.FailedSources = append(an.Statistics.FailedSources, bn.Statistics.FailedSources...)
		an.Statistics.Successful += bn.Statistics.Successful
		an.Statistics.SuccessfulSources = append(an.Statistics.SuccessfulSources, bn.Statistics.SuccessfulSources...)
		an.extra = leftBiased(an.extra, bn.extra)
		out.Analyzers[name] = an
	}

	out.toolExtra = leftBiased(a.toolExtra, b.toolExtra)
	out.docExtra = leftBiased(a.docExtra, b.docExtra)
	return out, nil
}

// Merge folds Combine over shards from the identity, left to right.
func Merge(shards ...ShardMetadata) (ShardMetadata, error) {
	var acc ShardMetadata
	for _, s := range shards {
		next, err := Combine(acc, s)
		if err != nil {
			return ShardMetadata{}, err
		}
		acc = next
	}
	return acc, nil
}

func (m ShardMetadata) clone() ShardMetadata {
	out := ShardMetadata{
		Timestamps:   m.Timestamps,
		toolExtra:    cloneRaw(m.toolExtra),
		docExtra:     cloneRaw(m.docExtra),
		droppedTools: m.droppedTools,
	}
	if m.Version != nil {
		out.Version = append(json.RawMessage(nil), m.Version...)
	}
	out.ResultSourceFiles = cloneRaw(m.ResultSourceFiles)
	if m.Skipped != nil {
		out.Skipped = append([]json.RawMessage(nil), m.Skipped...)
	}
	if m.Analyzers != nil {
		out.Analyzers = make(map[string]Analyzer, len(m.Analyzers))
		for k, v := range m.Analyzers {
			out.Analyzers[k] = v.clone()
		}
	}
	return out
}

func leftBiased(a, b map[string]json.RawMessage) map[string]json.RawMessage {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(a)+len(b))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range a {
		out[k] = v
	}
	return out
}
