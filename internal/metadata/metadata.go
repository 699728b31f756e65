// Package metadata reads, combines and writes analyzer run metadata.
//
// A metadata document describes one analyzer invocation: the sources it
// covered, sources it skipped, its time window, and per-analyzer success and
// failure counters. Per-shard documents form a monoid under Combine with the
// empty document as identity, so a merged document is a left fold over the
// shards.
package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrSchemaMismatch is returned when two documents carry different
	// schema versions. It is never recoverable.
	ErrSchemaMismatch = errors.New("metadata schema version mismatch")
	// ErrNoShards is returned when no input produced any data.
	ErrNoShards = errors.New("no metadata shards could be merged")
)

// SchemaMismatchError records both versions of a failed combine.
type SchemaMismatchError struct {
	Left  string
	Right string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s: %s != %s", ErrSchemaMismatch, e.Left, e.Right)
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// Epoch is a point in time in fractional seconds since the Unix epoch.
// It decodes from a JSON number or a numeric string and always encodes as a
// number. null is rejected rather than read as the epoch itself.
type Epoch float64

func (e *Epoch) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return errors.New("epoch must be a number or numeric string, got null")
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*e = Epoch(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("epoch must be a number or numeric string, got %s", b)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("epoch: %w", err)
	}
	*e = Epoch(f)
	return nil
}

// Timestamps is the wall-clock window of a run.
type Timestamps struct {
	Begin Epoch `json:"begin"`
	End   Epoch `json:"end"`
}

// Statistics are the per-analyzer counters of a run.
type Statistics struct {
	Failed            int      `json:"failed"`
	FailedSources     []string `json:"failed_sources"`
	Successful        int      `json:"successful"`
	SuccessfulSources []string `json:"successful_sources"`
}

// Analyzer is one entry of the analyzers map. Keys other than
// analyzer_statistics are kept as-is.
type Analyzer struct {
	Statistics Statistics
	extra      map[string]json.RawMessage
}

func (a Analyzer) clone() Analyzer {
	return Analyzer{
		Statistics: Statistics{
			Failed:            a.Statistics.Failed,
			FailedSources:     append([]string(nil), a.Statistics.FailedSources...),
			Successful:        a.Statistics.Successful,
			SuccessfulSources: append([]string(nil), a.Statistics.SuccessfulSources...),
		},
		extra: cloneRaw(a.extra),
	}
}

func (a *Analyzer) UnmarshalJSON(b []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	var out Analyzer
	if err := take(obj, "analyzer_statistics", &out.Statistics, true); err != nil {
		return err
	}
	out.extra = remaining(obj)
	*a = out
	return nil
}

func (a Analyzer) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(a.extra)+1)
	for k, v := range a.extra {
		obj[k] = v
	}
	st := a.Statistics
	if st.FailedSources == nil {
		st.FailedSources = []string{}
	}
	if st.SuccessfulSources == nil {
		st.SuccessfulSources = []string{}
	}
	obj["analyzer_statistics"] = st
	return json.Marshal(obj)
}

// ShardMetadata is one metadata document. The zero value is the empty
// document, the identity of Combine.
//
// Only the first entry of the document's tools array is interpreted.
// Fields the merger does not interpret are carried through unchanged.
type ShardMetadata struct {
	// Version is the compact JSON encoding of the schema version. It is
	// compared byte-wise and never interpreted.
	Version           json.RawMessage
	Timestamps        Timestamps
	ResultSourceFiles map[string]json.RawMessage
	Skipped           []json.RawMessage
	Analyzers         map[string]Analyzer

	toolExtra    map[string]json.RawMessage
	docExtra     map[string]json.RawMessage
	droppedTools int
}

// IsEmpty reports whether m is the identity document.
func (m ShardMetadata) IsEmpty() bool {
	return len(m.Version) == 0 &&
		len(m.ResultSourceFiles) == 0 &&
		len(m.Skipped) == 0 &&
		len(m.Analyzers) == 0 &&
		len(m.toolExtra) == 0 &&
		len(m.docExtra) == 0
}

// DroppedTools is the number of tools entries beyond the first that were
// present in the decoded input and not carried.
func (m ShardMetadata) DroppedTools() int { return m.droppedTools }

// Decode parses a metadata document. "{}" decodes to the empty document.
func Decode(data []byte) (ShardMetadata, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return ShardMetadata{}, err
	}
	if len(doc) == 0 {
		return ShardMetadata{}, nil
	}

	var m ShardMetadata
	rawVersion, ok := doc["version"]
	if !ok {
		return ShardMetadata{}, errors.New(`missing field "version"`)
	}
	delete(doc, "version")
	var compact bytes.Buffer
	if err := json.Compact(&compact, rawVersion); err != nil {
		return ShardMetadata{}, fmt.Errorf("version: %w", err)
	}
	m.Version = compact.Bytes()

	var tools []map[string]json.RawMessage
	if err := take(doc, "tools", &tools, true); err != nil {
		return ShardMetadata{}, err
	}
	if len(tools) == 0 || tools[0] == nil {
		return ShardMetadata{}, errors.New("tools: at least one tool entry is required")
	}
	m.droppedTools = len(tools) - 1

	tool := tools[0]
	if err := take(tool, "result_source_files", &m.ResultSourceFiles, true); err != nil {
		return ShardMetadata{}, fmt.Errorf("tools[0]: %w", err)
	}
	if err := take(tool, "skipped", &m.Skipped, true); err != nil {
		return ShardMetadata{}, fmt.Errorf("tools[0]: %w", err)
	}
	if err := take(tool, "timestamps", &m.Timestamps, true); err != nil {
		return ShardMetadata{}, fmt.Errorf("tools[0]: %w", err)
	}
	if err := take(tool, "analyzers", &m.Analyzers, true); err != nil {
		return ShardMetadata{}, fmt.Errorf("tools[0]: %w", err)
	}
	m.toolExtra = remaining(tool)
	m.docExtra = remaining(doc)
	return m, nil
}

// ReadFile reads and decodes the document at path.
func ReadFile(path string) (ShardMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ShardMetadata{}, err
	}
	return Decode(data)
}

// MarshalJSON encodes m in the on-disk document shape with a single tools
// entry. Absent collections are written as empty ones.
func (m ShardMetadata) MarshalJSON() ([]byte, error) {
	if m.IsEmpty() {
		return []byte("{}"), nil
	}

	tool := make(map[string]any, len(m.toolExtra)+4)
	for k, v := range m.toolExtra {
		tool[k] = v
	}
	files := m.ResultSourceFiles
	if files == nil {
		files = map[string]json.RawMessage{}
	}
	skipped := m.Skipped
	if skipped == nil {
		skipped = []json.RawMessage{}
	}
	analyzers := m.Analyzers
	if analyzers == nil {
		analyzers = map[string]Analyzer{}
	}
	tool["result_source_files"] = files
	tool["skipped"] = skipped
	tool["timestamps"] = m.Timestamps
	tool["analyzers"] = analyzers

	doc := make(map[string]any, len(m.docExtra)+2)
	for k, v := range m.docExtra {
		doc[k] = v
	}
	version := m.Version
	if len(version) == 0 {
		version = json.RawMessage("null")
	}
	doc["version"] = version
	doc["tools"] = []any{tool}
	return json.Marshal(doc)
}

// Encode returns the 4-space indented encoding of m, newline terminated.
func Encode(m ShardMetadata) ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func take(obj map[string]json.RawMessage, key string, dst any, required bool) error {
	raw, ok := obj[key]
	if !ok {
		if required {
			return fmt.Errorf("missing field %q", key)
		}
		return nil
	}
	delete(obj, key)
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func remaining(obj map[string]json.RawMessage) map[string]json.RawMessage {
	if len(obj) == 0 {
		return nil
	}
	return obj
}

func cloneRaw(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
