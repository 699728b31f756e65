package metadata

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shardA = `{
  "version": 1,
  "tools": [{
    "name": "codechecker",
    "command": ["CodeChecker", "analyze"],
    "result_source_files": {"/src/a.cc": "/out/a.plist"},
    "skipped": ["/src/gen.cc"],
    "timestamps": {"begin": 100.5, "end": 120},
    "analyzers": {
      "clangsa": {
        "checkers": {"core": true},
        "analyzer_statistics": {"failed": 0, "failed_sources": [], "successful": 1, "successful_sources": ["/src/a.cc"]}
      }
    }
  }]
}`

const shardB = `{
  "version": 1,
  "tools": [{
    "name": "codechecker-b",
    "result_source_files": {"/src/b.cc": "/out/b.plist", "/src/a.cc": "/out/a2.plist"},
    "skipped": ["/src/third_party.cc"],
    "timestamps": {"begin": "90", "end": "110.25"},
    "analyzers": {
      "clangsa": {
        "analyzer_statistics": {"failed": 1, "failed_sources": ["/src/b.cc"], "successful": 0, "successful_sources": []}
      },
      "clang-tidy": {
        "analyzer_statistics": {"failed": 0, "failed_sources": [], "successful": 1, "successful_sources": ["/src/b.cc"]}
      }
    }
  }]
}`

func mustDecode(t *testing.T, s string) ShardMetadata {
	t.Helper()
	m, err := Decode([]byte(s))
	require.NoError(t, err)
	return m
}

func encodeToMap(t *testing.T, m ShardMetadata) map[string]any {
	t.Helper()
	b, err := Encode(m)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestDecode_StringTimestampsAndExtras(t *testing.T) {
	b := mustDecode(t, shardB)
	assert.Equal(t, Epoch(90), b.Timestamps.Begin)
	assert.Equal(t, Epoch(110.25), b.Timestamps.End)
	assert.Equal(t, "1", string(b.Version))
	assert.Len(t, b.Analyzers, 2)

	a := mustDecode(t, shardA)
	doc := encodeToMap(t, a)
	tool := doc["tools"].([]any)[0].(map[string]any)
	assert.Equal(t, "codechecker", tool["name"])
	assert.Equal(t, map[string]any{"core": true}, tool["analyzers"].(map[string]any)["clangsa"].(map[string]any)["checkers"])
}

func TestDecode_Errors(t *testing.T) {
	for name, in := range map[string]string{
		"not json":           `{"version":`,
		"missing version":    `{"tools": []}`,
		"no tools":           `{"version": 1, "tools": []}`,
		"missing skipped":    `{"version": 1, "tools": [{"result_source_files": {}, "timestamps": {"begin": 1, "end": 2}, "analyzers": {}}]}`,
		"bad timestamp":      `{"version": 1, "tools": [{"result_source_files": {}, "skipped": [], "timestamps": {"begin": "soon", "end": 2}, "analyzers": {}}]}`,
		"null timestamp":     `{"version": 1, "tools": [{"result_source_files": {}, "skipped": [], "timestamps": {"begin": null, "end": 5}, "analyzers": {}}]}`,
		"analyzer w/o stats": `{"version": 1, "tools": [{"result_source_files": {}, "skipped": [], "timestamps": {"begin": 1, "end": 2}, "analyzers": {"x": {}}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			require.Error(t, err)
		})
	}
}

func TestDecode_EmptyDocumentIsIdentity(t *testing.T) {
	m := mustDecode(t, `{}`)
	assert.True(t, m.IsEmpty())

	b, err := Encode(m)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(b))
}

func TestCombine_Identity(t *testing.T) {
	a := mustDecode(t, shardA)

	left, err := Combine(ShardMetadata{}, a)
	require.NoError(t, err)
	right, err := Combine(a, ShardMetadata{})
	require.NoError(t, err)

	want := encodeToMap(t, a)
	if diff := cmp.Diff(want, encodeToMap(t, left)); diff != "" {
		t.Fatalf("combine(empty, a) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, encodeToMap(t, right)); diff != "" {
		t.Fatalf("combine(a, empty) mismatch (-want +got):\n%s", diff)
	}
}

func TestCombine_Semantics(t *testing.T) {
	a := mustDecode(t, shardA)
	b := mustDecode(t, shardB)

	got, err := Combine(a, b)
	require.NoError(t, err)

	assert.Equal(t, Timestamps{Begin: 90, End: 120}, got.Timestamps)
	assert.Len(t, got.ResultSourceFiles, 2)
	assert.JSONEq(t, `"/out/a2.plist"`, string(got.ResultSourceFiles["/src/a.cc"]), "right side wins on collision")

	var skipped []string
	for _, s := range got.Skipped {
		var v string
		require.NoError(t, json.Unmarshal(s, &v))
		skipped = append(skipped, v)
	}
	assert.Equal(t, []string{"/src/gen.cc", "/src/third_party.cc"}, skipped)

	sa := got.Analyzers["clangsa"].Statistics
	assert.Equal(t, 1, sa.Failed)
	assert.Equal(t, 1, sa.Successful)
	assert.Equal(t, []string{"/src/b.cc"}, sa.FailedSources)
	assert.Equal(t, []string{"/src/a.cc"}, sa.SuccessfulSources)

	tidy := got.Analyzers["clang-tidy"].Statistics
	assert.Equal(t, 1, tidy.Successful, "analyzer present only on the right is carried through")

	tool := encodeToMap(t, got)["tools"].([]any)[0].(map[string]any)
	assert.Equal(t, "codechecker", tool["name"], "left side wins for uninterpreted fields")
	assert.Equal(t, []any{"CodeChecker", "analyze"}, tool["command"])
}

func TestCombine_DoesNotMutateOperands(t *testing.T) {
	a := mustDecode(t, shardA)
	b := mustDecode(t, shardB)
	beforeA := encodeToMap(t, a)
	beforeB := encodeToMap(t, b)

	_, err := Combine(a, b)
	require.NoError(t, err)
	_, err = Combine(b, a)
	require.NoError(t, err)

	assert.Equal(t, beforeA, encodeToMap(t, a))
	assert.Equal(t, beforeB, encodeToMap(t, b))
}

func TestCombine_CountersCommuteAndAssociate(t *testing.T) {
	a := mustDecode(t, shardA)
	b := mustDecode(t, shardB)
	c := mustDecode(t, shardA)

	ab, err := Combine(a, b)
	require.NoError(t, err)
	ba, err := Combine(b, a)
	require.NoError(t, err)
	for name := range ab.Analyzers {
		assert.Equal(t, ab.Analyzers[name].Statistics.Failed, ba.Analyzers[name].Statistics.Failed)
		assert.Equal(t, ab.Analyzers[name].Statistics.Successful, ba.Analyzers[name].Statistics.Successful)
		assert.ElementsMatch(t, ab.Analyzers[name].Statistics.SuccessfulSources, ba.Analyzers[name].Statistics.SuccessfulSources)
	}
	assert.Equal(t, ab.Timestamps, ba.Timestamps)

	abc1, err := Combine(ab, c)
	require.NoError(t, err)
	bc, err := Combine(b, c)
	require.NoError(t, err)
	abc2, err := Combine(a, bc)
	require.NoError(t, err)
	if diff := cmp.Diff(encodeToMap(t, abc1), encodeToMap(t, abc2)); diff != "" {
		t.Fatalf("combine is not associative (-left +right):\n%s", diff)
	}
}

func TestCombine_SchemaMismatch(t *testing.T) {
	a := mustDecode(t, shardA)
	b := mustDecode(t, `{"version": 2, "tools": [{"result_source_files": {}, "skipped": [], "timestamps": {"begin": 1, "end": 2}, "analyzers": {}}]}`)

	_, err := Combine(a, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))

	var mismatch *SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "1", mismatch.Left)
	assert.Equal(t, "2", mismatch.Right)

	_, err = Merge(a, ShardMetadata{}, b)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
}

func TestMerge_FoldsLeftToRight(t *testing.T) {
	a := mustDecode(t, shardA)
	b := mustDecode(t, shardB)

	got, err := Merge(a, b, ShardMetadata{})
	require.NoError(t, err)
	want, err := Combine(a, b)
	require.NoError(t, err)
	assert.Equal(t, encodeToMap(t, want), encodeToMap(t, got))

	empty, err := Merge()
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
}

func TestEncode_FourSpaceIndentAndEmptyCollections(t *testing.T) {
	m := mustDecode(t, `{"version": "6.0", "tools": [{"result_source_files": null, "skipped": [], "timestamps": {"begin": 1, "end": 2}, "analyzers": {}}]}`)
	b, err := Encode(m)
	require.NoError(t, err)
	assert.Contains(t, string(b), "\n    \"tools\": [")
	assert.Contains(t, string(b), `"result_source_files": {}`)
	assert.Equal(t, byte('\n'), b[len(b)-1])
}

func TestWriteFile_RoundTrip(t *testing.T) {
	a := mustDecode(t, shardA)
	path := filepath.Join(t.TempDir(), "out", "metadata.json")
	require.NoError(t, WriteFile(path, a))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, encodeToMap(t, a), encodeToMap(t, back))

	_, err = os.Stat(path)
	require.NoError(t, err)
}
