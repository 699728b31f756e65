package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	icl "reportweaver/internal/cli"
)

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return b
}

func run(t *testing.T, args ...string) (icl.CLIResult, string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	res, err := icl.RunWithIO(context.Background(), args, &stdout, &stderr)
	return res, stdout.String(), stderr.String(), err
}

func shardDoc(version string, begin, end float64, source string, successful, failed int) string {
	doc := map[string]any{
		"version": json.RawMessage(version),
		"tools": []any{map[string]any{
			"name":                "codechecker",
			"result_source_files": map[string]string{source: source + ".plist"},
			"skipped":             []string{},
			"timestamps":          map[string]float64{"begin": begin, "end": end},
			"analyzers": map[string]any{
				"clangsa": map[string]any{
					"analyzer_statistics": map[string]any{
						"failed":             failed,
						"failed_sources":     sourcesIf(failed, source),
						"successful":         successful,
						"successful_sources": sourcesIf(successful, source),
					},
				},
			},
		}},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

func sourcesIf(n int, source string) []string {
	if n == 0 {
		return []string{}
	}
	return []string{source}
}

type mergedDoc struct {
	Version int `json:"version"`
	Tools   []struct {
		ResultSourceFiles map[string]string `json:"result_source_files"`
		Timestamps        struct {
			Begin float64 `json:"begin"`
			End   float64 `json:"end"`
		} `json:"timestamps"`
		Analyzers map[string]struct {
			Statistics struct {
				Failed     int `json:"failed"`
				Successful int `json:"successful"`
			} `json:"analyzer_statistics"`
		} `json:"analyzers"`
	} `json:"tools"`
}

func decodeMerged(t *testing.T, path string) mergedDoc {
	t.Helper()
	var doc mergedDoc
	if err := json.Unmarshal(readFile(t, path), &doc); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	if len(doc.Tools) != 1 {
		t.Fatalf("expected one tool entry, got %d", len(doc.Tools))
	}
	return doc
}

func TestMerge_ThreeShards(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a", "metadata.json")
	b := filepath.Join(dir, "b", "metadata.json")
	c := filepath.Join(dir, "c", "metadata.json")
	writeFile(t, a, shardDoc("1", 100, 110, "src/a.cc", 1, 0), 0o644)
	writeFile(t, b, shardDoc("1", 95, 105, "src/b.cc", 1, 0), 0o644)
	writeFile(t, c, shardDoc("1", 120, 130, "src/c.cc", 0, 1), 0o644)
	out := filepath.Join(dir, "merged", "metadata.json")
	tracePath := filepath.Join(dir, "trace.json")

	res, _, _, err := run(t, "--trace", tracePath, "merge", out, a, b, filepath.Join(dir, "missing.json"), c)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.ExitCode != icl.ExitSuccess {
		t.Fatalf("exit: %d", res.ExitCode)
	}
	if len(res.Merge.Used) != 3 || len(res.Merge.Skipped) != 1 {
		t.Fatalf("used=%v skipped=%v", res.Merge.Used, res.Merge.Skipped)
	}

	doc := decodeMerged(t, out)
	tool := doc.Tools[0]
	stats := tool.Analyzers["clangsa"].Statistics
	if stats.Successful != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	var keys []string
	for k := range tool.ResultSourceFiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if strings.Join(keys, ",") != "src/a.cc,src/b.cc,src/c.cc" {
		t.Fatalf("unexpected result source files: %v", keys)
	}
	if tool.Timestamps.Begin != 95 || tool.Timestamps.End != 130 {
		t.Fatalf("unexpected window: %+v", tool.Timestamps)
	}
	if !bytes.HasPrefix(readFile(t, out), []byte("{\n    \"")) {
		t.Fatalf("expected 4-space indented output")
	}

	var tr struct {
		RunID  string `json:"runId"`
		Events []struct {
			Kind    string `json:"kind"`
			Subject string `json:"subject"`
		} `json:"events"`
	}
	if err := json.Unmarshal(readFile(t, tracePath), &tr); err != nil {
		t.Fatalf("decode trace: %v", err)
	}
	if tr.RunID == "" || len(tr.Events) != 4 {
		t.Fatalf("unexpected trace: %+v", tr)
	}
}

func TestMerge_IdenticalRunsIdenticalOutput(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	writeFile(t, a, shardDoc("1", 1, 2, "x.cc", 1, 0), 0o644)
	writeFile(t, b, shardDoc("1", 3, 4, "y.cc", 0, 1), 0o644)

	out1 := filepath.Join(dir, "out1.json")
	out2 := filepath.Join(dir, "out2.json")
	if _, _, _, err := run(t, "merge", out1, a, b); err != nil {
		t.Fatalf("run1: %v", err)
	}
	if _, _, _, err := run(t, "merge", out2, a, b); err != nil {
		t.Fatalf("run2: %v", err)
	}
	if !bytes.Equal(readFile(t, out1), readFile(t, out2)) {
		t.Fatalf("output differs across identical runs")
	}
}

func TestMerge_NoUsableShards(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, "{not json", 0o644)
	out := filepath.Join(dir, "out.json")

	res, _, _, err := run(t, "merge", out, bad, filepath.Join(dir, "missing.json"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != icl.ExitNoData {
		t.Fatalf("exit: %d, want %d", res.ExitCode, icl.ExitNoData)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output must not be written, stat err: %v", err)
	}
}

func TestMerge_SchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	writeFile(t, a, shardDoc("1", 1, 2, "x.cc", 1, 0), 0o644)
	writeFile(t, b, shardDoc("2", 1, 2, "y.cc", 1, 0), 0o644)
	out := filepath.Join(dir, "out.json")

	res, _, _, err := run(t, "merge", out, a, b)
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != icl.ExitConfigError {
		t.Fatalf("exit: %d, want %d", res.ExitCode, icl.ExitConfigError)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output must not be written, stat err: %v", err)
	}
}

// workspace creates a source tree with a header exposed through a virtual
// include. It returns the tree root and the real header path.
func workspace(t *testing.T) (string, string) {
	t.Helper()
	base := t.TempDir()
	header := filepath.Join(base, "pkg", "include", "header.h")
	writeFile(t, header, "int f();\n", 0o644)
	writeFile(t, filepath.Join(base, "pkg", "src", "lib.cc"), "int f() { return 0; }\n", 0o644)
	link := filepath.Join(base, "pkg", "_virtual_includes", "iface", "header.h")
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("../../include/header.h", link); err != nil {
		t.Fatal(err)
	}
	resolved, err := filepath.EvalSymlinks(header)
	if err != nil {
		t.Fatal(err)
	}
	return base, resolved
}

func TestSymlinks_WritesMap(t *testing.T) {
	base, header := workspace(t)
	if err := os.Symlink("gone.h", filepath.Join(base, "dangling.h")); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "symlinks.json")

	res, _, _, err := run(t, "symlinks", base, out)
	if err != nil {
		t.Fatalf("symlinks: %v", err)
	}
	if res.Symlinks != 2 {
		t.Fatalf("links: %d", res.Symlinks)
	}
	var m map[string]string
	if err := json.Unmarshal(readFile(t, out), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := m[filepath.Join(base, "pkg", "_virtual_includes", "iface", "header.h")]; got != header {
		t.Fatalf("link target = %q, want %q", got, header)
	}
	if got := m[filepath.Join(base, "dangling.h")]; !strings.HasPrefix(got, "<broken: ") {
		t.Fatalf("dangling link = %q", got)
	}

	res, _, _, err = run(t, "symlinks", filepath.Join(base, "absent"), out)
	if err == nil || res.ExitCode != icl.ExitInvalidInvocation {
		t.Fatalf("missing root: exit %d err %v", res.ExitCode, err)
	}
}

func TestNormalize_SandboxAndVirtualIncludes(t *testing.T) {
	base, header := workspace(t)
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "normalized")
	sandboxed := "/worker/build/a0ed5e04f7c3b444/root/pkg/_virtual_includes/iface/header.h"

	writeFile(t, filepath.Join(input, "lib.cc_clang-tidy.yaml"),
		"---\nMainSourceFile:  '/worker/build/a0ed5e04f7c3b444/root/pkg/src/lib.cc'\n"+
			"Diagnostics:\n  - DiagnosticMessage:\n      FilePath:  '"+sandboxed+"'\n", 0o644)
	writeFile(t, filepath.Join(input, "notes.txt"), "keep me\n", 0o644)

	res, _, _, err := run(t, "normalize", "--input", input, "--output", output, "--base", base)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Normalize.Rewritten != 1 || res.Normalize.Copied != 1 || res.Normalize.UpdatedPaths != 2 {
		t.Fatalf("unexpected stats: %+v", *res.Normalize)
	}
	got := string(readFile(t, filepath.Join(output, "lib.cc_clang-tidy.yaml")))
	if !strings.Contains(got, "FilePath:  '"+header+"'\n") {
		t.Fatalf("virtual include not resolved:\n%s", got)
	}
	if strings.Contains(got, "/worker/build/") {
		t.Fatalf("sandbox prefix survived:\n%s", got)
	}
	if string(readFile(t, filepath.Join(output, "notes.txt"))) != "keep me\n" {
		t.Fatalf("unknown artifact not copied verbatim")
	}
}

// fakeCodeChecker writes a stand-in analyzer driver. It writes a metadata
// document and one report into its --output directory, then exits with
// the given code.
func fakeCodeChecker(t *testing.T, exitCode string) string {
	t.Helper()
	script := `#!/bin/sh
out=""
src=""
for a in "$@"; do
  case "$a" in
    --output=*) out="${a#--output=}" ;;
    --file=*) src="${a#--file=\*/}" ;;
  esac
done
mkdir -p "$out"
cat > "$out/metadata.json" <<JSON
{"version": 1, "tools": [{"result_source_files": {"$src": "$out/r.plist"}, "skipped": [], "timestamps": {"begin": 10, "end": 20}, "analyzers": {"clangsa": {"analyzer_statistics": {"failed": 0, "failed_sources": [], "successful": 1, "successful_sources": ["$src"]}}}}]}
JSON
printf '<plist/>' > "$out/$(basename "$src")_clangsa_0123abcd.plist"
echo "analyzed $src"
exit ` + exitCode + "\n"
	p := filepath.Join(t.TempDir(), "CodeChecker")
	writeFile(t, p, script, 0o755)
	return p
}

func TestAnalyze_PerFileShim(t *testing.T) {
	dir := t.TempDir()
	bin := fakeCodeChecker(t, "2")
	dataDir := filepath.Join(dir, "data")
	logPath := filepath.Join(dir, "lib.cc.log")
	dest := filepath.Join(dir, "reports", "lib.cc_clangsa.plist")
	cc := filepath.Join(dir, "compile_commands.json")
	writeFile(t, cc, `[{"directory":".","file":"src/lib.cc"}]`, 0o644)

	res, _, _, err := run(t, "analyze",
		"--binary", bin,
		"--data-dir", dataDir,
		"--file", "src/lib.cc",
		"--log", logPath,
		"--reports", "clangsa,"+dest,
		"--compile-commands", cc,
		"--workdir", dir,
	)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.ExitCode != icl.ExitSuccess {
		t.Fatalf("exit: %d", res.ExitCode)
	}
	if string(readFile(t, dest)) != "<plist/>" {
		t.Fatalf("report not moved to its destination")
	}
	if !strings.Contains(string(readFile(t, cc+".abs")), `"directory":"`+dir+`"`) {
		t.Fatalf("compile commands not anchored at workdir")
	}
	if !strings.Contains(string(readFile(t, logPath)), "analyzed src/lib.cc") {
		t.Fatalf("analyzer output missing from log")
	}
}

func TestAnalyze_FailurePrintsLog(t *testing.T) {
	dir := t.TempDir()
	bin := fakeCodeChecker(t, "1")

	res, _, stderr, err := run(t, "analyze",
		"--binary", bin,
		"--data-dir", filepath.Join(dir, "data"),
		"--file", "src/lib.cc",
		"--log", filepath.Join(dir, "lib.cc.log"),
		"--reports", "clangsa,"+filepath.Join(dir, "out.plist"),
	)
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != icl.ExitNoData {
		t.Fatalf("exit: %d, want %d", res.ExitCode, icl.ExitNoData)
	}
	if !strings.Contains(stderr, "CodeChecker returned with 1!") || !strings.Contains(stderr, "analyzed src/lib.cc") {
		t.Fatalf("stderr does not carry the log:\n%s", stderr)
	}
}

func TestPipeline_ShardsThenMerge(t *testing.T) {
	dir := t.TempDir()
	bin := fakeCodeChecker(t, "0")
	cfg := filepath.Join(dir, "reportweaver.yaml")
	writeFile(t, cfg, "analyzer:\n  binary: "+bin+"\n  concurrency: 2\n", 0o644)
	root := filepath.Join(dir, "shards")

	res, stdout, _, err := run(t, "--config", cfg, "shards", "--root", root, "src/a.cc", "src/b.cc", "lib/a.cc")
	if err != nil {
		t.Fatalf("shards: %v", err)
	}
	if len(res.Shards) != 3 || strings.Count(stdout, "\tok\n") != 3 {
		t.Fatalf("unexpected shard output:\n%s", stdout)
	}

	inputs, err := filepath.Glob(filepath.Join(root, "*", "metadata.json"))
	if err != nil || len(inputs) != 3 {
		t.Fatalf("expected 3 shard metadata files, got %v (%v)", inputs, err)
	}
	out := filepath.Join(dir, "metadata.json")
	if _, _, _, err := run(t, append([]string{"merge", out}, inputs...)...); err != nil {
		t.Fatalf("merge: %v", err)
	}
	doc := decodeMerged(t, out)
	if n := doc.Tools[0].Analyzers["clangsa"].Statistics.Successful; n != 3 {
		t.Fatalf("successful = %d, want 3", n)
	}
	if len(doc.Tools[0].ResultSourceFiles) != 3 {
		t.Fatalf("result source files: %v", doc.Tools[0].ResultSourceFiles)
	}
}
