package shard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"reportweaver/internal/fileutil"
	"reportweaver/internal/logging"
)

// DefaultBinary is the analyzer driver looked up on PATH.
const DefaultBinary = "CodeChecker"

// ErrAnalyzerFailed marks an analyzer run that exited with a failure code.
var ErrAnalyzerFailed = errors.New("analyzer failed")

// AnalyzerError carries the exit code and the invocation log of a failed
// analyzer run.
type AnalyzerError struct {
	ExitCode int
	Log      string
}

func (e *AnalyzerError) Error() string {
	return fmt.Sprintf("%s with exit code %d", ErrAnalyzerFailed, e.ExitCode)
}

func (e *AnalyzerError) Unwrap() error { return ErrAnalyzerFailed }

// IsFailureCode reports whether an analyzer exit code is a failure. Exit
// code 1 and signal terminations are failures; other non-zero codes signal
// that reports were produced.
func IsFailureCode(code int) bool {
	return code == 1 || code >= 128 || code < 0
}

// Invocation describes one analyzer run.
type Invocation struct {
	Binary string
	// Args are passed through to "analyze" verbatim.
	Args    []string
	DataDir string
	// Sources restrict analysis to the matching compile commands.
	Sources         []string
	ConfigFile      string
	CompileCommands string
	LogPath         string
	CTU             bool
	// WorkDir is the process working directory; empty means inherit.
	WorkDir string
}

// Command returns argv for the invocation.
func (inv Invocation) Command() []string {
	bin := inv.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	argv := []string{bin, "analyze"}
	argv = append(argv, inv.Args...)
	argv = append(argv, "--output="+inv.DataDir)
	for _, s := range inv.Sources {
		argv = append(argv, "--file=*/"+s)
	}
	if inv.CTU {
		argv = append(argv, "--ctu")
	}
	if inv.ConfigFile != "" {
		argv = append(argv, "--config", inv.ConfigFile)
	}
	if inv.CompileCommands != "" {
		argv = append(argv, inv.CompileCommands)
	}
	return argv
}

var relativeDirectory = regexp.MustCompile(`"directory":\s*"\.`)

// PrepareCompileCommands copies the compilation database at src to dst with
// every relative "directory" entry anchored at workDir.
func PrepareCompileCommands(src, dst, workDir string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return err
	}
	out := relativeDirectory.ReplaceAllLiteral(data, []byte(`"directory":"`+abs))
	return fileutil.WriteFileAtomic(dst, out, 0o644)
}

const logBanner = "===-----------------------------------------------------===\n" +
	"                   CodeChecker error log                   \n" +
	"===-----------------------------------------------------===\n"

// Executor runs analyzer invocations as child processes.
type Executor struct {
	Logger *zap.Logger
}

// Analyze runs inv with stdout and stderr appended to inv.LogPath after a
// header naming the command. A failure exit code yields an *AnalyzerError
// carrying the log. Cancelling ctx kills the whole process group.
func (e *Executor) Analyze(ctx context.Context, inv Invocation) (int, error) {
	var log *zap.Logger
	if e != nil {
		log = e.Logger
	}
	log = logging.OrNop(log)
	if inv.LogPath == "" {
		return 0, errors.New("invocation log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(inv.LogPath), 0o755); err != nil {
		return 0, err
	}
	logFile, err := os.OpenFile(inv.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer logFile.Close()

	argv := inv.Command()
	if _, err := fmt.Fprintf(logFile, "CodeChecker command: %s\n%s", strings.Join(argv, " "), logBanner); err != nil {
		return 0, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = inv.WorkDir
	cmd.Env = os.Environ()
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	log.Debug("running analyzer", zap.Strings("argv", argv))
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start analyzer: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return 0, fmt.Errorf("analysis cancelled: %w", ctx.Err())
	case err = <-done:
	}

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, fmt.Errorf("failed to run analyzer: %w", err)
		}
		code = exitErr.ExitCode()
	}
	if IsFailureCode(code) {
		text, _ := os.ReadFile(inv.LogPath)
		log.Error("analyzer failed", zap.Int("exit_code", code), zap.String("log", inv.LogPath))
		return code, &AnalyzerError{ExitCode: code, Log: string(text)}
	}
	return code, nil
}
