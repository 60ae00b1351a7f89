package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arcflow/orchestrator/state"
)

func TestRunForeground_SuccessCapturesOutput(t *testing.T) {
	r := &Runner{WorkspaceDir: t.TempDir(), ExecutionTimeout: 5 * time.Second}
	res := r.RunForeground(context.Background(), state.ExecutionStep{Cmd: "echo hello"})

	if !res.Success {
		t.Fatalf("expected success, got output: %s", res.Output)
	}
	if res.Output != "hello" {
		t.Errorf("Output = %q, want hello", res.Output)
	}
}

func TestRunForeground_NonZeroExitIsNotSuccess(t *testing.T) {
	r := &Runner{WorkspaceDir: t.TempDir(), ExecutionTimeout: 5 * time.Second}
	res := r.RunForeground(context.Background(), state.ExecutionStep{Cmd: "exit 1"})

	if res.Success {
		t.Error("expected a non-zero exit to be reported as failure")
	}
}

func TestRunForeground_CombinesStdoutAndStderr(t *testing.T) {
	r := &Runner{WorkspaceDir: t.TempDir(), ExecutionTimeout: 5 * time.Second}
	res := r.RunForeground(context.Background(), state.ExecutionStep{Cmd: "echo out; echo err 1>&2"})

	if !strings.Contains(res.Output, "out") || !strings.Contains(res.Output, "--- STDERR ---") || !strings.Contains(res.Output, "err") {
		t.Errorf("expected combined stdout/stderr output, got: %q", res.Output)
	}
}

func TestRunForeground_TimesOut(t *testing.T) {
	r := &Runner{WorkspaceDir: t.TempDir(), ExecutionTimeout: 100 * time.Millisecond}
	res := r.RunForeground(context.Background(), state.ExecutionStep{Cmd: "sleep 5"})

	if res.Success {
		t.Error("expected a timed-out command to fail")
	}
	if !strings.Contains(res.Output, "timed out") {
		t.Errorf("expected a timeout message, got: %q", res.Output)
	}
}

func TestRunBackground_StillRunningAfterLivenessWindow(t *testing.T) {
	r := &Runner{WorkspaceDir: t.TempDir()}
	res := r.RunBackground(context.Background(), state.ExecutionStep{Cmd: "sleep 5", Port: 8000})

	if !res.Success {
		t.Fatalf("expected the process to still be alive, got: %s", res.Output)
	}
	if res.PID == 0 {
		t.Error("expected a non-zero PID")
	}
	if res.Port != 8000 {
		t.Errorf("Port = %d, want 8000", res.Port)
	}
}

func TestRunBackground_ImmediateExitIsFailure(t *testing.T) {
	r := &Runner{WorkspaceDir: t.TempDir()}
	res := r.RunBackground(context.Background(), state.ExecutionStep{Cmd: "true"})

	if res.Success {
		t.Error("expected a process that exits immediately to be reported as failure")
	}
	if !strings.Contains(res.Output, "exited immediately") {
		t.Errorf("expected an immediate-exit message, got: %q", res.Output)
	}
}

func TestRunBackground_StartFailureReportsError(t *testing.T) {
	r := &Runner{WorkspaceDir: t.TempDir()}
	res := r.RunBackground(context.Background(), state.ExecutionStep{Cmd: ""})

	if res.Success {
		t.Error("expected starting an empty command to fail")
	}
}

func TestFallbackTarget_PrefersMainPy(t *testing.T) {
	dir := t.TempDir()
	mainPy := filepath.Join(dir, "main.py")
	os.WriteFile(mainPy, []byte("print('hi')"), 0o644)
	os.WriteFile(filepath.Join(dir, "other.py"), []byte("print('bye')"), 0o644)

	got, ok := FallbackTarget(dir, "")
	if !ok || got != mainPy {
		t.Errorf("FallbackTarget() = %q, %v, want main.py", got, ok)
	}
}

func TestFallbackTarget_FallsBackToStatePath(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "legacy.py")
	os.WriteFile(statePath, []byte("print('hi')"), 0o644)

	got, ok := FallbackTarget(dir, statePath)
	if !ok || got != statePath {
		t.Errorf("FallbackTarget() = %q, %v, want %q", got, ok, statePath)
	}
}

func TestFallbackTarget_FallsBackToFirstPyFile(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "other.py")
	os.WriteFile(other, []byte("print('bye')"), 0o644)

	got, ok := FallbackTarget(dir, "")
	if !ok || got != other {
		t.Errorf("FallbackTarget() = %q, %v, want %q", got, ok, other)
	}
}

func TestFallbackTarget_NoCandidatesReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	_, ok := FallbackTarget(dir, "")
	if ok {
		t.Error("expected no fallback target to be found")
	}
}

func TestCheckLegacyCommand_AcceptsWhitelistedCommandInsideWorkspace(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "main.py")
	os.WriteFile(target, []byte("print('hi')"), 0o644)

	if err := CheckLegacyCommand(dir, "main.py", "python3"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCheckLegacyCommand_RejectsNonWhitelistedCommand(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')"), 0o644)

	if err := CheckLegacyCommand(dir, "main.py", "rm"); err == nil {
		t.Error("expected a non-whitelisted command to be rejected")
	}
}

func TestCheckLegacyCommand_RejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	if err := CheckLegacyCommand(dir, "../../etc/passwd", "python3"); err == nil {
		t.Error("expected a path escaping the workspace to be rejected")
	}
}
