// Package sandbox implements the command-execution security envelope
// described in SPEC_FULL.md section 4.9, grounded on
// services/orchestrator/src/agents/executor.py (_run_command,
// _run_background, _fallback_execution).
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/arcflow/orchestrator/state"
)

// LegacyWhitelist is the allowed argv[0] set for the single-file execution
// path, per executor.py's implicit command allowlist for legacy runs.
var LegacyWhitelist = map[string]bool{
	"python": true, "python3": true, "pytest": true, "ruff": true,
}

// StepResult is the outcome of running one ExecutionStep.
type StepResult struct {
	Success bool
	Output  string
	PID     int
	Port    int
}

// Runner executes ExecutionSteps inside a workspace directory.
type Runner struct {
	WorkspaceDir     string
	ExecutionTimeout time.Duration
}

// RunForeground runs step.Cmd under the workspace directory, waiting up to
// ExecutionTimeout. Output is stdout concatenated with a "--- STDERR ---"
// separator and stderr, matching executor.py's _run_command.
func (r *Runner) RunForeground(ctx context.Context, step state.ExecutionStep) StepResult {
	ctx, cancel := context.WithTimeout(ctx, r.ExecutionTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", step.Cmd)
	cmd.Dir = r.WorkspaceDir
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return StepResult{Success: false, Output: fmt.Sprintf("Command timed out after %ds", int(r.ExecutionTimeout.Seconds()))}
	}

	output := strings.TrimSpace(stdout.String())
	if stderr.Len() > 0 {
		output = output + "\n--- STDERR ---\n" + strings.TrimSpace(stderr.String())
	}
	return StepResult{Success: err == nil, Output: output}
}

// RunBackground starts step.Cmd detached, waits a 2-second liveness window,
// and reports the process as up if it is still running, per executor.py's
// _run_background.
func (r *Runner) RunBackground(ctx context.Context, step state.ExecutionStep) StepResult {
	cmd := exec.Command("sh", "-c", step.Cmd)
	cmd.Dir = r.WorkspaceDir
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return StepResult{Success: false, Output: err.Error()}
	}

	pid := cmd.Process.Pid
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(2 * time.Second):
		return StepResult{Success: true, Output: fmt.Sprintf("Started background process (PID: %d)", pid), PID: pid, Port: step.Port}
	case err := <-done:
		result := StepResult{Success: false, Output: strings.TrimSpace(output.String())}
		if err == nil {
			result.Output = "process exited immediately: " + result.Output
		}
		return result
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return StepResult{Success: false, Output: "execution cancelled"}
	}
}

// FallbackTarget locates the single file to execute when a plan has no
// steps: main.py, then state.file_path, then the first .py file found in
// the workspace, per executor.py's _fallback_execution.
func FallbackTarget(workspaceDir, statePath string) (string, bool) {
	if candidate := filepath.Join(workspaceDir, "main.py"); fileExists(candidate) {
		return candidate, true
	}
	if statePath != "" && fileExists(statePath) {
		return statePath, true
	}
	entries, err := os.ReadDir(workspaceDir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".py") {
			return filepath.Join(workspaceDir, e.Name()), true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CheckLegacyCommand enforces the legacy single-file whitelist and
// workspace containment, per executor.py's security envelope.
func CheckLegacyCommand(workspaceDir, filePath, argv0 string) error {
	resolved, err := state.ResolveWorkspacePath(workspaceDir, filePath)
	if err == nil {
		filePath = resolved
	} else if _, err := filepath.Abs(filePath); err == nil {
		if !strings.HasPrefix(filePath, workspaceDir) {
			return fmt.Errorf("file path %q is outside the workspace", filePath)
		}
	}
	if !LegacyWhitelist[argv0] {
		return fmt.Errorf("command %q is not in the legacy execution whitelist", argv0)
	}
	return nil
}
