package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/warshanks/responses-bridge/internal/llm"
)

const (
	defaultScriptTimeout = 30 * time.Second
	maxScriptTimeout     = 300 * time.Second
)

// ScriptTool implements llm.Tool for a script declared under tools.custom.
type ScriptTool struct {
	def       ScriptDef
	scriptDir string
	maxBytes  int64
}

// NewScriptTool creates a ScriptTool resolving def.Script inside scriptDir.
func NewScriptTool(def ScriptDef, scriptDir string, maxBytes int64) *ScriptTool {
	if maxBytes <= 0 {
		maxBytes = DefaultConfig().MaxOutputBytes
	}
	return &ScriptTool{def: def, scriptDir: scriptDir, maxBytes: maxBytes}
}

// Spec returns the tool spec for the model.
func (t *ScriptTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.def.Name,
		Description: t.def.Description,
		Schema:      t.def.Input,
	}
}

// Preview returns a short preview string for the status block.
func (t *ScriptTool) Preview(args json.RawMessage) string {
	s := strings.TrimSpace(string(args))
	if s == "" || s == "{}" || s == "null" {
		return t.def.Name
	}
	return runewidth.Truncate(t.def.Name+" "+s, 50, "...")
}

// Execute runs the script with the model's args as JSON on stdin. A
// non-zero exit is reported in the output, not as an error.
func (t *ScriptTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if t.scriptDir == "" {
		return "", NewToolError(ErrInvalidParams, "no script directory configured")
	}
	scriptPath, err := t.resolveScript()
	if err != nil {
		return "", err
	}

	timeout := defaultScriptTimeout
	if t.def.TimeoutSeconds > 0 {
		timeout = time.Duration(t.def.TimeoutSeconds) * time.Second
	}
	timeout = min(timeout, maxScriptTimeout)

	// Normalise args: nil → empty object
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, detectShell(), "-c", shellQuote(scriptPath))
	cmd.Dir = t.scriptDir
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(args)

	env := os.Environ()
	env = append(env, "RESPONSES_BRIDGE_TOOL_NAME="+t.def.Name)
	for k, v := range t.def.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	execErr := cmd.Run()
	result := scriptResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		return formatScriptResult(result, t.maxBytes), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if execErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(execErr, &exitErr) {
			return "", NewToolErrorf(ErrExecutionFailed, "script error: %v", execErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return formatScriptResult(result, t.maxBytes), nil
}

// resolveScript resolves the script path and checks it stays inside the
// script directory after symlinks are followed.
func (t *ScriptTool) resolveScript() (string, error) {
	dir, err := filepath.Abs(t.scriptDir)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "resolve script dir: %v", err)
	}

	absScript := filepath.Join(dir, t.def.Script)
	if !strings.HasPrefix(absScript, dir+string(filepath.Separator)) {
		return "", NewToolError(ErrSymlinkEscape, "script path escapes script directory")
	}

	realScript, err := filepath.EvalSymlinks(absScript)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewToolErrorf(ErrFileNotFound, "script not found: %s", t.def.Script)
		}
		return "", NewToolErrorf(ErrExecutionFailed, "resolve symlinks: %v", err)
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "resolve script dir symlinks: %v", err)
	}
	if !strings.HasPrefix(realScript, realDir+string(filepath.Separator)) {
		return "", NewToolError(ErrSymlinkEscape, "script symlink escapes script directory")
	}

	info, err := os.Stat(realScript)
	if err != nil {
		return "", NewToolErrorf(ErrFileNotFound, "script not found: %s", t.def.Script)
	}
	if info.IsDir() {
		return "", NewToolErrorf(ErrInvalidParams, "script target is a directory, not a file: %s", t.def.Script)
	}
	return realScript, nil
}

type scriptResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

func formatScriptResult(result scriptResult, maxBytes int64) string {
	var sb strings.Builder

	stdout := result.Stdout
	stderr := result.Stderr
	truncated := false
	if int64(len(stdout)) > maxBytes {
		stdout = stdout[:maxBytes]
		truncated = true
	}
	if int64(len(stderr)) > maxBytes {
		stderr = stderr[:maxBytes]
		truncated = true
	}

	if result.TimedOut {
		sb.WriteString("[Command timed out]\n\n")
	}
	if stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if stderr != "" {
		if stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "\nexit_code: %d", result.ExitCode)
	if truncated {
		sb.WriteString("\n\n[Output truncated due to size limit]")
	}
	return sb.String()
}

// detectShell returns the user's shell.
func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "sh"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
