package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

type sandboxExecArgs struct {
	Command string `json:"command"`
}

// sandboxExecTool is the built-in "sandbox_exec" tool auto-injected when a
// resolved skill declares a sandbox requirement. It is a minimal dispatcher
// over a single configured shell, not a microVM pool: the command runs as a
// child process on the host with no isolation of its own; isolation is the
// named external collaborator's responsibility (the workspace's sandbox
// container manager), not this core's.
type sandboxExecTool struct {
	shell   string
	timeout time.Duration
}

// NewSandboxExec mints the sandbox_exec built-in. shell defaults to "sh"
// (always invoked with "-c") and timeout to 30s when zero.
func NewSandboxExec(shell string, timeout time.Duration) *sandboxExecTool {
	if shell == "" {
		shell = "sh"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &sandboxExecTool{shell: shell, timeout: timeout}
}

func (t *sandboxExecTool) Name() string { return "sandbox_exec" }

func (t *sandboxExecTool) Description() string {
	return "Run a shell command in the sandbox and return its combined stdout/stderr."
}

func (t *sandboxExecTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["command"],
		"properties": {
			"command": {"type": "string"}
		}
	}`)
}

func (t *sandboxExecTool) Invoke(ctx context.Context, args json.RawMessage) (models.Content, error) {
	var parsed sandboxExecArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return models.Content{}, fmt.Errorf("sandbox_exec: invalid arguments: %w", err)
		}
	}
	if parsed.Command == "" {
		return models.Content{}, fmt.Errorf("sandbox_exec: command is required")
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.shell, "-c", parsed.Command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return models.TextContent(out.String()), fmt.Errorf("sandbox_exec: %w", err)
	}
	return models.TextContent(out.String()), nil
}
