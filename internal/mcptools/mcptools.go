// Package mcptools exposes a runtime as MCP tools so that any MCP client can
// drive rex sessions.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/rex/internal/runtime"
)

// maxOutput caps the text returned to the client.
const maxOutput = 16000

// NewServer returns an MCP server whose tools call rt.
func NewServer(rt runtime.Runtime, version string) *server.MCPServer {
	s := server.NewMCPServer("rex", version, server.WithToolCapabilities(false))
	h := &handlers{rt: rt}

	s.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Start a persistent bash session. State such as the working directory and environment variables survives between commands in the same session.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session": map[string]any{
					"type":        "string",
					"description": "Name of the new session",
				},
			},
			Required: []string{"session"},
		},
	}, h.createSession)

	s.AddTool(mcp.Tool{
		Name:        "run_in_session",
		Description: "Run a command in a session and return its output and exit code. Use is_interactive_command for programs that take over the terminal (python, gdb, less) and is_interactive_quit for the command that leaves them.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session": map[string]any{
					"type":        "string",
					"description": "Session to run in",
				},
				"command": map[string]any{
					"type":        "string",
					"description": "The command line to send",
				},
				"timeout": map[string]any{
					"type":        "number",
					"description": "Seconds to wait for completion (optional)",
				},
				"expect": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Regular expressions that also end the wait, e.g. a password prompt (optional)",
				},
				"is_interactive_command": map[string]any{
					"type":        "boolean",
					"description": "The command starts an interactive program (optional)",
				},
				"is_interactive_quit": map[string]any{
					"type":        "boolean",
					"description": "The command exits the interactive program (optional)",
				},
			},
			Required: []string{"session", "command"},
		},
	}, h.runInSession)

	s.AddTool(mcp.Tool{
		Name:        "close_session",
		Description: "Close a session and terminate its shell.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session": map[string]any{
					"type":        "string",
					"description": "Session to close",
				},
			},
			Required: []string{"session"},
		},
	}, h.closeSession)

	s.AddTool(mcp.Tool{
		Name:        "execute",
		Description: "Run a one-shot command through bash outside of any session and return stdout, stderr and the exit code.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to execute",
				},
				"cwd": map[string]any{
					"type":        "string",
					"description": "Working directory for the command (optional)",
				},
				"timeout": map[string]any{
					"type":        "number",
					"description": "Seconds before the command is killed (optional)",
				},
			},
			Required: []string{"command"},
		},
	}, h.execute)

	s.AddTool(mcp.Tool{
		Name:        "read_file",
		Description: "Read the contents of a file in the runtime.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file to read",
				},
			},
			Required: []string{"path"},
		},
	}, h.readFile)

	s.AddTool(mcp.Tool{
		Name:        "write_file",
		Description: "Write content to a file in the runtime, creating parent directories. Overwrites existing content.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file to write",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Content to write to the file",
				},
			},
			Required: []string{"path", "content"},
		},
	}, h.writeFile)

	s.AddTool(mcp.Tool{
		Name:        "upload",
		Description: "Copy a file or directory from the machine running this server into the runtime.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"source_path": map[string]any{
					"type":        "string",
					"description": "Local file or directory",
				},
				"target_path": map[string]any{
					"type":        "string",
					"description": "Destination inside the runtime",
				},
			},
			Required: []string{"source_path", "target_path"},
		},
	}, h.upload)

	return s
}

type handlers struct {
	rt runtime.Runtime
}

func (h *handlers) createSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return errorResult(err), nil
	}
	name, err := stringArg(args, "session", true)
	if err != nil {
		return errorResult(err), nil
	}

	resp, err := h.rt.CreateSession(ctx, &runtime.CreateSessionRequest{Name: name})
	if err != nil {
		return errorResult(err), nil
	}
	if !resp.Success {
		return errorResult(fmt.Errorf("session %s failed to start: %s", name, resp.FailureReason)), nil
	}
	return textResult(fmt.Sprintf("session %s started", name)), nil
}

func (h *handlers) runInSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return errorResult(err), nil
	}
	action := &runtime.Action{}
	if action.Session, err = stringArg(args, "session", true); err != nil {
		return errorResult(err), nil
	}
	if action.Command, err = stringArg(args, "command", true); err != nil {
		return errorResult(err), nil
	}
	if action.Timeout, err = numberArg(args, "timeout"); err != nil {
		return errorResult(err), nil
	}
	if action.Expect, err = stringsArg(args, "expect"); err != nil {
		return errorResult(err), nil
	}
	if action.IsInteractiveCommand, err = boolArg(args, "is_interactive_command"); err != nil {
		return errorResult(err), nil
	}
	if action.IsInteractiveQuit, err = boolArg(args, "is_interactive_quit"); err != nil {
		return errorResult(err), nil
	}

	obs, err := h.rt.RunInSession(ctx, action)
	if err != nil {
		return errorResult(err), nil
	}

	var b strings.Builder
	b.WriteString(obs.Output)
	if obs.Output != "" && !strings.HasSuffix(obs.Output, "\n") {
		b.WriteString("\n")
	}
	if obs.ExitCodeRaw != "" {
		fmt.Fprintf(&b, "[exit code: %s]", obs.ExitCodeRaw)
	}
	if obs.ExpectString != "" {
		fmt.Fprintf(&b, "\n[matched: %s]", obs.ExpectString)
	}
	if obs.FailureReason != "" {
		fmt.Fprintf(&b, "\n[failure: %s]", obs.FailureReason)
	}
	return textResult(b.String()), nil
}

func (h *handlers) closeSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return errorResult(err), nil
	}
	name, err := stringArg(args, "session", true)
	if err != nil {
		return errorResult(err), nil
	}
	if _, err := h.rt.CloseSession(ctx, &runtime.CloseSessionRequest{Session: name}); err != nil {
		return errorResult(err), nil
	}
	return textResult(fmt.Sprintf("session %s closed", name)), nil
}

func (h *handlers) execute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return errorResult(err), nil
	}
	cmd := &runtime.Command{Shell: true}
	command, err := stringArg(args, "command", true)
	if err != nil {
		return errorResult(err), nil
	}
	cmd.Command = runtime.CommandLine{command}
	if cmd.Cwd, err = stringArg(args, "cwd", false); err != nil {
		return errorResult(err), nil
	}
	if cmd.Timeout, err = numberArg(args, "timeout"); err != nil {
		return errorResult(err), nil
	}

	resp, err := h.rt.Execute(ctx, cmd)
	if err != nil {
		return errorResult(err), nil
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return textResult(string(data)), nil
}

func (h *handlers) readFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return errorResult(err), nil
	}
	path, err := stringArg(args, "path", true)
	if err != nil {
		return errorResult(err), nil
	}
	resp, err := h.rt.ReadFile(ctx, &runtime.ReadFileRequest{Path: path})
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(resp.Content), nil
}

func (h *handlers) writeFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return errorResult(err), nil
	}
	req := &runtime.WriteFileRequest{}
	if req.Path, err = stringArg(args, "path", true); err != nil {
		return errorResult(err), nil
	}
	if req.Content, err = stringArg(args, "content", false); err != nil {
		return errorResult(err), nil
	}
	if _, err := h.rt.WriteFile(ctx, req); err != nil {
		return errorResult(err), nil
	}
	return textResult(fmt.Sprintf("wrote %d bytes to %s", len(req.Content), req.Path)), nil
}

func (h *handlers) upload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return errorResult(err), nil
	}
	req := &runtime.UploadRequest{}
	if req.SourcePath, err = stringArg(args, "source_path", true); err != nil {
		return errorResult(err), nil
	}
	if req.TargetPath, err = stringArg(args, "target_path", true); err != nil {
		return errorResult(err), nil
	}
	if _, err := h.rt.Upload(ctx, req); err != nil {
		return errorResult(err), nil
	}
	return textResult(fmt.Sprintf("uploaded %s to %s", req.SourcePath, req.TargetPath)), nil
}

func textResult(text string) *mcp.CallToolResult {
	if len(text) > maxOutput {
		text = text[:maxOutput] + "\n... (output truncated)"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "error: " + err.Error()}},
		IsError: true,
	}
}
