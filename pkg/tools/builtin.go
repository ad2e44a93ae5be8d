package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxReadSize = 256 * 1024

// BuiltinOptions configures built-in tool registration.
type BuiltinOptions struct {
	WorkspaceRoot string
}

// RegisterBuiltins registers the baseline tool set: workspace file access and
// the user-question tool.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) error {
	defs := []Definition{
		readFileTool(opts),
		writeFileTool(opts),
		askUserTool(),
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func readFileTool(opts BuiltinOptions) Definition {
	return Definition{
		Name:        "read_file",
		DisplayName: "Read file",
		Description: "Read a UTF-8 text file from the workspace.",
		Kind:        KindAction,
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Path relative to the workspace root", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, err := resolveWorkspacePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return "", err
			}
			info, err := os.Stat(path)
			if err != nil {
				return "", err
			}
			if info.Size() > maxReadSize {
				return "", fmt.Errorf("file too large: %d bytes", info.Size())
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}

func writeFileTool(opts BuiltinOptions) Definition {
	return Definition{
		Name:        "write_file",
		DisplayName: "Write file",
		Description: "Create or overwrite a text file in the workspace.",
		Kind:        KindAction,
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Path relative to the workspace root", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, err := resolveWorkspacePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return "", err
			}
			content, _ := args["content"].(string)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return "", err
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return "", err
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), args["path"]), nil
		},
	}
}

func askUserTool() Definition {
	return Definition{
		Name:        "ask_user",
		DisplayName: "Ask the user",
		Description: "Ask the user a question and wait for their free-form answer.",
		Kind:        KindUserInput,
		Parameters: []Parameter{
			{Name: "question", Type: "string", Description: "The question to put to the user", Required: true},
		},
		// User-input tools resolve at the approval gate; the handler is never
		// reached.
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", fmt.Errorf("ask_user resolves through the interrupt gate")
		},
	}
}

func resolveWorkspacePath(root string, raw interface{}) (string, error) {
	rel, _ := raw.(string)
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if root == "" {
		return "", fmt.Errorf("workspace root is not configured")
	}
	abs := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root) + string(os.PathSeparator)
	if !strings.HasPrefix(filepath.Clean(abs)+string(os.PathSeparator), cleanRoot) {
		return "", fmt.Errorf("path escapes the workspace: %s", rel)
	}
	return abs, nil
}
