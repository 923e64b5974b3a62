package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemTool reads and edits files under Root, the session workspace.
// Paths that resolve outside Root are rejected.
type FilesystemTool struct {
	Root string
}

func NewFilesystemTool(root string) *FilesystemTool {
	absRoot, _ := filepath.Abs(root)
	return &FilesystemTool{Root: absRoot}
}

type fileArgs struct {
	Command  string `json:"command"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
	OldText  string `json:"old_text"`
	NewText  string `json:"new_text"`
}

type fileCommand func(f *FilesystemTool, path string, a fileArgs) (string, error)

var fileCommands = map[string]fileCommand{
	"read": func(f *FilesystemTool, path string, a fileArgs) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", a.Filename, err)
		}
		return clip(string(data)), nil
	},
	"write": func(f *FilesystemTool, path string, a fileArgs) (string, error) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", fmt.Errorf("create directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(a.Content), 0644); err != nil {
			return "", fmt.Errorf("write %s: %w", a.Filename, err)
		}
		return fmt.Sprintf("Successfully wrote %d bytes to %s", len(a.Content), a.Filename), nil
	},
	"edit": func(f *FilesystemTool, path string, a fileArgs) (string, error) {
		if a.OldText == "" {
			return "Error: old_text is required for edit", nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", a.Filename, err)
		}
		if n := strings.Count(string(data), a.OldText); n != 1 {
			return fmt.Sprintf("Error: old_text must match exactly once, found %d matches", n), nil
		}
		updated := strings.Replace(string(data), a.OldText, a.NewText, 1)
		if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
			return "", fmt.Errorf("write %s: %w", a.Filename, err)
		}
		return "Successfully edited " + a.Filename, nil
	},
	"list": func(f *FilesystemTool, path string, a fileArgs) (string, error) {
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", fmt.Errorf("list %s: %w", a.Filename, err)
		}
		if len(entries) == 0 {
			return "Directory is empty", nil
		}
		var b strings.Builder
		for _, e := range entries {
			kind := "file"
			if e.IsDir() {
				kind = "dir"
			}
			fmt.Fprintf(&b, "[%s] %s\n", kind, e.Name())
		}
		return b.String(), nil
	},
	"delete": func(f *FilesystemTool, path string, a fileArgs) (string, error) {
		if path == f.Root {
			return "Error: refusing to delete the workspace", nil
		}
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("delete %s: %w", a.Filename, err)
		}
		return "Successfully deleted " + a.Filename, nil
	},
	"mkdir": func(f *FilesystemTool, path string, a fileArgs) (string, error) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create directory: %w", err)
		}
		return "Successfully created directory " + a.Filename, nil
	},
}

func (f *FilesystemTool) Name() string {
	return "filesystem"
}

func (f *FilesystemTool) Description() string {
	return "Manage files in the session workspace (downloads, exports, notes). Commands: " +
		strings.Join(sortedKeys(fileCommands), ", ") + "."
}

func (f *FilesystemTool) Parameters() map[string]any {
	return schema([]string{"command", "filename"}, map[string]any{
		"command":  stringProp("The file operation.", sortedKeys(fileCommands)...),
		"filename": stringProp("Path relative to the workspace. Use '.' to list the workspace itself."),
		"content":  stringProp("Content for 'write'."),
		"old_text": stringProp("Exact text to replace with 'edit'; must occur once."),
		"new_text": stringProp("Replacement text for 'edit'."),
	})
}

func (f *FilesystemTool) Execute(ctx context.Context, input string) (string, error) {
	var args fileArgs
	if err := decodeArgs(f.Name(), input, &args); err != nil {
		return "", err
	}

	command, ok := fileCommands[args.Command]
	if !ok {
		return "Error: unknown command. Use one of " + strings.Join(sortedKeys(fileCommands), ", "), nil
	}
	path, err := f.resolve(args.Filename)
	if err != nil {
		return "", err
	}
	return command(f, path, args)
}

// resolve maps a workspace-relative name to an absolute path inside Root.
func (f *FilesystemTool) resolve(name string) (string, error) {
	path := filepath.Join(f.Root, name)
	rel, err := filepath.Rel(f.Root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the workspace", name)
	}
	return path, nil
}
