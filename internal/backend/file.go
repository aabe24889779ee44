package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parleybot/parley/internal/paths"
	"github.com/parleybot/parley/internal/proto"
	"github.com/parleybot/parley/internal/server"
)

// fileBackend exposes files under one workspace root, plus any named
// roots ("notes:plan.md"). Paths outside their root are rejected
// before touching the filesystem.
type fileBackend struct {
	root  string
	named *paths.Resolver
}

// NewFile creates the filesystem backend rooted at workspace. Extra
// named roots become path prefixes (e.g. roots["notes"] = "~/notes"
// makes "notes:plan.md" reachable). All directories are created if
// missing.
func NewFile(name, workspace string, roots map[string]string, logger *slog.Logger) (*Builtin, error) {
	root, err := filepath.Abs(paths.ExpandHome(workspace))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	named := paths.New(roots)
	for _, prefix := range named.Prefixes() {
		dir := named.Resolve(prefix + ":")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create root %s: %w", prefix, err)
		}
	}

	be := &fileBackend{root: root, named: named}

	pathDesc := "Path relative to the workspace root"
	if prefixes := named.Prefixes(); len(prefixes) != 0 {
		pathDesc += fmt.Sprintf(", or prefixed with a named root (%s:)", strings.Join(prefixes, ":, "))
	}

	tools := []Tool{
		{
			Name:        "file_read",
			Description: "Read the contents of a file in the workspace",
			InputSchema: objectSchema(map[string]any{
				"path": prop("string", pathDesc),
			}, "path"),
			Handler: be.read,
		},
		{
			Name:        "file_write",
			Description: "Write content to a file in the workspace, creating it if needed",
			InputSchema: objectSchema(map[string]any{
				"path":    prop("string", pathDesc),
				"content": prop("string", "Content to write"),
			}, "path", "content"),
			Handler: be.write,
		},
		{
			Name:        "file_delete",
			Description: "Delete a file in the workspace",
			InputSchema: objectSchema(map[string]any{
				"path": prop("string", pathDesc),
			}, "path"),
			Handler: be.delete,
		},
		{
			Name:        "file_list",
			Description: "List files in a workspace directory",
			InputSchema: objectSchema(map[string]any{
				"path": prop("string", "Directory relative to the workspace root (default: the root)"),
			}),
			Handler: be.list,
		},
	}

	resources := []server.ResourceDescriptor{
		{Pattern: "file://" + root + "/*", Description: "Files in the workspace directory"},
	}

	return newBuiltin(name, logger, tools, resources, nil), nil
}

// resolve joins path onto its root and rejects escapes. A named-root
// prefix selects that root; everything else lands in the workspace.
func (be *fileBackend) resolve(path string) (string, error) {
	base, rel := be.root, path
	if root, r, ok := be.named.Split(path); ok {
		base, rel = root, r
	}
	abs := filepath.Clean(filepath.Join(base, rel))
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", proto.NewError(proto.KindArgument, "path %q escapes its root", path)
	}
	return abs, nil
}

func (be *fileBackend) read(_ context.Context, args map[string]any) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	abs, err := be.resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, proto.NewError(proto.KindExecution, "file %q does not exist", path)
		}
		return nil, proto.WrapError(proto.KindExecution, err, "read file")
	}

	return map[string]any{"path": path, "content": string(data), "size": len(data)}, nil
}

func (be *fileBackend) write(_ context.Context, args map[string]any) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	abs, err := be.resolve(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "create parent directory")
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "write file")
	}

	return map[string]any{"success": true, "path": path, "bytes_written": len(content)}, nil
}

func (be *fileBackend) delete(_ context.Context, args map[string]any) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	abs, err := be.resolve(path)
	if err != nil {
		return nil, err
	}

	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return nil, proto.NewError(proto.KindExecution, "file %q does not exist", path)
		}
		return nil, proto.WrapError(proto.KindExecution, err, "delete file")
	}

	return map[string]any{"success": true, "path": path}, nil
}

func (be *fileBackend) list(_ context.Context, args map[string]any) (any, error) {
	path, err := optionalStringArg(args, "path", ".")
	if err != nil {
		return nil, err
	}
	abs, err := be.resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, proto.NewError(proto.KindExecution, "directory %q does not exist", path)
		}
		return nil, proto.WrapError(proto.KindExecution, err, "list directory")
	}

	files := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		files = append(files, map[string]any{
			"name": e.Name(),
			"dir":  e.IsDir(),
			"size": size,
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i]["name"].(string) < files[j]["name"].(string)
	})

	return map[string]any{"path": path, "entries": files, "count": len(files)}, nil
}
