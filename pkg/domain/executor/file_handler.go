package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/storyloom/storyloom/pkg/domain"
	"github.com/storyloom/storyloom/pkg/expressions"
)

// FileOutput is the recorded result of a file-operation node.
type FileOutput struct {
	Operation domain.FileOperation `json:"operation"`
	Path      string               `json:"path"`
	Content   string               `json:"content,omitempty"`
	Bytes     int64                `json:"bytes,omitempty"`
}

// executeFileNode performs read, write and copy operations bounded by the
// run's project folder. Sandbox checks run before any I/O; a path that
// escapes the root refuses the whole operation.
func (e *WorkflowExecutor) executeFileNode(ctx context.Context, node domain.WorkflowNode, spec domain.FileSpec, execCtx *domain.ExecutionContext) NodeResult {
	if err := ctx.Err(); err != nil {
		return failedResult(node, execCtx, err)
	}

	if spec.RequireProjectFolder && execCtx.ProjectFolder == "" {
		return failedResult(node, execCtx, domain.NewConfigurationError("node %s requires a project folder but the run has none", node.ID))
	}

	var output FileOutput
	var err error

	switch spec.Operation {
	case domain.FileOperationRead:
		output, err = e.readFile(spec, execCtx)
	case domain.FileOperationWrite:
		output, err = e.writeFile(spec, execCtx)
	case domain.FileOperationCopy:
		output, err = e.copyFile(spec, execCtx)
	default:
		err = domain.NewConfigurationError("unknown file operation %q", spec.Operation)
	}

	if err != nil {
		return failedResult(node, execCtx, err)
	}

	execCtx.SetNodeOutput(domain.NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    domain.NodeOutputStatusSuccess,
		Output:    output,
		Timestamp: time.Now(),
	})

	return NodeResult{
		NodeID: node.ID,
		Status: NodeStatusSuccess,
		Output: output,
	}
}

func (e *WorkflowExecutor) readFile(spec domain.FileSpec, execCtx *domain.ExecutionContext) (FileOutput, error) {
	path, err := resolveSandboxedPath(spec.SourcePath, spec.RequireProjectFolder, execCtx.ProjectFolder)
	if err != nil {
		return FileOutput{}, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return FileOutput{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return FileOutput{
		Operation: domain.FileOperationRead,
		Path:      path,
		Content:   string(content),
		Bytes:     int64(len(content)),
	}, nil
}

func (e *WorkflowExecutor) writeFile(spec domain.FileSpec, execCtx *domain.ExecutionContext) (FileOutput, error) {
	path, err := resolveSandboxedPath(spec.TargetPath, spec.RequireProjectFolder, execCtx.ProjectFolder)
	if err != nil {
		return FileOutput{}, err
	}

	content := expressions.SubstitutePlaceholders(spec.Content, execCtx.Variables)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return FileOutput{}, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return FileOutput{}, fmt.Errorf("failed to write %s: %w", path, err)
	}

	log.Debug().Str("path", path).Int("bytes", len(content)).Msg("file node wrote content")

	return FileOutput{
		Operation: domain.FileOperationWrite,
		Path:      path,
		Bytes:     int64(len(content)),
	}, nil
}

func (e *WorkflowExecutor) copyFile(spec domain.FileSpec, execCtx *domain.ExecutionContext) (FileOutput, error) {
	// Both endpoints must pass the sandbox check before any I/O happens.
	sourcePath, err := resolveSandboxedPath(spec.SourcePath, spec.RequireProjectFolder, execCtx.ProjectFolder)
	if err != nil {
		return FileOutput{}, err
	}

	targetPath, err := resolveSandboxedPath(spec.TargetPath, spec.RequireProjectFolder, execCtx.ProjectFolder)
	if err != nil {
		return FileOutput{}, err
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return FileOutput{}, fmt.Errorf("failed to open %s: %w", sourcePath, err)
	}
	defer source.Close()

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return FileOutput{}, fmt.Errorf("failed to create directory for %s: %w", targetPath, err)
	}

	target, err := os.Create(targetPath)
	if err != nil {
		return FileOutput{}, fmt.Errorf("failed to create %s: %w", targetPath, err)
	}
	defer target.Close()

	written, err := io.Copy(target, source)
	if err != nil {
		return FileOutput{}, fmt.Errorf("failed to copy %s to %s: %w", sourcePath, targetPath, err)
	}

	return FileOutput{
		Operation: domain.FileOperationCopy,
		Path:      targetPath,
		Bytes:     written,
	}, nil
}

// resolveSandboxedPath resolves a path relative to the project folder and
// enforces that it stays inside when the sandbox is required.
func resolveSandboxedPath(path string, requireProjectFolder bool, projectFolder string) (string, error) {
	if path == "" {
		return "", domain.NewConfigurationError("file operation has an empty path")
	}

	resolved := path

	if !filepath.IsAbs(resolved) && projectFolder != "" {
		resolved = filepath.Join(projectFolder, resolved)
	}

	resolved = filepath.Clean(resolved)

	if requireProjectFolder {
		root := filepath.Clean(projectFolder)

		relative, err := filepath.Rel(root, resolved)
		if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
			return "", &domain.FileSandboxError{
				Path:          path,
				ProjectFolder: projectFolder,
			}
		}
	}

	return resolved, nil
}
