package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/deepresearch-mcp/orchestrator/internal/domain"
	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
	"github.com/deepresearch-mcp/orchestrator/internal/render"
)

// minFreeBytes is the free-space buffer SaveToMarkdown insists on beyond
// the rendered report's own size.
const minFreeBytes = 10 << 20 // 10 MB

// SaveResult reports where a report was written.
type SaveResult struct {
	FilePath string
	SizeKB   float64
}

// SaveToMarkdown renders a completed (or partially cancelled) task's Result
// to a markdown file under outDir/YYYY-MM/, refusing to run when no Result
// is available. Writes are atomic: temp file, then rename.
func (e *Engine) SaveToMarkdown(ctx context.Context, taskID, outDir, prefix string, includeMetadata, includeSources bool) (SaveResult, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return SaveResult{}, domain.Wrap(domain.KindNotFound, err)
	}
	if task.Status != research.StatusCompleted && task.Status != research.StatusCancelled {
		return SaveResult{}, domain.NewError(domain.KindNotCompleted, fmt.Sprintf("task %s has no result available yet (status %s)", taskID, task.Status))
	}

	result, err := e.store.GetResult(ctx, taskID)
	if err != nil {
		return SaveResult{}, domain.Wrap(domain.KindNotCompleted, err)
	}

	if prefix == "" {
		prefix = "research"
	}

	now := time.Now().UTC()
	content, err := render.Render(*task, *result, render.Options{IncludeMetadata: includeMetadata, IncludeSources: includeSources}, now.Format(time.RFC3339))
	if err != nil {
		return SaveResult{}, domain.Wrap(domain.KindIO, err)
	}

	monthDir := filepath.Join(outDir, now.Format("2006-01"))
	if err := os.MkdirAll(monthDir, 0o755); err != nil {
		return SaveResult{}, domain.Wrap(domain.KindIO, err)
	}

	filename := fmt.Sprintf("%s_%s_%s.md", prefix, shortID(taskID), now.Format("20060102_150405"))
	finalPath := filepath.Join(monthDir, filename)

	if err := checkFreeSpace(monthDir, int64(len(content))); err != nil {
		return SaveResult{}, err
	}

	if err := writeAtomic(finalPath, []byte(content)); err != nil {
		return SaveResult{}, domain.Wrap(domain.KindIO, err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return SaveResult{}, domain.Wrap(domain.KindIO, err)
	}

	e.emitEvent(ctx, taskID, research.EventTaskSaved, finalPath)

	return SaveResult{FilePath: finalPath, SizeKB: float64(info.Size()) / 1024}, nil
}

func shortID(taskID string) string {
	const n = 8
	if len(taskID) <= n {
		return taskID
	}
	return taskID[:n]
}

func checkFreeSpace(dir string, requiredBytes int64) error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		// Free-space introspection isn't available on every platform; the
		// write itself will surface ENOSPC if it comes to that.
		return nil
	}
	available := int64(stat.Bavail) * int64(stat.Bsize)
	if available < requiredBytes+minFreeBytes {
		return domain.NewError(domain.KindIO, fmt.Sprintf("insufficient disk space: need %d bytes, have %d available", requiredBytes+minFreeBytes, available))
	}
	return nil
}

func writeAtomic(path string, content []byte) error {
	tmp := path + ".tmp-" + fmt.Sprint(time.Now().UnixNano())
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
