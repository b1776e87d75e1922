package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// CollectIndexInfo gathers index facts for the `trirank stats` command.
// Missing state keys degrade to zero values rather than failing.
func CollectIndexInfo(ctx context.Context, meta MetadataStore, dataDir, corpusRoot string) (*IndexInfo, error) {
	info := &IndexInfo{
		Location:   dataDir,
		CorpusRoot: corpusRoot,
	}

	chunkCount, err := meta.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	info.ChunkCount = chunkCount

	docs, err := meta.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	info.DocumentCount = len(docs)

	if model, err := meta.GetState(ctx, StateKeyIndexModel); err == nil {
		info.IndexModel = model
	}
	if dim, err := meta.GetState(ctx, StateKeyIndexDimension); err == nil && dim != "" {
		if n, err := strconv.Atoi(dim); err == nil {
			info.IndexDimensions = n
		}
	}
	if ts, err := meta.GetState(ctx, StateKeyIndexedAt); err == nil && ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			info.IndexedAt = t
		}
	}

	info.IndexSizeBytes = getDirSize(dataDir)

	return info, nil
}

// getDirSize returns the total size of all files under dir.
// Returns 0 for missing or unreadable paths.
func getDirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			if fi, err := d.Info(); err == nil {
				size += fi.Size()
			}
		}
		return nil
	})
	return size
}

// FormatBytes renders a byte count for humans.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	kb := float64(bytes) / unit
	if kb < unit {
		return fmt.Sprintf("%.1f KB", kb)
	}
	mb := kb / unit
	if mb < unit {
		return fmt.Sprintf("%.1f MB", mb)
	}
	gb := mb / unit
	return fmt.Sprintf("%.1f GB", gb)
}

// FormatTime renders a timestamp for humans, "unknown" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}
