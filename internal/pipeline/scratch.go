// Package pipeline owns the per-video processing flow: download, probe,
// transcode, upload, record.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// ScratchSpace hands out private per-video scratch directories under a
// configured root. Pipelines never share scratch, so concurrent videos never
// contend on files.
type ScratchSpace struct {
	root string
}

// NewScratchSpace creates a scratch allocator rooted at dir (the system temp
// directory is a sensible default).
func NewScratchSpace(root string) *ScratchSpace {
	if root == "" {
		root = os.TempDir()
	}
	return &ScratchSpace{root: root}
}

// Acquire creates the scratch directory for one video. The returned handle
// must be released on every exit path; Release removes the whole tree.
func (s *ScratchSpace) Acquire(videoID string) (*Scratch, error) {
	dir := filepath.Join(s.root, "vodworks", videoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Scratch is one video's private staging directory.
type Scratch struct {
	dir string
}

// Dir returns the scratch directory path.
func (s *Scratch) Dir() string { return s.dir }

// Path returns the path of a file or subdirectory inside the scratch dir.
func (s *Scratch) Path(name string) string { return filepath.Join(s.dir, name) }

// Release removes the scratch tree. Safe to call more than once.
func (s *Scratch) Release() error {
	return os.RemoveAll(s.dir)
}
