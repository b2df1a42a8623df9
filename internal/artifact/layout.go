// Package artifact manages the on-disk layout of batch files:
//
//	<root>/uploads/<batch_id>/*.eml        raw uploads
//	<root>/processed/<batch_id>/*.md       cleaned markdown
//	<root>/final_output/<batch_id>/*.md    rewritten documents
//
// Writes go through a temp-file-then-rename so readers never observe a
// partial file and crash recovery can trust whatever exists.
package artifact

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Layout resolves per-batch artifact directories under one root.
type Layout struct {
	root string
}

// NewLayout creates a Layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{root: dir}
}

// Root returns the artifact root directory.
func (l Layout) Root() string { return l.root }

// UploadsDir returns the raw upload directory for a batch.
func (l Layout) UploadsDir(batchID string) string {
	return filepath.Join(l.root, "uploads", batchID)
}

// ProcessedDir returns the cleaned-markdown directory for a batch.
func (l Layout) ProcessedDir(batchID string) string {
	return filepath.Join(l.root, "processed", batchID)
}

// FinalDir returns the rewritten-output directory for a batch.
func (l Layout) FinalDir(batchID string) string {
	return filepath.Join(l.root, "final_output", batchID)
}

// WriteFile writes data to path atomically, creating parent directories.
func (l Layout) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "artifact: mkdir %s", dir)
	}

	tmp := filepath.Join(dir, ".tmp-"+uuid.New().String())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "artifact: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return eris.Wrapf(err, "artifact: rename to %s", path)
	}
	return nil
}

// ListFiles returns the file names in dir with the given extension, sorted.
// A missing directory is an empty listing, not an error.
func (l Layout) ListFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether the file at path exists.
func (l Layout) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Reset removes a batch's processed and final output directories, leaving
// the raw uploads in place for reprocessing.
func (l Layout) Reset(batchID string) error {
	for _, dir := range []string{l.ProcessedDir(batchID), l.FinalDir(batchID)} {
		if err := os.RemoveAll(dir); err != nil {
			return eris.Wrapf(err, "artifact: remove %s", dir)
		}
	}
	return nil
}

// Delete removes every artifact directory for a batch, uploads included.
func (l Layout) Delete(batchID string) error {
	for _, dir := range []string{l.UploadsDir(batchID), l.ProcessedDir(batchID), l.FinalDir(batchID)} {
		if err := os.RemoveAll(dir); err != nil {
			return eris.Wrapf(err, "artifact: remove %s", dir)
		}
	}
	return nil
}

// StageCounts reports per-stage file counts for a batch, derived from the
// directory contents.
type StageCounts struct {
	Uploaded  int `json:"uploaded"`
	Processed int `json:"processed"`
	Final     int `json:"final"`
}

// Counts walks the three batch directories and counts their artifacts.
func (l Layout) Counts(batchID string) (StageCounts, error) {
	var c StageCounts

	uploads, err := l.ListFiles(l.UploadsDir(batchID), ".eml")
	if err != nil {
		return c, err
	}
	processed, err := l.ListFiles(l.ProcessedDir(batchID), ".md")
	if err != nil {
		return c, err
	}
	final, err := l.ListFiles(l.FinalDir(batchID), ".md")
	if err != nil {
		return c, err
	}

	c.Uploaded = len(uploads)
	c.Processed = len(processed)
	c.Final = len(final)
	return c, nil
}
