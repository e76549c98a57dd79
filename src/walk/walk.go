// Package walk enumerates sender input paths into the ordered FileInfo
// list the rest of the transfer pipeline operates on. Grounded on the
// teacher's src/archive/zip.go CreateZipFromDirectory, which already
// walks a directory tree and derives a relative path per entry for the
// zip; this package keeps that traversal shape but collects FileInfo
// records instead of writing zip entries, assigns the stable file_id
// every downstream message references, and follows symlinks (the
// teacher's zip walker explicitly skips them) by resolving each entry
// with os.Stat instead of filepath.Walk's Lstat-based traversal.
package walk

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileInfo is one entry in the ordered transfer manifest: either a
// regular file or an empty-directory marker (FileID 0).
type FileInfo struct {
	FileID       uint64
	Name         string
	AccessPath   string
	RelativePath string
	Mode         os.FileMode
	Size         int64
	EmptyDir     bool
}

// FileCollector is the aggregate built once at sender startup and never
// mutated afterward: the ordered file list plus the totals the sender
// announces in its SendRequest.
type FileCollector struct {
	Files             []FileInfo
	TotalSize         int64
	NumFiles          int
	NumFolders        int
	MaxFileNameLength int
}

type walker struct {
	collector *FileCollector
	nextID    uint64
	visited   map[string]bool // resolved real paths, guards symlink cycles
}

// Collect walks each input path in order and returns the combined
// FileCollector. File ids are assigned in visitation order starting at
// 1 and are shared across all inputs; empty directories get FileID 0.
//
// relative_path is computed by stripping the parent of each input root,
// not the root itself, so the receiver reproduces the input's top-level
// name under its own save directory.
func Collect(inputs []string) (*FileCollector, error) {
	w := &walker{
		collector: &FileCollector{},
		nextID:    1,
		visited:   make(map[string]bool),
	}

	for _, input := range inputs {
		absInput, err := filepath.Abs(input)
		if err != nil {
			return nil, fmt.Errorf("walk: resolve %s: %w", input, err)
		}

		info, err := os.Stat(absInput)
		if err != nil {
			return nil, fmt.Errorf("walk: stat %s: %w", input, err)
		}

		parent := filepath.Dir(absInput)

		if !info.IsDir() {
			w.addFile(absInput, filepath.Base(absInput), parent, info)
			continue
		}

		if err := w.walkDir(absInput, parent, info); err != nil {
			return nil, fmt.Errorf("walk: %s: %w", input, err)
		}
	}

	return w.collector, nil
}

// walkDir recurses into dir, resolving symlinks along the way. parent is
// the fixed reference directory relative_path is computed against for
// every entry under this input root.
func (w *walker) walkDir(dir, parent string, info os.FileInfo) error {
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		if w.visited[real] {
			return nil
		}
		w.visited[real] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		relPath := w.relativePath(dir, parent)
		w.collector.NumFolders++
		w.collector.appendFile(FileInfo{
			FileID:       0,
			Name:         info.Name(),
			AccessPath:   dir,
			RelativePath: relPath,
			Mode:         info.Mode(),
			EmptyDir:     true,
		})
		return nil
	}

	w.collector.NumFolders++

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		entryInfo, err := os.Stat(path)
		if err != nil {
			// Broken symlink or permission error: skip rather than abort
			// the whole transfer over one unreadable entry.
			continue
		}

		if entryInfo.IsDir() {
			if err := w.walkDir(path, parent, entryInfo); err != nil {
				return err
			}
			continue
		}

		w.addFile(path, entryInfo.Name(), parent, entryInfo)
	}

	return nil
}

func (w *walker) addFile(path, name, parent string, info os.FileInfo) {
	relPath := w.relativePath(path, parent)
	w.collector.appendFile(FileInfo{
		FileID:       w.nextID,
		Name:         name,
		AccessPath:   path,
		RelativePath: relPath,
		Mode:         info.Mode(),
		Size:         info.Size(),
	})
	w.nextID++
}

func (w *walker) relativePath(path, parent string) string {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (c *FileCollector) appendFile(fi FileInfo) {
	c.Files = append(c.Files, fi)
	if !fi.EmptyDir {
		c.NumFiles++
		c.TotalSize += fi.Size
	}
	if len(fi.Name) > c.MaxFileNameLength {
		c.MaxFileNameLength = len(fi.Name)
	}
}
