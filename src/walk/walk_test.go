package walk

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestCollectSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	writeFile(t, path, 42)

	fc, err := Collect([]string{path})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if fc.NumFiles != 1 {
		t.Fatalf("expected 1 file, got %d", fc.NumFiles)
	}
	if fc.TotalSize != 42 {
		t.Fatalf("expected total size 42, got %d", fc.TotalSize)
	}
	if fc.Files[0].FileID != 1 {
		t.Fatalf("expected first file id 1, got %d", fc.Files[0].FileID)
	}
	if fc.Files[0].RelativePath != "note.txt" {
		t.Fatalf("expected relative path note.txt, got %q", fc.Files[0].RelativePath)
	}
}

func TestCollectDirectoryPreservesTopLevelName(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "project")
	writeFile(t, filepath.Join(root, "a.txt"), 10)
	writeFile(t, filepath.Join(root, "nested", "b.txt"), 20)

	fc, err := Collect([]string{root})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if fc.NumFiles != 2 {
		t.Fatalf("expected 2 files, got %d", fc.NumFiles)
	}
	if fc.TotalSize != 30 {
		t.Fatalf("expected total size 30, got %d", fc.TotalSize)
	}

	var sawTopLevelPrefix bool
	for _, fi := range fc.Files {
		if fi.RelativePath == "project/a.txt" || fi.RelativePath == "project/nested/b.txt" {
			sawTopLevelPrefix = true
		}
	}
	if !sawTopLevelPrefix {
		t.Fatalf("expected relative paths to retain top-level dir name, got %+v", fc.Files)
	}
}

func TestCollectAssignsSequentialIDsAcrossInputs(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.txt")
	second := filepath.Join(dir, "second.txt")
	writeFile(t, first, 1)
	writeFile(t, second, 1)

	fc, err := Collect([]string{first, second})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(fc.Files) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(fc.Files))
	}
	if fc.Files[0].FileID != 1 || fc.Files[1].FileID != 2 {
		t.Fatalf("expected sequential ids 1,2, got %d,%d", fc.Files[0].FileID, fc.Files[1].FileID)
	}
}

func TestCollectEmptyDirectoryGetsZeroID(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "project")
	empty := filepath.Join(root, "empty")
	if err := os.MkdirAll(empty, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	fc, err := Collect([]string{root})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var found bool
	for _, fi := range fc.Files {
		if fi.EmptyDir {
			found = true
			if fi.FileID != 0 {
				t.Fatalf("expected empty dir marker file id 0, got %d", fi.FileID)
			}
			if fi.Size != 0 {
				t.Fatalf("expected empty dir marker size 0, got %d", fi.Size)
			}
		}
	}
	if !found {
		t.Fatal("expected an empty-dir marker in the collected files")
	}
	if fc.NumFolders < 2 {
		t.Fatalf("expected at least 2 folders counted (project, empty), got %d", fc.NumFolders)
	}
}

func TestCollectMaxFileNameLength(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "short.txt"), 1)
	writeFile(t, filepath.Join(dir, "a-much-longer-filename.txt"), 1)

	fc, err := Collect([]string{dir})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if fc.MaxFileNameLength != len("a-much-longer-filename.txt") {
		t.Fatalf("expected max name length %d, got %d", len("a-much-longer-filename.txt"), fc.MaxFileNameLength)
	}
}

func TestCollectMissingInputReturnsError(t *testing.T) {
	dir := t.TempDir()
	_, err := Collect([]string{filepath.Join(dir, "does-not-exist")})
	if err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestCollectFollowsSymlinkedDirectory(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	writeFile(t, filepath.Join(real, "inside.txt"), 5)

	link := filepath.Join(dir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported on this platform: %v", err)
	}

	fc, err := Collect([]string{link})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if fc.NumFiles != 1 {
		t.Fatalf("expected symlinked directory to be followed, got %d files", fc.NumFiles)
	}
}
