package grove

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"
)

// FileSource enumerates and reads the files to analyze. Paths are stable
// identifiers: the same file must be listed under the same path on every
// call, or it is seen as deleted and re-added.
type FileSource interface {
	// List returns every file path currently in the set.
	List(ctx context.Context) ([]string, error)
	// Read returns the content of path.
	Read(path string) ([]byte, error)
}

// =============================================================================
// MemorySource
// =============================================================================

// MemorySource is an in-memory FileSource, used by editors holding unsaved
// buffers and by tests. It is safe for concurrent use.
type MemorySource struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemorySource returns a MemorySource holding files.
func NewMemorySource(files map[string]string) *MemorySource {
	m := &MemorySource{files: make(map[string][]byte, len(files))}
	for path, src := range files {
		m.files[path] = []byte(src)
	}
	return m
}

// Set creates or replaces path.
func (m *MemorySource) Set(path, src string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = []byte(src)
}

// Delete removes path.
func (m *MemorySource) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
}

// List returns the paths in sorted order.
func (m *MemorySource) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// Read returns a copy of the content of path.
func (m *MemorySource) Read(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, fs.ErrNotExist)
	}
	return bytes.Clone(src), nil
}

// =============================================================================
// DirSource
// =============================================================================

// skipDirs are never descended into when walking a directory.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
}

// DirSource lists the PHP files under a directory. Paths are relative to
// the root and slash-separated.
type DirSource struct {
	root string
}

// NewDirSource returns a DirSource rooted at root.
func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

// Root returns the directory the source lists.
func (d *DirSource) Root() string {
	return d.root
}

// List uses git ls-files when root is inside a git work tree, so .gitignore
// and the global excludes apply. Otherwise it walks the tree, honoring the
// root .gitignore and skipping hidden directories, node_modules and vendor.
func (d *DirSource) List(ctx context.Context) ([]string, error) {
	paths, err := d.gitListFiles(ctx)
	if err != nil {
		paths, err = d.walkListFiles()
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Read reads path relative to the root.
func (d *DirSource) Read(path string) ([]byte, error) {
	return os.ReadFile(d.Abs(path))
}

// Abs returns the absolute location of a listed path.
func (d *DirSource) Abs(path string) string {
	return filepath.Join(d.root, filepath.FromSlash(path))
}

// Rel converts a filesystem path under the root into a listed path.
func (d *DirSource) Rel(path string) (string, bool) {
	root, err := filepath.Abs(d.root)
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func isPHP(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".php")
}

func (d *DirSource) gitListFiles(ctx context.Context) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: .gitignore, .git/info/exclude and global excludes.
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = d.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !isPHP(line) {
			continue
		}
		if hasSkippedDir(line) {
			continue
		}
		// ls-files lists deleted-but-tracked files until they are staged.
		if _, err := os.Stat(d.Abs(line)); err != nil {
			continue
		}
		paths = append(paths, line)
	}
	return paths, nil
}

func hasSkippedDir(path string) bool {
	parts := strings.Split(path, "/")
	for _, dir := range parts[:len(parts)-1] {
		if skipDirs[dir] || strings.HasPrefix(dir, ".") {
			return true
		}
	}
	return false
}

func (d *DirSource) walkListFiles() ([]string, error) {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(d.root, ".gitignore"))
	if err != nil {
		gi = nil
	}

	var paths []string
	err = filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == d.root {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		name := entry.Name()
		if entry.IsDir() {
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.Type()&fs.ModeSymlink != 0 || !isPHP(name) {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}
