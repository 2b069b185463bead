// Package workspace confines every file operation of a run to one project root.
//
// Information Hiding:
// - Path resolution and containment checks hidden
// - Atomic write strategy hidden
// - File index maintenance hidden
// - Lock directory layout hidden
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/richinex/devstudio/internal/dsa"
	"github.com/richinex/devstudio/model"
)

// ReservedDir holds the run log and lock; it is invisible to the model.
const ReservedDir = ".devstudio"

// DefaultMaxReadBytes caps ReadFile.
const DefaultMaxReadBytes int64 = 1 << 20

var (
	// ErrPathEscape is returned when a path resolves outside the workspace root.
	ErrPathEscape = errors.New("path escapes workspace root")

	// ErrReservedPath is returned for writes into the reserved metadata directory.
	ErrReservedPath = errors.New("path is reserved for run metadata")

	// ErrInvalidPath is returned for empty paths or paths naming the root itself.
	ErrInvalidPath = errors.New("invalid path")

	// ErrFileTooLarge is returned when ReadFile hits the size cap.
	ErrFileTooLarge = errors.New("file too large")
)

// Workspace is a project directory with contained, atomic file operations.
type Workspace struct {
	root         string
	maxReadBytes int64
	extensions   map[string]bool
	skipDirs     map[string]bool
	mu           sync.Mutex
	index        *dsa.Trie
	indexStale   bool
}

// New opens (creating if needed) the workspace rooted at root.
func New(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("workspace root: %w", ErrInvalidPath)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	return &Workspace{
		root:         real,
		maxReadBytes: DefaultMaxReadBytes,
		skipDirs:     toSet(DefaultSkipDirs),
		index:        dsa.NewTrie(),
		indexStale:   true,
	}, nil
}

// WithMaxReadBytes overrides the ReadFile size cap.
func (w *Workspace) WithMaxReadBytes(n int64) *Workspace {
	if n > 0 {
		w.maxReadBytes = n
	}
	return w
}

// WithCountExtensions restricts CountLines to files with these extensions.
// An empty list counts every text file.
func (w *Workspace) WithCountExtensions(exts []string) *Workspace {
	w.extensions = nil
	if len(exts) == 0 {
		return w
	}
	w.extensions = make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		w.extensions[e] = true
	}
	return w
}

// WithSkipDirs replaces the directory names ignored by walks.
// The reserved directory is always skipped.
func (w *Workspace) WithSkipDirs(dirs []string) *Workspace {
	w.skipDirs = toSet(dirs)
	return w
}

// Root returns the canonical absolute root.
func (w *Workspace) Root() string {
	return w.root
}

// MetaDir returns the absolute path of the reserved metadata directory.
func (w *Workspace) MetaDir() string {
	return filepath.Join(w.root, ReservedDir)
}

// CreatePath creates a directory (and parents) inside the workspace.
func (w *Workspace) CreatePath(rel string) error {
	abs, _, err := w.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", rel, err)
	}
	return nil
}

// WriteFile replaces the content of a file, creating parents as needed.
// Readers never observe a partially written file.
func (w *Workspace) WriteFile(rel, content string) error {
	abs, key, err := w.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create parent directories for %s: %w", rel, err)
	}
	if err := writeAtomic(abs, []byte(content)); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	w.track(key)
	return nil
}

// AppendFile appends content to a file, creating it if missing.
func (w *Workspace) AppendFile(rel, content string) error {
	abs, key, err := w.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create parent directories for %s: %w", rel, err)
	}
	f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", rel, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", rel, err)
	}
	w.track(key)
	return nil
}

// ReadFile returns the content of a file inside the workspace.
func (w *Workspace) ReadFile(rel string) (string, error) {
	abs, _, err := w.resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("failed to read %s: is a directory", rel)
	}
	if info.Size() > w.maxReadBytes {
		return "", fmt.Errorf("%s is %d bytes (max %d): %w", rel, info.Size(), w.maxReadBytes, ErrFileTooLarge)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return string(data), nil
}

// DeleteFile removes a file, or a directory and everything below it.
func (w *Workspace) DeleteFile(rel string) error {
	abs, key, err := w.resolve(rel)
	if err != nil {
		return err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", rel, err)
	}
	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", rel, err)
	}

	w.mu.Lock()
	w.index.Delete(key)
	w.index.DeletePrefix(key + "/")
	w.mu.Unlock()
	return nil
}

// Exists reports whether rel names an existing file or directory in the workspace.
// A fresh file index answers for known files; anything else goes to disk.
func (w *Workspace) Exists(rel string) (bool, error) {
	abs, key, err := w.resolve(rel)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	indexed := !w.indexStale && w.index.Contains(key)
	w.mu.Unlock()
	if indexed {
		return true, nil
	}

	_, err = os.Lstat(abs)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", rel, err)
}

// Invalidate marks the file index stale, for after commands that touch the tree.
func (w *Workspace) Invalidate() {
	w.mu.Lock()
	w.indexStale = true
	w.mu.Unlock()
}

// Files lists workspace files (slash-separated, sorted), rebuilding the index if stale.
func (w *Workspace) Files() ([]string, error) {
	w.mu.Lock()
	stale := w.indexStale
	w.mu.Unlock()
	if stale {
		if _, err := w.scan(); err != nil {
			return nil, err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index.Keys(), nil
}

// State walks the tree once, recomputing the line count and the file index.
func (w *Workspace) State() (model.WorkspaceState, error) {
	loc, err := w.scan()
	if err != nil {
		return model.WorkspaceState{}, err
	}
	w.mu.Lock()
	files := w.index.Keys()
	w.mu.Unlock()
	return model.WorkspaceState{Root: w.root, LOC: loc, Files: files}, nil
}

func (w *Workspace) track(key string) {
	w.mu.Lock()
	w.index.Insert(key)
	w.mu.Unlock()
}

// resolve maps a model-supplied relative path onto an absolute path inside the root.
// It returns the absolute path and the slash-separated index key.
func (w *Workspace) resolve(rel string) (string, string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", "", ErrInvalidPath
	}
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", "", fmt.Errorf("%q: %w", rel, ErrPathEscape)
	}

	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." {
		return "", "", fmt.Errorf("%q: %w", rel, ErrInvalidPath)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%q: %w", rel, ErrPathEscape)
	}

	key := filepath.ToSlash(clean)
	if key == ReservedDir || strings.HasPrefix(key, ReservedDir+"/") {
		return "", "", fmt.Errorf("%q: %w", rel, ErrReservedPath)
	}

	abs := filepath.Join(w.root, clean)
	if err := w.checkSymlinks(abs); err != nil {
		return "", "", fmt.Errorf("%q: %w", rel, err)
	}
	return abs, key, nil
}

// checkSymlinks resolves the deepest existing ancestor of abs and checks it stays inside the root.
func (w *Workspace) checkSymlinks(abs string) error {
	existing := abs
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return ErrPathEscape
		}
		existing = parent
	}

	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		// Dangling link: nothing safe to write through.
		return ErrPathEscape
	}
	if !within(w.root, real) {
		return ErrPathEscape
	}
	return nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func writeAtomic(path string, data []byte) error {
	perm := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		if item != "" {
			set[item] = true
		}
	}
	return set
}
