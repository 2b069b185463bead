package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrWorkspaceBusy is returned when another run already holds the workspace.
var ErrWorkspaceBusy = errors.New("workspace busy: another run holds it")

const lockDirName = "lock"

var (
	registryMu sync.Mutex
	held       = map[string]bool{}
)

// Lock is exclusive ownership of a workspace root for one run.
type Lock struct {
	root string
	dir  string
	once sync.Once
	err  error
}

// Acquire takes the workspace for a run. It never waits: a held lock,
// in this process or another, fails with ErrWorkspaceBusy.
func (w *Workspace) Acquire() (*Lock, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if held[w.root] {
		return nil, fmt.Errorf("%s: %w", w.root, ErrWorkspaceBusy)
	}

	if err := os.MkdirAll(w.MetaDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	dir := filepath.Join(w.MetaDir(), lockDirName)
	if err := os.Mkdir(dir, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%s (%s): %w", w.root, lockOwner(dir), ErrWorkspaceBusy)
		}
		return nil, fmt.Errorf("failed to create lock: %w", err)
	}
	meta := fmt.Sprintf("pid=%d\nacquired=%s\n", os.Getpid(), time.Now().Format(time.RFC3339Nano))
	_ = os.WriteFile(filepath.Join(dir, "owner"), []byte(meta), 0644)

	held[w.root] = true
	return &Lock{root: w.root, dir: dir}, nil
}

// Release frees the workspace. Safe to call more than once.
func (l *Lock) Release() error {
	l.once.Do(func() {
		registryMu.Lock()
		delete(held, l.root)
		registryMu.Unlock()
		if err := os.RemoveAll(l.dir); err != nil {
			l.err = fmt.Errorf("failed to remove lock: %w", err)
		}
	})
	return l.err
}

// ForceUnlock removes a lock left behind by a crashed run.
// It refuses while this process itself holds the workspace.
func (w *Workspace) ForceUnlock() (bool, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if held[w.root] {
		return false, fmt.Errorf("%s: %w", w.root, ErrWorkspaceBusy)
	}
	dir := filepath.Join(w.MetaDir(), lockDirName)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to remove lock: %w", err)
	}
	return true, nil
}

func lockOwner(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "owner"))
	if err != nil {
		return "owner unknown"
	}
	return strings.Join(strings.Fields(string(data)), " ")
}
