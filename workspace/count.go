package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/richinex/devstudio/internal/dsa"
)

// DefaultSkipDirs are directory names never walked: VCS metadata,
// interpreter caches and build trees full of generated sources.
var DefaultSkipDirs = []string{".git", "__pycache__", ".venv", "venv", "node_modules", "build", "CMakeFiles", ".pytest_cache"}

// sniffLen matches the prefix git inspects when deciding a file is binary.
const sniffLen = 8000

// CountLines walks the workspace and sums the lines of every text file.
// Binary files, symlinks and skipped directories contribute nothing.
func (w *Workspace) CountLines() (int, error) {
	return w.scan()
}

// scan walks the tree once, rebuilding the file index and returning the line total.
func (w *Workspace) scan() (int, error) {
	index := dsa.NewTrie()
	total := 0

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Removed mid-walk.
				return nil
			}
			return err
		}
		if path == w.root {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ReservedDir || w.skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.Contains(filepath.Base(path), ".tmp-") && strings.HasPrefix(filepath.Base(path), ".") {
			// In-flight atomic write.
			return nil
		}

		index.Insert(key)

		if !w.counts(path) {
			return nil
		}
		lines, binary, err := countFileLines(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to count lines in %s: %w", key, err)
		}
		if !binary {
			total += lines
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk workspace: %w", err)
	}

	w.mu.Lock()
	w.index = index
	w.indexStale = false
	w.mu.Unlock()
	return total, nil
}

func (w *Workspace) counts(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions[strings.ToLower(filepath.Ext(path))]
}

// countFileLines counts newline-terminated lines, plus a final unterminated one.
func countFileLines(path string) (int, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, false, err
	}
	head = head[:n]
	if n == 0 {
		return 0, false, nil
	}
	if looksBinary(head, n < sniffLen) {
		return 0, true, nil
	}

	lines := bytes.Count(head, []byte{'\n'})
	last := head[n-1]

	buf := make([]byte, 32*1024)
	for {
		m, err := f.Read(buf)
		if m > 0 {
			lines += bytes.Count(buf[:m], []byte{'\n'})
			last = buf[m-1]
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, false, err
		}
	}

	if last != '\n' {
		lines++
	}
	return lines, false, nil
}

// looksBinary reports NUL bytes or invalid UTF-8 in the sniffed prefix.
// When the prefix was cut short of EOF, a trailing partial rune is tolerated.
func looksBinary(head []byte, complete bool) bool {
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	if !complete {
		for i := 0; i < utf8.UTFMax-1 && len(head) > 0; i++ {
			if utf8.Valid(head) {
				return false
			}
			head = head[:len(head)-1]
		}
	}
	return !utf8.Valid(head)
}
