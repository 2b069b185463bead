package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := New(t.TempDir())
	require.NoError(t, err)
	return ws
}

func TestWriteFileCreatesParents(t *testing.T) {
	ws := newTestWorkspace(t)

	require.NoError(t, ws.WriteFile("src/pkg/main.py", "print('hi')\n"))

	data, err := os.ReadFile(filepath.Join(ws.Root(), "src", "pkg", "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))
}

func TestWriteFileReplacesContent(t *testing.T) {
	ws := newTestWorkspace(t)

	require.NoError(t, ws.WriteFile("a.txt", "first version\n"))
	require.NoError(t, ws.WriteFile("a.txt", "second\n"))

	content, err := ws.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "second\n", content)

	entries, err := os.ReadDir(ws.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may remain")
}

func TestWriteFileKeepsMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	ws := newTestWorkspace(t)
	path := filepath.Join(ws.Root(), "run.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))

	require.NoError(t, ws.WriteFile("run.sh", "#!/bin/sh\necho ok\n"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestPathEscapeCreatesNothing(t *testing.T) {
	parent := t.TempDir()
	ws, err := New(filepath.Join(parent, "project"))
	require.NoError(t, err)

	escapes := []string{
		"../outside.txt",
		"../../etc/evil",
		"a/../../outside.txt",
		"/tmp/absolute.txt",
	}
	for _, p := range escapes {
		t.Run(p, func(t *testing.T) {
			err := ws.WriteFile(p, "x")
			assert.ErrorIs(t, err, ErrPathEscape)
			err = ws.CreatePath(p)
			assert.ErrorIs(t, err, ErrPathEscape)
			err = ws.AppendFile(p, "x")
			assert.ErrorIs(t, err, ErrPathEscape)
		})
	}

	_, err = os.Stat(filepath.Join(parent, "outside.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	entries, err := os.ReadDir(ws.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPathEscapeThroughSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	outside := t.TempDir()
	ws := newTestWorkspace(t)
	require.NoError(t, os.Symlink(outside, filepath.Join(ws.Root(), "link")))

	err := ws.WriteFile("link/pwned.txt", "x")
	assert.ErrorIs(t, err, ErrPathEscape)

	_, err = ws.ReadFile("link/anything")
	assert.ErrorIs(t, err, ErrPathEscape)

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDotDotInsideRootIsAllowed(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.WriteFile("src/../README.md", "# hi\n"))

	ok, err := ws.Exists("README.md")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExistsConsultsIndexThenDisk(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.WriteFile("pkg/mod.py", "x = 1\n"))
	_, err := ws.State()
	require.NoError(t, err)

	for rel, want := range map[string]bool{"pkg/mod.py": true, "pkg": true, "pkg/other.py": false} {
		ok, err := ws.Exists(rel)
		require.NoError(t, err)
		assert.Equal(t, want, ok, rel)
	}

	require.NoError(t, ws.DeleteFile("pkg/mod.py"))
	ok, err := ws.Exists("pkg/mod.py")
	require.NoError(t, err)
	assert.False(t, ok, "delete drops the index entry")

	// A command removed a file behind the workspace's back.
	require.NoError(t, ws.WriteFile("gen.py", "y = 2\n"))
	require.NoError(t, os.Remove(filepath.Join(ws.Root(), "gen.py")))
	ws.Invalidate()
	ok, err = ws.Exists("gen.py")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReservedDirRejected(t *testing.T) {
	ws := newTestWorkspace(t)
	err := ws.WriteFile(".devstudio/devstudio.db", "junk")
	assert.ErrorIs(t, err, ErrReservedPath)
	assert.NotErrorIs(t, err, ErrPathEscape)
}

func TestEmptyPathInvalid(t *testing.T) {
	ws := newTestWorkspace(t)
	assert.ErrorIs(t, ws.WriteFile("", "x"), ErrInvalidPath)
	assert.ErrorIs(t, ws.WriteFile(".", "x"), ErrInvalidPath)
}

func TestReadFileLimits(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.WithMaxReadBytes(4)
	require.NoError(t, ws.WriteFile("big.txt", "0123456789"))

	_, err := ws.ReadFile("big.txt")
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = ws.ReadFile("missing.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAppendFile(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.AppendFile("log.txt", "a\n"))
	require.NoError(t, ws.AppendFile("log.txt", "b\n"))

	content, err := ws.ReadFile("log.txt")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", content)
}

func TestDeleteFileAndDirectory(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.WriteFile("keep.py", "x = 1\n"))
	require.NoError(t, ws.WriteFile("pkg/a.py", "a = 1\n"))
	require.NoError(t, ws.WriteFile("pkg/b.py", "b = 1\n"))

	require.NoError(t, ws.DeleteFile("pkg"))
	files, err := ws.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.py"}, files)

	require.NoError(t, ws.DeleteFile("keep.py"))
	assert.ErrorIs(t, ws.DeleteFile("keep.py"), os.ErrNotExist)
}

func TestCountLinesMatchesFiles(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.WriteFile("a.py", "one\ntwo\nthree\n"))
	require.NoError(t, ws.WriteFile("b/c.py", "no trailing newline"))
	require.NoError(t, ws.WriteFile("empty.py", ""))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "blob.bin"), []byte{0x7f, 'E', 'L', 'F', 0, 0, '\n'}, 0644))

	loc, err := ws.CountLines()
	require.NoError(t, err)
	assert.Equal(t, 4, loc)

	require.NoError(t, ws.WriteFile("a.py", "one\n"))
	loc, err = ws.CountLines()
	require.NoError(t, err)
	assert.Equal(t, 2, loc)
}

func TestCountLinesSkipsMetadataAndBuildTrees(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.WriteFile("main.cpp", "int main() {}\n"))
	require.NoError(t, os.MkdirAll(filepath.Join(ws.MetaDir()), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.MetaDir(), "notes.txt"), []byte("a\nb\n"), 0644))
	require.NoError(t, ws.WriteFile("build/gen.cpp", "a\nb\nc\n"))

	loc, err := ws.CountLines()
	require.NoError(t, err)
	assert.Equal(t, 1, loc)
}

func TestCountLinesExtensionFilter(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.WithCountExtensions([]string{"py"})
	require.NoError(t, ws.WriteFile("main.py", "a\nb\n"))
	require.NoError(t, ws.WriteFile("README.md", "x\ny\nz\n"))

	loc, err := ws.CountLines()
	require.NoError(t, err)
	assert.Equal(t, 2, loc)
}

func TestStateListsFilesSorted(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.WriteFile("z.py", "z\n"))
	require.NoError(t, ws.WriteFile("a/b.py", "b\n"))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "made_by_command.txt"), []byte("c\n"), 0644))

	state, err := ws.State()
	require.NoError(t, err)
	assert.Equal(t, ws.Root(), state.Root)
	assert.Equal(t, 3, state.LOC)
	assert.Equal(t, []string{"a/b.py", "made_by_command.txt", "z.py"}, state.Files)
}

func TestLooksBinary(t *testing.T) {
	assert.True(t, looksBinary([]byte("abc\x00def"), true))
	assert.True(t, looksBinary([]byte{0xff, 0xfe, 'a'}, true))
	assert.False(t, looksBinary([]byte("plain text"), true))
	// "é" cut after its first byte at the sniff boundary.
	assert.False(t, looksBinary([]byte{'a', 0xc3}, false))
}

func TestAcquireIsExclusive(t *testing.T) {
	ws := newTestWorkspace(t)

	lock, err := ws.Acquire()
	require.NoError(t, err)

	_, err = ws.Acquire()
	assert.ErrorIs(t, err, ErrWorkspaceBusy)

	other, err := New(ws.Root())
	require.NoError(t, err)
	_, err = other.Acquire()
	assert.ErrorIs(t, err, ErrWorkspaceBusy)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())

	lock, err = other.Acquire()
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquireConcurrent(t *testing.T) {
	ws := newTestWorkspace(t)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ws.Acquire()
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrWorkspaceBusy)
	}
	assert.Equal(t, 1, wins)
}

func TestForceUnlockStaleLock(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(ws.MetaDir(), lockDirName), 0755))

	_, err := ws.Acquire()
	require.ErrorIs(t, err, ErrWorkspaceBusy)

	removed, err := ws.ForceUnlock()
	require.NoError(t, err)
	assert.True(t, removed)

	lock, err := ws.Acquire()
	require.NoError(t, err)
	_, err = ws.ForceUnlock()
	assert.ErrorIs(t, err, ErrWorkspaceBusy)
	require.NoError(t, lock.Release())
}
