package installer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

// listDir returns the names in dir.
func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names
}

// TestTargetManager_StageAndPublish stages next to the final path, publishes and leaves nothing behind.
func TestTargetManager_StageAndPublish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "bin")
	target := NewTarget(dir, "cruma")
	manager := NewTargetManager()

	staging, err := manager.Stage(ctx, target, []byte("new agent"))
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(staging))
	require.Equal(t, staging, target.StagingPath)
	require.True(t, strings.HasPrefix(filepath.Base(staging), ".cruma.staging-"))

	info, err := os.Stat(staging)
	require.NoError(t, err)
	require.Equal(t, ExecutableMode, info.Mode().Perm())

	require.NoError(t, manager.Publish(ctx, staging, target.FinalPath))

	contents, err := os.ReadFile(target.FinalPath)
	require.NoError(t, err)
	require.Equal(t, "new agent", string(contents))
	require.Equal(t, []string{"cruma"}, listDir(t, dir))
}

// TestTargetManager_PublishReplacesExisting overwrites an older install.
func TestTargetManager_PublishReplacesExisting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	target := NewTarget(t.TempDir(), "cruma")
	require.NoError(t, os.WriteFile(target.FinalPath, []byte("old"), ExecutableMode))

	manager := NewTargetManager()
	staging, err := manager.Stage(ctx, target, []byte("new"))
	require.NoError(t, err)
	require.NoError(t, manager.Publish(ctx, staging, target.FinalPath))

	contents, err := os.ReadFile(target.FinalPath)
	require.NoError(t, err)
	require.Equal(t, "new", string(contents))
}

// TestTargetManager_PublishFailureKeepsOldFile simulates a cross-device rename.
func TestTargetManager_PublishFailureKeepsOldFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	target := NewTarget(t.TempDir(), "cruma")
	require.NoError(t, os.WriteFile(target.FinalPath, []byte("old"), ExecutableMode))

	manager := NewTargetManager()
	manager.rename = func(oldPath, newPath string) error {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: syscall.EXDEV}
	}

	staging, err := manager.Stage(ctx, target, []byte("new"))
	require.NoError(t, err)

	err = manager.Publish(ctx, staging, target.FinalPath)
	require.ErrorIs(t, err, ErrRenameFailed)

	_, err = os.Stat(staging)
	require.ErrorIs(t, err, os.ErrNotExist)

	contents, err := os.ReadFile(target.FinalPath)
	require.NoError(t, err)
	require.Equal(t, "old", string(contents))
	require.Equal(t, []string{"cruma"}, listDir(t, target.Directory))
}

// TestTargetManager_PublishOntoDirectory fails without touching the directory.
func TestTargetManager_PublishOntoDirectory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	target := NewTarget(t.TempDir(), "cruma")
	require.NoError(t, os.MkdirAll(filepath.Join(target.FinalPath, "keep"), DirectoryMode))

	manager := NewTargetManager()
	staging, err := manager.Stage(ctx, target, []byte("new"))
	require.NoError(t, err)

	require.ErrorIs(t, manager.Publish(ctx, staging, target.FinalPath), ErrRenameFailed)
	require.DirExists(t, filepath.Join(target.FinalPath, "keep"))
	require.NoFileExists(t, staging)
}

// TestTargetManager_StagePermissionDenied expects a classified error and no leftovers.
func TestTargetManager_StagePermissionDenied(t *testing.T) {
	t.Parallel()

	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() {
		_ = os.Chmod(dir, 0o700)
	})

	_, err := NewTargetManager().Stage(context.Background(), NewTarget(dir, "cruma"), []byte("x"))
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Empty(t, listDir(t, dir))
}

// TestTargetManager_PreflightPermissionDenied rejects a read-only directory without side effects.
func TestTargetManager_PreflightPermissionDenied(t *testing.T) {
	t.Parallel()

	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() {
		_ = os.Chmod(dir, 0o700)
	})

	manager := NewTargetManager()

	err := manager.Preflight(context.Background(), NewTarget(dir, "cruma"))
	require.ErrorIs(t, err, ErrPermissionDenied)

	// A missing subdirectory is checked against its read-only parent.
	err = manager.Preflight(context.Background(), NewTarget(filepath.Join(dir, "nested", "bin"), "cruma"))
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Empty(t, listDir(t, dir))
}

// TestTargetManager_PreflightMissingDirectory accepts a directory Stage will create and creates nothing.
func TestTargetManager_PreflightMissingDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	target := NewTarget(filepath.Join(root, "nested", "bin"), "cruma")

	require.NoError(t, NewTargetManager().Preflight(context.Background(), target))
	require.Empty(t, listDir(t, root))

	// A file where the directory should be is rejected.
	blocker := filepath.Join(root, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	require.Error(t, NewTargetManager().Preflight(context.Background(), NewTarget(blocker, "cruma")))
}

// TestNewTarget_RelativeDirectory resolves against the working directory.
func TestNewTarget_RelativeDirectory(t *testing.T) {
	t.Parallel()

	target := NewTarget(".", "cruma")
	require.True(t, filepath.IsAbs(target.FinalPath), target.FinalPath)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(wd, "cruma"), target.FinalPath)
}

// TestTargetManager_ConcurrentReadersSeeWholeFiles polls the final path while
// several installers publish different payloads; every read is one complete payload.
func TestTargetManager_ConcurrentReadersSeeWholeFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	manager := NewTargetManager()

	payloads := make([][]byte, 4)
	for i := range payloads {
		payloads[i] = bytes.Repeat([]byte{byte('a' + i)}, 256<<10)
	}

	initial := NewTarget(dir, "cruma")
	require.NoError(t, os.WriteFile(initial.FinalPath, payloads[0], ExecutableMode))

	var (
		done      atomic.Bool
		readers   sync.WaitGroup
		writers   sync.WaitGroup
		badReads  atomic.Int32
		goodReads atomic.Int32
	)

	for range 4 {
		readers.Go(func() {
			for !done.Load() {
				contents, err := os.ReadFile(initial.FinalPath)
				if err != nil {
					badReads.Add(1)
					continue
				}

				if !isOneOf(contents, payloads) {
					badReads.Add(1)
					continue
				}

				goodReads.Add(1)
			}
		})
	}

	for range 20 {
		for _, payload := range payloads {
			writers.Go(func() {
				target := NewTarget(dir, "cruma")

				staging, err := manager.Stage(ctx, target, payload)
				if err != nil {
					badReads.Add(1)
					return
				}

				if err = manager.Publish(ctx, staging, target.FinalPath); err != nil {
					badReads.Add(1)
				}
			})
		}
	}

	writers.Wait()
	done.Store(true)
	readers.Wait()

	require.Zero(t, badReads.Load())
	require.Positive(t, goodReads.Load())
	require.Equal(t, []string{"cruma"}, listDir(t, dir))
}

func isOneOf(contents []byte, payloads [][]byte) bool {
	for _, payload := range payloads {
		if bytes.Equal(contents, payload) {
			return true
		}
	}

	return false
}

// TestTargetManager_RemoveReplaced deletes stale names but never the current binary.
func TestTargetManager_RemoveReplaced(t *testing.T) {
	t.Parallel()

	target := NewTarget(t.TempDir(), "cruma")
	for _, name := range []string{"cruma", "cruma-tunnel"} {
		require.NoError(t, os.WriteFile(filepath.Join(target.Directory, name), []byte(name), ExecutableMode))
	}

	removed := NewTargetManager().RemoveReplaced(context.Background(), target,
		[]string{"cruma-tunnel", "cruma", "../escape", "missing"})

	require.Equal(t, []string{filepath.Join(target.Directory, "cruma-tunnel")}, removed)
	require.Equal(t, []string{"cruma"}, listDir(t, target.Directory))
}
