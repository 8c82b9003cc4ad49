package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/cruma-installer/internal/logger"
)

const (
	// ExecutableMode is rwxr-xr-x.
	ExecutableMode os.FileMode = 0o755

	// DirectoryMode is used when the install directory has to be created.
	DirectoryMode os.FileMode = 0o755

	stagingSuffix = ".staging-*"
)

// InstallTarget names the paths of one install attempt.
type InstallTarget struct {
	// Directory is the install directory.
	Directory string
	// FinalPath is Directory/BinaryName.
	FinalPath string
	// StagingPath is set by Stage; it lives next to FinalPath.
	StagingPath string
}

// NewTarget builds the target for binaryName inside directory. The directory
// is made absolute so that FinalPath never resolves through $PATH when executed.
func NewTarget(directory, binaryName string) *InstallTarget {
	directory = absPath(directory)

	return &InstallTarget{
		Directory: directory,
		FinalPath: filepath.Join(directory, binaryName),
	}
}

// TargetManager stages artifacts next to their final path and publishes them by rename.
type TargetManager struct {
	rename func(oldPath, newPath string) error
}

// NewTargetManager creates a manager using os.Rename.
func NewTargetManager() *TargetManager {
	return &TargetManager{rename: os.Rename}
}

// Stage writes data into a uniquely named file in the target directory and
// marks it executable. The staging file is removed on every failure path.
func (m *TargetManager) Stage(ctx context.Context, target *InstallTarget, data []byte) (string, error) {
	if err := os.MkdirAll(target.Directory, DirectoryMode); err != nil {
		return "", newInstallError("create directory", target.Directory, err)
	}

	file, err := os.CreateTemp(target.Directory, "."+filepath.Base(target.FinalPath)+stagingSuffix)
	if err != nil {
		return "", newInstallError("create staging file", target.Directory, err)
	}

	stagingPath := file.Name()
	staged := false

	defer func() {
		if staged {
			return
		}

		_ = file.Close()
		m.Discard(ctx, stagingPath)
	}()

	if _, err = file.Write(data); err != nil {
		return "", newInstallError("write staging file", stagingPath, err)
	}

	if err = file.Sync(); err != nil {
		return "", newInstallError("sync staging file", stagingPath, err)
	}

	if err = file.Close(); err != nil {
		return "", newInstallError("close staging file", stagingPath, err)
	}

	if err = os.Chmod(stagingPath, ExecutableMode); err != nil {
		return "", newInstallError("chmod staging file", stagingPath, err)
	}

	staged = true
	target.StagingPath = stagingPath

	logger.DebugKV(ctx, "Staged artifact", "path", stagingPath, "bytes", len(data))

	return stagingPath, nil
}

// Preflight checks, before anything is downloaded or created, that the
// install directory can be written. When the directory does not exist yet,
// its nearest existing ancestor must accept the directories Stage will create.
func (m *TargetManager) Preflight(ctx context.Context, target *InstallTarget) error {
	probe := target.FinalPath

	for dir := target.Directory; ; {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return newInstallError("check permissions", dir, syscall.ENOTDIR)
			}

			break
		}

		if !errors.Is(err, fs.ErrNotExist) {
			return newInstallError("check permissions", dir, err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return newInstallError("check permissions", dir, err)
		}

		probe, dir = dir, parent
	}

	// go-update probes writability with a throwaway file next to probe.
	options := goupdate.Options{TargetPath: probe, TargetMode: ExecutableMode}
	if err := options.CheckPermissions(); err != nil {
		return newInstallError("check permissions", filepath.Dir(probe), err)
	}

	logger.DebugKV(ctx, "Install directory is writable", "path", filepath.Dir(probe))

	return nil
}

// Publish renames the staging file over finalPath in one step. A pre-existing
// file is replaced atomically; on failure the staging file is removed and
// finalPath is left as it was. There is no copy fallback.
func (m *TargetManager) Publish(ctx context.Context, stagingPath, finalPath string) error {
	if err := m.rename(stagingPath, finalPath); err != nil {
		m.Discard(ctx, stagingPath)

		installErr := newInstallError("publish", finalPath, err)
		if installErr.Kind != InstallPermissionDenied && installErr.Kind != InstallDiskFull {
			installErr.Kind = InstallRenameFailed
		}

		return installErr
	}

	logger.DebugKV(ctx, "Published artifact", "path", finalPath)

	return nil
}

// Discard removes a staging file. Missing files are ignored.
func (m *TargetManager) Discard(ctx context.Context, stagingPath string) {
	if stagingPath == "" {
		return
	}

	if err := os.Remove(stagingPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove staging file", "path", stagingPath, "error", err)
	}
}

// RemoveReplaced deletes files earlier releases installed under other names.
// The current binary is never removed. Failures are logged and skipped.
func (m *TargetManager) RemoveReplaced(ctx context.Context, target *InstallTarget, names []string) []string {
	current := filepath.Base(target.FinalPath)
	removed := make([]string, 0, len(names))

	for _, name := range names {
		if name == current || filepath.Base(name) != name {
			continue
		}

		path := filepath.Join(target.Directory, name)

		info, err := os.Lstat(path)
		if err != nil || info.IsDir() {
			continue
		}

		if err = os.Remove(path); err != nil {
			logger.WarnKV(ctx, "Unable to remove replaced binary", "path", path, "error", err)
			continue
		}

		logger.InfoKV(ctx, "Removed replaced binary", "path", path)

		removed = append(removed, path)
	}

	return removed
}

// newInstallError classifies a filesystem error.
func newInstallError(op, path string, err error) *InstallError {
	kind := InstallOther

	switch {
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		kind = InstallPermissionDenied
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		kind = InstallDiskFull
	case errors.Is(err, syscall.EXDEV):
		kind = InstallRenameFailed
	}

	return &InstallError{Kind: kind, Op: op, Path: path, Err: err}
}

// String describes the target for logs.
func (t *InstallTarget) String() string {
	return fmt.Sprintf("%s (staging %q)", t.FinalPath, t.StagingPath)
}

// absPath cleans path and makes it absolute. The cleaned relative path is
// kept only when the working directory is unknown.
func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}

	return abs
}
