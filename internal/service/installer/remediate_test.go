package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeRunner records tool invocations and emulates xattr and codesign state.
type fakeRunner struct {
	mu          sync.Mutex
	calls       []string
	missing     map[string]bool
	fail        map[string]error
	quarantined bool
	signed      bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		missing:     make(map[string]bool),
		fail:        make(map[string]error),
		quarantined: true,
	}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, filepath.Base(name)+" "+strings.Join(args, " "))

	if err := f.fail[name]; err != nil {
		return []byte("tool exploded"), err
	}

	switch name {
	case xattrTool:
		if !f.quarantined {
			return []byte("xattr: " + args[len(args)-1] + ": No such xattr: com.apple.quarantine"),
				errors.New("exit status 1")
		}

		f.quarantined = false
	case codesignTool:
		if f.quarantined {
			return []byte("signed while quarantined"), errors.New("exit status 1")
		}

		f.signed = true
	}

	return nil, nil
}

func (f *fakeRunner) LookPath(file string) (string, error) {
	if f.missing[file] {
		return "", errors.New("not found")
	}

	return file, nil
}

func (f *fakeRunner) tools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	tools := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		tool, _, _ := strings.Cut(call, " ")
		tools = append(tools, tool)
	}

	return tools
}

func writeBinary(t *testing.T, mode os.FileMode) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cruma")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), mode))
	require.NoError(t, os.Chmod(path, mode))

	return path
}

// TestRemediator_DarwinOrder runs chmod, then xattr, then codesign.
func TestRemediator_DarwinOrder(t *testing.T) {
	t.Parallel()

	path := writeBinary(t, 0o600)
	runner := newFakeRunner()
	remediator := NewRemediator(runner, 0)

	require.Equal(t,
		[]StepName{StepSetExecutable, StepClearQuarantine, StepAdHocSign},
		remediator.Steps(PlatformDarwin))

	require.NoError(t, remediator.Remediate(context.Background(), path, PlatformDarwin))
	require.Equal(t, []string{"xattr", "codesign"}, runner.tools())
	require.Equal(t,
		"xattr -drs com.apple.quarantine "+path,
		runner.calls[0])
	require.Equal(t,
		"codesign --force --deep -s - "+path,
		runner.calls[1])
	require.True(t, runner.signed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, ExecutableMode, info.Mode().Perm())
}

// TestRemediator_Idempotent applies the plan twice with the same final state.
func TestRemediator_Idempotent(t *testing.T) {
	t.Parallel()

	for _, platform := range []Platform{PlatformDarwin, PlatformLinux} {
		path := writeBinary(t, 0o644)
		runner := newFakeRunner()
		remediator := NewRemediator(runner, 0)

		require.NoError(t, remediator.Remediate(context.Background(), path, platform))

		first, err := os.Stat(path)
		require.NoError(t, err)

		require.NoError(t, remediator.Remediate(context.Background(), path, platform))

		second, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, first.Mode(), second.Mode())
		require.Equal(t, first.ModTime(), second.ModTime())
		require.Equal(t, first.Size(), second.Size())
	}
}

// TestRemediator_LinuxSkipsMacSteps never calls the macOS tools.
func TestRemediator_LinuxSkipsMacSteps(t *testing.T) {
	t.Parallel()

	path := writeBinary(t, 0o600)
	runner := newFakeRunner()
	remediator := NewRemediator(runner, 0)

	require.Equal(t, []StepName{StepSetExecutable}, remediator.Steps(PlatformLinux))
	require.NoError(t, remediator.Remediate(context.Background(), path, PlatformLinux))
	require.Empty(t, runner.tools())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, ExecutableMode, info.Mode().Perm())
}

// TestRemediator_MissingToolIsSkipped treats an absent xattr as unsupported.
func TestRemediator_MissingToolIsSkipped(t *testing.T) {
	t.Parallel()

	path := writeBinary(t, 0o755)
	runner := newFakeRunner()
	runner.missing[xattrTool] = true
	runner.quarantined = false

	require.NoError(t, NewRemediator(runner, 0).Remediate(context.Background(), path, PlatformDarwin))
	require.Equal(t, []string{"codesign"}, runner.tools())
}

// TestRemediator_StepFailureNamesStep reports the failed step and keeps the file.
func TestRemediator_StepFailureNamesStep(t *testing.T) {
	t.Parallel()

	path := writeBinary(t, 0o755)
	runner := newFakeRunner()
	runner.fail[codesignTool] = errors.New("exit status 1")

	err := NewRemediator(runner, 0).Remediate(context.Background(), path, PlatformDarwin)
	require.ErrorIs(t, err, ErrStepFailed)

	var remediationErr *RemediationError
	require.True(t, errors.As(err, &remediationErr))
	require.Equal(t, StepAdHocSign, remediationErr.Step)
	require.Contains(t, err.Error(), "tool exploded")
	require.FileExists(t, path)
}

// TestRemediator_MissingBinary fails the permission step.
func TestRemediator_MissingBinary(t *testing.T) {
	t.Parallel()

	err := NewRemediator(newFakeRunner(), 0).
		Remediate(context.Background(), filepath.Join(t.TempDir(), "absent"), PlatformLinux)

	var remediationErr *RemediationError
	require.True(t, errors.As(err, &remediationErr))
	require.Equal(t, StepSetExecutable, remediationErr.Step)
}
