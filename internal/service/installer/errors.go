package installer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an artifact the host does not have. Never retried.
	ErrNotFound = errors.New("artifact not found")
	// ErrTransport marks network-level or server-side failures. Retried.
	ErrTransport = errors.New("transport failure")
	// ErrTruncated marks a body whose length differs from the declared one.
	ErrTruncated = errors.New("artifact truncated")
	// ErrTimeout marks a fetch attempt or command that ran out of time.
	ErrTimeout = errors.New("timed out")

	// ErrDigestMismatch marks an artifact whose digest differs from the expected one.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrPermissionDenied marks a target directory the installer may not write.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDiskFull marks a target filesystem without free space.
	ErrDiskFull = errors.New("disk full")
	// ErrRenameFailed marks a publish rename that did not happen atomically.
	ErrRenameFailed = errors.New("rename failed")

	// ErrStepFailed marks a remediation step that did not complete.
	ErrStepFailed = errors.New("remediation step failed")

	// ErrExecutionFailed marks an installed binary that could not be started.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrUnexpectedOutput marks version output without the expected token.
	ErrUnexpectedOutput = errors.New("unexpected version output")
)

// FetchErrorKind classifies fetch failures.
type FetchErrorKind int

const (
	// FetchNotFound is a 404 or 410 from the host.
	FetchNotFound FetchErrorKind = iota + 1
	// FetchTransport is a network failure or a non-success status.
	FetchTransport
	// FetchTruncated is a body length mismatch.
	FetchTruncated
	// FetchTimeout is an attempt that exceeded its deadline.
	FetchTimeout
)

// String returns a short name of the kind.
func (k FetchErrorKind) String() string {
	switch k {
	case FetchNotFound:
		return "not found"
	case FetchTransport:
		return "transport"
	case FetchTruncated:
		return "truncated"
	case FetchTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// FetchError reports a failed download.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error

	// final marks failures another attempt cannot fix even though the kind is retryable.
	final bool
}

// Error implements error.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind.
func (e *FetchError) Is(target error) bool {
	switch e.Kind {
	case FetchNotFound:
		return target == ErrNotFound
	case FetchTransport:
		return target == ErrTransport
	case FetchTruncated:
		return target == ErrTruncated
	case FetchTimeout:
		return target == ErrTimeout
	default:
		return false
	}
}

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool {
	return !e.final && (e.Kind == FetchTransport || e.Kind == FetchTimeout)
}

// IntegrityError carries both digests of a failed verification.
type IntegrityError struct {
	Algorithm string
	Expected  string
	Actual    string
}

// Error implements error.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s mismatch: expected %s, actual %s", e.Algorithm, e.Expected, e.Actual)
}

// Is matches ErrDigestMismatch.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrDigestMismatch
}

// InstallErrorKind classifies filesystem failures of staging and publishing.
type InstallErrorKind int

const (
	// InstallOther is any filesystem failure without a dedicated kind.
	InstallOther InstallErrorKind = iota
	// InstallPermissionDenied is EACCES, EPERM or a read-only filesystem.
	InstallPermissionDenied
	// InstallDiskFull is ENOSPC or an exhausted quota.
	InstallDiskFull
	// InstallRenameFailed is a rename that could not be done atomically.
	InstallRenameFailed
)

// String returns a short name of the kind.
func (k InstallErrorKind) String() string {
	switch k {
	case InstallPermissionDenied:
		return "permission denied"
	case InstallDiskFull:
		return "disk full"
	case InstallRenameFailed:
		return "rename failed"
	default:
		return "filesystem error"
	}
}

// InstallError reports a failed stage or publish.
type InstallError struct {
	Kind InstallErrorKind
	Op   string
	Path string
	Err  error
}

// Error implements error.
func (e *InstallError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *InstallError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind.
func (e *InstallError) Is(target error) bool {
	switch e.Kind {
	case InstallPermissionDenied:
		return target == ErrPermissionDenied
	case InstallDiskFull:
		return target == ErrDiskFull
	case InstallRenameFailed:
		return target == ErrRenameFailed
	default:
		return false
	}
}

// RemediationError names the step that failed.
type RemediationError struct {
	Step StepName
	Err  error
}

// Error implements error.
func (e *RemediationError) Error() string {
	return fmt.Sprintf("remediation step %s: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *RemediationError) Unwrap() error {
	return e.Err
}

// Is matches ErrStepFailed.
func (e *RemediationError) Is(target error) bool {
	return target == ErrStepFailed
}

// TestErrorKind classifies smoke test failures.
type TestErrorKind int

const (
	// TestExecutionFailed means the process could not be started.
	TestExecutionFailed TestErrorKind = iota + 1
	// TestUnexpectedOutput means the process ran but printed no token.
	TestUnexpectedOutput
	// TestTimeout means the process did not finish in time.
	TestTimeout
)

// TestError reports a failed smoke test.
type TestError struct {
	Kind   TestErrorKind
	Token  string
	Output string
	Err    error
}

// Error implements error.
func (e *TestError) Error() string {
	switch e.Kind {
	case TestUnexpectedOutput:
		return fmt.Sprintf("version output does not contain %q: %q", e.Token, e.Output)
	case TestTimeout:
		return fmt.Sprintf("version command timed out: %v", e.Err)
	default:
		return fmt.Sprintf("version command failed to run: %v", e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *TestError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind.
func (e *TestError) Is(target error) bool {
	switch e.Kind {
	case TestExecutionFailed:
		return target == ErrExecutionFailed
	case TestUnexpectedOutput:
		return target == ErrUnexpectedOutput
	case TestTimeout:
		return target == ErrTimeout || target == ErrExecutionFailed
	default:
		return false
	}
}
