package installer

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/oshokin/cruma-installer/internal/logger"
)

const (
	// VersionFlag is passed to the installed binary by the smoke test.
	VersionFlag = "--version"

	// DefaultSmokeTimeout bounds the version command.
	DefaultSmokeTimeout = 10 * time.Second
)

// SmokeTester runs the installed binary with --version and looks for a token.
type SmokeTester struct {
	timeout time.Duration
}

// NewSmokeTester creates a tester with the given timeout.
func NewSmokeTester(timeout time.Duration) *SmokeTester {
	if timeout <= 0 {
		timeout = DefaultSmokeTimeout
	}

	return &SmokeTester{timeout: timeout}
}

// Test runs `finalPath --version` and returns its combined output. The exit
// code is advisory: output containing expectedToken passes even with a
// non-zero status, and output without it fails even with status zero.
func (s *SmokeTester) Test(ctx context.Context, finalPath, expectedToken string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	//nolint:gosec // Running the binary that was just installed is the point.
	cmd := exec.CommandContext(cmdCtx, finalPath, VersionFlag)
	cmd.WaitDelay = time.Second

	outputBytes, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(outputBytes))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, &TestError{Kind: TestExecutionFailed, Token: expectedToken, Output: output, Err: ctxErr}
	}

	if cmdCtx.Err() != nil {
		return output, &TestError{Kind: TestTimeout, Token: expectedToken, Output: output, Err: cmdCtx.Err()}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Never started: missing file, no exec bit or rejected by the OS.
			return output, &TestError{Kind: TestExecutionFailed, Token: expectedToken, Output: output, Err: err}
		}

		logger.DebugKV(ctx, "Version command exited with non-zero status", "status", exitErr.ExitCode())
	}

	if !strings.Contains(output, expectedToken) {
		return output, &TestError{Kind: TestUnexpectedOutput, Token: expectedToken, Output: output}
	}

	return output, nil
}
