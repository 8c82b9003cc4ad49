package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/oshokin/cruma-installer/internal/logger"
)

// StepName identifies a remediation step.
type StepName string

const (
	// StepSetExecutable enforces rwxr-xr-x on the installed binary.
	StepSetExecutable StepName = "set-executable-bit"
	// StepClearQuarantine removes the download quarantine attribute (macOS).
	StepClearQuarantine StepName = "clear-quarantine-attribute"
	// StepAdHocSign re-signs the binary with an ad hoc identity (macOS).
	StepAdHocSign StepName = "ad-hoc-sign"

	// DefaultStepTimeout bounds one external remediation tool.
	DefaultStepTimeout = 30 * time.Second

	quarantineAttribute = "com.apple.quarantine"
	xattrTool           = "/usr/bin/xattr"
	codesignTool        = "/usr/bin/codesign"
)

// errStepUnsupported makes a step skip itself when the host lacks its tool.
var errStepUnsupported = errors.New("step is not supported on this host")

// Platform is a GOOS value.
type Platform string

const (
	// PlatformDarwin is macOS.
	PlatformDarwin Platform = "darwin"
	// PlatformLinux is Linux.
	PlatformLinux Platform = "linux"
	// PlatformWindows is Windows.
	PlatformWindows Platform = "windows"
)

// CurrentPlatform returns the platform the installer runs on.
func CurrentPlatform() Platform {
	return Platform(runtime.GOOS)
}

// CommandRunner runs external tools. It exists so tests can fake xattr and codesign.
type CommandRunner interface {
	// Run executes name with args and returns combined stdout and stderr.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// LookPath reports whether the tool exists.
	LookPath(file string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	//nolint:gosec // Tools are fixed paths; the only variable argument is the installed binary path.
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s: %w", name, err)
	}

	return output, nil
}

// LookPath implements CommandRunner.
func (ExecRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// RemediationStep is one idempotent post-install fixup.
type RemediationStep interface {
	Name() StepName
	// Applies reports whether the step makes sense on platform.
	Applies(platform Platform) bool
	// Apply performs the step. Applying it to an already remediated file changes nothing.
	Apply(ctx context.Context, path string) error
}

// RemediationPlan is the ordered list of steps.
type RemediationPlan []RemediationStep

// DefaultPlan returns: permissions, then quarantine removal, then signing.
// Signing comes last because stripping attributes after signing can invalidate the signature.
func DefaultPlan(runner CommandRunner) RemediationPlan {
	return RemediationPlan{
		executableStep{},
		quarantineStep{runner: runner},
		adHocSignStep{runner: runner},
	}
}

// Remediator applies a plan to an installed binary.
type Remediator struct {
	plan        RemediationPlan
	stepTimeout time.Duration
}

// NewRemediator creates a remediator running the default plan through runner.
func NewRemediator(runner CommandRunner, stepTimeout time.Duration) *Remediator {
	if runner == nil {
		runner = ExecRunner{}
	}

	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}

	return &Remediator{
		plan:        DefaultPlan(runner),
		stepTimeout: stepTimeout,
	}
}

// Steps returns the names of the steps that apply to platform, in order.
func (r *Remediator) Steps(platform Platform) []StepName {
	names := make([]StepName, 0, len(r.plan))

	for _, step := range r.plan {
		if step.Applies(platform) {
			names = append(names, step.Name())
		}
	}

	return names
}

// Remediate runs every applicable step in order and stops at the first failure.
// The binary stays in place whatever happens.
func (r *Remediator) Remediate(ctx context.Context, finalPath string, platform Platform) error {
	for _, step := range r.plan {
		if !step.Applies(platform) {
			logger.DebugKV(ctx, "Skipping remediation step", "step", step.Name(), "platform", platform)
			continue
		}

		if err := ctx.Err(); err != nil {
			return &RemediationError{Step: step.Name(), Err: err}
		}

		stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
		err := step.Apply(stepCtx, finalPath)

		cancel()

		switch {
		case errors.Is(err, errStepUnsupported):
			logger.DebugKV(ctx, "Remediation step unsupported on this host", "step", step.Name())
		case err != nil:
			return &RemediationError{Step: step.Name(), Err: err}
		default:
			logger.DebugKV(ctx, "Remediation step applied", "step", step.Name())
		}
	}

	return nil
}

// executableStep enforces ExecutableMode in-process.
type executableStep struct{}

func (executableStep) Name() StepName { return StepSetExecutable }

func (executableStep) Applies(platform Platform) bool {
	return platform != PlatformWindows
}

func (executableStep) Apply(_ context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if info.Mode().Perm() == ExecutableMode {
		return nil
	}

	return os.Chmod(path, ExecutableMode)
}

// quarantineStep deletes com.apple.quarantine. A missing attribute counts as success.
type quarantineStep struct {
	runner CommandRunner
}

func (quarantineStep) Name() StepName { return StepClearQuarantine }

func (quarantineStep) Applies(platform Platform) bool {
	return platform == PlatformDarwin
}

func (s quarantineStep) Apply(ctx context.Context, path string) error {
	if _, err := s.runner.LookPath(xattrTool); err != nil {
		return errStepUnsupported
	}

	output, err := s.runner.Run(ctx, xattrTool, "-drs", quarantineAttribute, path)
	if err == nil || bytes.Contains(output, []byte("No such xattr")) {
		return nil
	}

	return toolError(err, output)
}

// adHocSignStep signs with the "-" identity. --force makes repeated runs produce the same result.
type adHocSignStep struct {
	runner CommandRunner
}

func (adHocSignStep) Name() StepName { return StepAdHocSign }

func (adHocSignStep) Applies(platform Platform) bool {
	return platform == PlatformDarwin
}

func (s adHocSignStep) Apply(ctx context.Context, path string) error {
	if _, err := s.runner.LookPath(codesignTool); err != nil {
		return errStepUnsupported
	}

	output, err := s.runner.Run(ctx, codesignTool, "--force", "--deep", "-s", "-", path)
	if err != nil {
		return toolError(err, output)
	}

	return nil
}

// toolError attaches the tool's output to its exit error.
func toolError(err error, output []byte) error {
	text := strings.TrimSpace(string(output))
	if text == "" {
		return err
	}

	return fmt.Errorf("%w: %s", err, text)
}
