package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/cruma-installer/internal/config"
	"github.com/oshokin/cruma-installer/internal/domain/release"
	"github.com/oshokin/cruma-installer/internal/logger"
	"github.com/oshokin/cruma-installer/internal/repository/catalog"
)

// Stage names a step of the install pipeline.
type Stage int

const (
	// StageNone means the install did not start or did not fail.
	StageNone Stage = iota
	// StageFetch downloads the artifact.
	StageFetch
	// StageVerify checks the artifact digest.
	StageVerify
	// StageStage writes the staging file.
	StageStage
	// StagePublish renames the staging file over the final path.
	StagePublish
	// StageRemediate applies platform remediation.
	StageRemediate
	// StageTest runs the smoke test.
	StageTest
)

// String returns the lower-case stage name.
func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageFetch:
		return "fetch"
	case StageVerify:
		return "verify"
	case StageStage:
		return "stage"
	case StagePublish:
		return "publish"
	case StageRemediate:
		return "remediate"
	case StageTest:
		return "test"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Process exit codes derived from an InstallResult.
const (
	ExitSuccess        = 0
	ExitFetchFailed    = 1
	ExitPublishFailed  = 2
	ExitNeedsAttention = 3
)

// InstallResult is the outcome of one install.
type InstallResult struct {
	// Success is true only when every stage completed.
	Success bool
	// InstalledPath is the final path once publish succeeded.
	InstalledPath string
	// VersionOutput is what `<binary> --version` printed, if it ran.
	VersionOutput string
	// FailureStage is the stage that stopped the pipeline.
	FailureStage Stage
	// Err is the error of FailureStage.
	Err error
	// Installed reports whether the final path holds the new artifact.
	Installed bool
	// Removed lists replaced binaries deleted after a successful install.
	Removed []string
}

// NeedsAttention reports an artifact that is installed but not remediated or not verified.
func (r *InstallResult) NeedsAttention() bool {
	return r != nil && r.Installed && !r.Success
}

// ExitCode maps a result to a process exit code.
func ExitCode(result *InstallResult) int {
	switch {
	case result == nil:
		return ExitFetchFailed
	case result.Success:
		return ExitSuccess
	case result.Installed:
		return ExitNeedsAttention
	}

	switch result.FailureStage {
	case StageStage, StagePublish:
		return ExitPublishFailed
	case StageRemediate, StageTest:
		return ExitNeedsAttention
	default:
		return ExitFetchFailed
	}
}

// Installer runs the install pipeline. It keeps no state between installs,
// so one Installer may serve concurrent calls.
type Installer struct {
	fetcher       *Fetcher
	verifier      *DigestVerifier
	targets       *TargetManager
	remediator    *Remediator
	tester        *SmokeTester
	platform      Platform
	listProcesses func() ([]ps.Process, error)
}

// Option configures an Installer.
type Option func(*Installer)

// WithFetcher replaces the artifact fetcher.
func WithFetcher(fetcher *Fetcher) Option {
	return func(i *Installer) {
		if fetcher != nil {
			i.fetcher = fetcher
		}
	}
}

// WithRemediator replaces the remediator.
func WithRemediator(remediator *Remediator) Option {
	return func(i *Installer) {
		if remediator != nil {
			i.remediator = remediator
		}
	}
}

// WithSmokeTester replaces the smoke tester.
func WithSmokeTester(tester *SmokeTester) Option {
	return func(i *Installer) {
		if tester != nil {
			i.tester = tester
		}
	}
}

// WithPlatform overrides the platform remediation is planned for.
func WithPlatform(platform Platform) Option {
	return func(i *Installer) {
		if platform != "" {
			i.platform = platform
		}
	}
}

// WithProcessLister overrides how running processes are listed.
func WithProcessLister(list func() ([]ps.Process, error)) Option {
	return func(i *Installer) {
		if list != nil {
			i.listProcesses = list
		}
	}
}

// New creates an installer from validated settings.
func New(cfg *config.Config, opts ...Option) *Installer {
	if cfg == nil {
		cfg = config.Default()
	}

	i := &Installer{
		fetcher: NewFetcher(
			WithAttempts(cfg.FetchAttempts),
			WithAttemptTimeout(cfg.FetchTimeout),
			WithMaxArtifactSize(cfg.MaxArtifactSize),
			WithUserAgent(cfg.UserAgent),
		),
		verifier:      NewDigestVerifier(cfg.Algorithm()),
		targets:       NewTargetManager(),
		remediator:    NewRemediator(ExecRunner{}, cfg.CommandTimeout),
		tester:        NewSmokeTester(cfg.CommandTimeout),
		platform:      CurrentPlatform(),
		listProcesses: ps.Processes,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Install runs Fetching, Verifying, Staging, Publishing, Remediating and Testing.
// It never returns nil. A failure before publish leaves the final path as it
// was; a failure after publish leaves the new binary in place with Installed set.
func (i *Installer) Install(ctx context.Context, descriptor release.Descriptor) *InstallResult {
	ctx = logger.WithKV(ctx,
		"release", descriptor.Release.Version,
		"binary", descriptor.Release.Installed(),
	)

	result := new(InstallResult)

	abort := func(stage Stage, err error) *InstallResult {
		result.FailureStage = stage
		result.Err = err

		if result.Installed {
			logger.ErrorKV(ctx, "Installed, needs attention", "stage", stage, "path", result.InstalledPath, "error", err)
		} else {
			logger.ErrorKV(ctx, "Install aborted", "stage", stage, "error", err)
		}

		return result
	}

	if err := descriptor.Validate(i.verifier.Algorithm()); err != nil {
		return abort(StageNone, err)
	}

	target := NewTarget(descriptor.InstallDirectory, descriptor.Release.Installed())

	// Fail before downloading when the artifact could never be staged.
	if err := i.targets.Preflight(ctx, target); err != nil {
		return abort(StageStage, err)
	}

	// Fetching.
	if err := ctx.Err(); err != nil {
		return abort(StageFetch, err)
	}

	logger.InfoKV(ctx, "Downloading release", "url", descriptor.Release.SourceURL)

	artifact, err := i.fetcher.Fetch(ctx, descriptor.Release.SourceURL)
	if err != nil {
		return abort(StageFetch, err)
	}

	// Verifying.
	if err = ctx.Err(); err != nil {
		return abort(StageVerify, err)
	}

	if err = i.verifier.Verify(artifact.Bytes, descriptor.Release.ExpectedDigest); err != nil {
		return abort(StageVerify, err)
	}

	logger.DebugKV(ctx, "Digest verified", "algorithm", i.verifier.Algorithm(), "bytes", artifact.ByteLength)

	// Staging.
	if err = ctx.Err(); err != nil {
		return abort(StageStage, err)
	}

	stagingPath, err := i.targets.Stage(ctx, target, artifact.Bytes)
	if err != nil {
		return abort(StageStage, err)
	}

	// Publishing.
	if err = ctx.Err(); err != nil {
		i.targets.Discard(ctx, stagingPath)
		return abort(StagePublish, err)
	}

	i.warnRunningInstances(ctx, descriptor.Release.Installed())

	if err = i.targets.Publish(ctx, stagingPath, target.FinalPath); err != nil {
		return abort(StagePublish, err)
	}

	result.Installed = true
	result.InstalledPath = target.FinalPath

	logger.InfoKV(ctx, "Published binary", "path", target.FinalPath)

	// Remediating and Testing.
	if stage, checkErr := i.check(ctx, result, target.FinalPath, descriptor.Token()); checkErr != nil {
		return abort(stage, checkErr)
	}

	if descriptor.CleanupReplaced && len(descriptor.Release.Replaces) > 0 {
		result.Removed = i.targets.RemoveReplaced(ctx, target, descriptor.Release.Replaces)
	}

	result.Success = true

	logger.InfoKV(ctx, "Install completed", "path", target.FinalPath, "version_output", result.VersionOutput)

	return result
}

// Recheck re-runs remediation and the smoke test on an installed binary.
// A missing binary is reported with FailureStage none: nothing is installed.
func (i *Installer) Recheck(ctx context.Context, finalPath, expectedToken string) *InstallResult {
	finalPath = absPath(finalPath)
	ctx = logger.WithKV(ctx, "path", finalPath)

	result := &InstallResult{InstalledPath: finalPath}

	info, err := os.Stat(finalPath)
	if err == nil && info.IsDir() {
		err = fmt.Errorf("%s: %w", finalPath, errNotAFile)
	}

	if err != nil {
		result.FailureStage = StageNone
		result.Err = err

		logger.ErrorKV(ctx, "Nothing to remediate", "error", err)

		return result
	}

	result.Installed = true

	if stage, checkErr := i.check(ctx, result, finalPath, expectedToken); checkErr != nil {
		result.FailureStage = stage
		result.Err = checkErr

		logger.ErrorKV(ctx, "Installed, needs attention", "stage", stage, "error", checkErr)

		return result
	}

	result.Success = true

	logger.InfoKV(ctx, "Binary verified", "version_output", result.VersionOutput)

	return result
}

// check remediates and smoke-tests finalPath, storing the version output in result.
func (i *Installer) check(ctx context.Context, result *InstallResult, finalPath, token string) (Stage, error) {
	logger.DebugKV(ctx, "Applying remediation", "platform", i.platform, "steps", i.remediator.Steps(i.platform))

	if err := i.remediator.Remediate(ctx, finalPath, i.platform); err != nil {
		return StageRemediate, err
	}

	output, err := i.tester.Test(ctx, finalPath, token)
	result.VersionOutput = output

	if err != nil {
		return StageTest, err
	}

	return StageNone, nil
}

// warnRunningInstances logs running processes of the binary being replaced.
// They keep executing the old file until restarted.
func (i *Installer) warnRunningInstances(ctx context.Context, binaryName string) {
	processes, err := i.listProcesses()
	if err != nil {
		logger.DebugKV(ctx, "Unable to list processes", "error", err)
		return
	}

	thisProcessID := os.Getpid()

	for _, process := range processes {
		if process.Pid() == thisProcessID || process.Executable() != binaryName {
			continue
		}

		logger.WarnKV(ctx, "Binary is running, restart it to use the new version",
			"pid", process.Pid())
	}
}

var (
	// errNotAFile is returned when the path to recheck is a directory.
	errNotAFile = errors.New("not a regular file")
	// errCatalogRequired is returned when a channel or version is given without a catalog.
	errCatalogRequired = errors.New("--channel and --release-version require --catalog")
)

// Options contains inputs for the install entry point.
type Options struct {
	// ConfigPath is an optional path to the settings file.
	ConfigPath string
	// Settings, when set, are used instead of reading ConfigPath.
	Settings *config.Config
	// InstallDir overrides the install directory from settings.
	InstallDir string

	// Release is the release to install when no catalog is given.
	Release release.Spec
	// Token overrides the expected version token.
	Token string
	// CleanupReplaced removes binaries named in Release.Replaces after success.
	CleanupReplaced bool

	// CatalogPath selects the release from a catalog file.
	CatalogPath string
	// Channel picks the newest release of a channel. Defaults to stable.
	Channel string
	// ReleaseVersion picks an exact version from the catalog.
	ReleaseVersion string
}

// Run installs the release described by opts. The returned error covers
// settings and descriptor problems; pipeline failures are in the result.
func Run(ctx context.Context, opts *Options) (*InstallResult, error) {
	ctx = logger.WithName(ctx, "installer")

	cfg, err := settings(opts.Settings, opts.ConfigPath, opts.InstallDir)
	if err != nil {
		return nil, err
	}

	descriptor, err := resolveDescriptor(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Installing release",
		"name", descriptor.Release.Name,
		"version", descriptor.Release.Version,
		"channel", descriptor.Release.Channel(),
		"directory", descriptor.InstallDirectory,
	)

	return New(cfg).Install(ctx, descriptor), nil
}

// RemediateOptions contains inputs for the remediate entry point.
type RemediateOptions struct {
	// ConfigPath is an optional path to the settings file.
	ConfigPath string
	// Settings, when set, are used instead of reading ConfigPath.
	Settings *config.Config
	// InstallDir overrides the install directory from settings.
	InstallDir string
	// BinaryName is the installed file name.
	BinaryName string
	// Token overrides the expected version token, which defaults to BinaryName.
	Token string
}

// RunRemediate re-applies remediation and the smoke test to an installed binary.
func RunRemediate(ctx context.Context, opts *RemediateOptions) (*InstallResult, error) {
	ctx = logger.WithName(ctx, "installer")

	cfg, err := settings(opts.Settings, opts.ConfigPath, opts.InstallDir)
	if err != nil {
		return nil, err
	}

	if err = release.ValidateBinaryName(opts.BinaryName); err != nil {
		return nil, err
	}

	descriptor := release.Descriptor{
		Release:              release.Spec{Name: opts.BinaryName},
		InstallDirectory:     cfg.InstallDir,
		ExpectedVersionToken: opts.Token,
	}

	return New(cfg).Recheck(ctx, descriptor.FinalPath(), descriptor.Token()), nil
}

// settings returns validated settings with the install directory override applied.
func settings(cfg *config.Config, path, installDir string) (*config.Config, error) {
	if cfg == nil {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}

		cfg = loaded
	} else {
		copied := *cfg
		cfg = &copied
	}

	if strings.TrimSpace(installDir) != "" {
		cfg.InstallDir = installDir
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	cfg.InstallDir = absPath(cfg.InstallDir)

	return cfg, nil
}

// resolveDescriptor builds the descriptor from flags or from a catalog.
func resolveDescriptor(ctx context.Context, cfg *config.Config, opts *Options) (release.Descriptor, error) {
	spec := opts.Release

	switch {
	case opts.CatalogPath != "":
		repo := catalog.NewFileRepository(opts.CatalogPath, cfg.Algorithm())

		releases, err := repo.Load(ctx)
		if err != nil {
			return release.Descriptor{}, fmt.Errorf("load catalog: %w", err)
		}

		if opts.ReleaseVersion != "" {
			spec, err = releases.Find(opts.ReleaseVersion)
		} else {
			channel := opts.Channel
			if channel == "" {
				channel = release.ChannelStable
			}

			spec, err = releases.Latest(channel)
		}

		if err != nil {
			return release.Descriptor{}, err
		}

		logger.DebugKV(ctx, "Resolved release from catalog", "catalog", repo.Path(), "version", spec.Version)
	case opts.Channel != "" || opts.ReleaseVersion != "":
		return release.Descriptor{}, errCatalogRequired
	}

	descriptor := release.Descriptor{
		Release:              spec,
		InstallDirectory:     cfg.InstallDir,
		ExpectedVersionToken: opts.Token,
		CleanupReplaced:      opts.CleanupReplaced,
	}

	if err := descriptor.Validate(cfg.Algorithm()); err != nil {
		return release.Descriptor{}, fmt.Errorf("invalid release: %w", err)
	}

	return descriptor, nil
}
