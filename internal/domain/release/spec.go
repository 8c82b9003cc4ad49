package release

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"
)

// ChannelStable is the channel of releases without a pre-release suffix.
const ChannelStable = "stable"

var (
	// ErrNameRequired is returned when a release has no name.
	ErrNameRequired = errors.New("release name must be provided")
	// ErrURLRequired is returned when a release has no source URL.
	ErrURLRequired = errors.New("source URL must be provided")
	// ErrInvalidVersion is returned for versions that are not semantic versions.
	ErrInvalidVersion = errors.New("invalid release version")
	// ErrInvalidBinaryName is returned when the binary name is empty or contains a path.
	ErrInvalidBinaryName = errors.New("binary name must be a plain file name")
	// ErrDirectoryRequired is returned when a descriptor has no install directory.
	ErrDirectoryRequired = errors.New("install directory must be provided")
)

// Spec describes one published version of the agent.
// It is a value: every version is a Spec, not a new recipe.
type Spec struct {
	// Name identifies the product, for example "cruma-tunnel".
	Name string `yaml:"name"`
	// Version is a semantic version, possibly with a pre-release suffix ("0.3.0-beta.3").
	Version string `yaml:"version"`
	// SourceURL is fetched as an opaque string; percent-encoding is preserved.
	SourceURL string `yaml:"url"`
	// ExpectedDigest is the hex digest of the artifact.
	ExpectedDigest string `yaml:"sha256"`
	// BinaryName is the installed file name. Defaults to Name.
	BinaryName string `yaml:"binary_name,omitempty"`
	// Replaces lists file names earlier versions installed under.
	Replaces []string `yaml:"replaces,omitempty"`
}

// Installed returns the file name the binary is installed under.
func (s Spec) Installed() string {
	if s.BinaryName != "" {
		return s.BinaryName
	}

	return s.Name
}

// Channel returns the release channel derived from the version.
func (s Spec) Channel() string {
	return Channel(s.Version)
}

// SemVer parses the version.
func (s Spec) SemVer() (*semver.Version, error) {
	v, err := semver.NewVersion(s.Version)
	if err != nil {
		return nil, fmt.Errorf("%q: %w: %w", s.Version, ErrInvalidVersion, err)
	}

	return v, nil
}

// Validate checks the release against the digest algorithm it will be verified with.
func (s Spec) Validate(algorithm DigestAlgorithm) error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrNameRequired
	}

	if strings.TrimSpace(s.SourceURL) == "" {
		return ErrURLRequired
	}

	if _, err := s.SemVer(); err != nil {
		return err
	}

	if err := ValidateBinaryName(s.Installed()); err != nil {
		return err
	}

	for _, name := range s.Replaces {
		if err := ValidateBinaryName(name); err != nil {
			return fmt.Errorf("replaces: %w", err)
		}
	}

	return algorithm.ValidateDigest(s.ExpectedDigest)
}

// ValidateBinaryName rejects empty names, path separators and dot entries.
func ValidateBinaryName(name string) error {
	switch {
	case strings.TrimSpace(name) == "",
		name == ".", name == "..",
		strings.ContainsAny(name, `/\`),
		filepath.Base(name) != name:
		return fmt.Errorf("%q: %w", name, ErrInvalidBinaryName)
	default:
		return nil
	}
}

// Channel derives a channel from a version: "stable" without a pre-release
// suffix, otherwise the leading letters of the suffix ("beta" for "0.3.0-beta.3").
// Unparsable versions fall back to the raw suffix after the first dash.
func Channel(version string) string {
	var prerelease string

	if v, err := semver.NewVersion(version); err == nil {
		prerelease = v.Prerelease()
	} else if _, suffix, found := strings.Cut(version, "-"); found {
		prerelease = suffix
	}

	if prerelease == "" {
		return ChannelStable
	}

	end := strings.IndexFunc(prerelease, func(r rune) bool { return !unicode.IsLetter(r) })
	if end == 0 {
		return prerelease
	}

	if end > 0 {
		prerelease = prerelease[:end]
	}

	return strings.ToLower(prerelease)
}

// Descriptor is the complete input of one install call.
type Descriptor struct {
	// Release is the artifact to install.
	Release Spec
	// InstallDirectory is where the binary is published.
	InstallDirectory string
	// ExpectedVersionToken must appear in the output of `<binary> --version`.
	ExpectedVersionToken string
	// CleanupReplaced removes files listed in Release.Replaces after a successful install.
	CleanupReplaced bool
}

// Token returns the expected version token, defaulting to the first word of the binary name.
func (d Descriptor) Token() string {
	if token := strings.TrimSpace(d.ExpectedVersionToken); token != "" {
		return token
	}

	fields := strings.Fields(d.Release.Installed())
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}

// FinalPath returns InstallDirectory/BinaryName.
func (d Descriptor) FinalPath() string {
	return filepath.Join(d.InstallDirectory, d.Release.Installed())
}

// Validate checks the descriptor.
func (d Descriptor) Validate(algorithm DigestAlgorithm) error {
	if strings.TrimSpace(d.InstallDirectory) == "" {
		return ErrDirectoryRequired
	}

	return d.Release.Validate(algorithm)
}
