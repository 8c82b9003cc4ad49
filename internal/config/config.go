package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/cruma-installer/internal/domain/release"
	"github.com/oshokin/cruma-installer/internal/logger"
)

// Config holds installer settings supplied once at startup.
type Config struct {
	// InstallDir is the directory the binary is published into.
	InstallDir string `yaml:"install_dir"`
	// DigestAlgorithm names the hash used for expected digests (sha256 or sha512).
	DigestAlgorithm string `yaml:"digest_algorithm"`
	// FetchTimeout bounds a single download attempt.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// FetchAttempts is the total number of download attempts for retryable failures.
	FetchAttempts int `yaml:"fetch_attempts"`
	// MaxArtifactSize caps the number of bytes accepted from the artifact host.
	MaxArtifactSize int64 `yaml:"max_artifact_size"`
	// CommandTimeout bounds every external command (remediation tools, smoke test).
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// UserAgent overrides the User-Agent header sent to the artifact host.
	UserAgent string `yaml:"user_agent,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFile enables a rotating log file in addition to the console.
	LogFile string `yaml:"log_file,omitempty"`
}

const (
	// DefaultConfigFilename is the settings file looked up when no path is given.
	DefaultConfigFilename = "cruma-installer-settings.yaml"

	// DefaultFetchTimeout is the default duration of one download attempt.
	DefaultFetchTimeout = 5 * time.Minute

	// DefaultFetchAttempts is the default number of download attempts.
	DefaultFetchAttempts = 3

	// DefaultMaxArtifactSize is 512 MiB.
	DefaultMaxArtifactSize int64 = 512 << 20

	// DefaultCommandTimeout is the default duration for external commands.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultLogLevel is used when the settings do not name one.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNegativeValue is returned for negative timeouts, attempts or sizes.
	errNegativeValue = errors.New("value must not be negative")
	// errUnknownLogLevel is returned for log levels zap does not know.
	errUnknownLogLevel = errors.New("unknown log level")
)

// Default returns settings with every default applied.
func Default() *Config {
	cfg := new(Config)

	// Validate never fails on the zero value.
	_ = Validate(cfg)

	return cfg
}

// DefaultInstallDir returns ~/.local/bin, or ./bin when the home directory is unknown.
func DefaultInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "bin"
	}

	return filepath.Join(home, ".local", "bin")
}

// Load reads settings from path and validates them.
// A missing file at the default location yields defaults; a missing explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the settings and fills defaults for unset fields.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.FetchTimeout < 0 || settings.CommandTimeout < 0 ||
		settings.FetchAttempts < 0 || settings.MaxArtifactSize < 0 {
		return errNegativeValue
	}

	if strings.TrimSpace(settings.InstallDir) == "" {
		settings.InstallDir = DefaultInstallDir()
	}

	if settings.DigestAlgorithm == "" {
		settings.DigestAlgorithm = release.DefaultDigestAlgorithm.String()
	}

	algorithm, err := release.ParseDigestAlgorithm(settings.DigestAlgorithm)
	if err != nil {
		return fmt.Errorf("invalid digest algorithm: %w", err)
	}

	settings.DigestAlgorithm = algorithm.String()

	if settings.FetchTimeout == 0 {
		settings.FetchTimeout = DefaultFetchTimeout
	}

	if settings.FetchAttempts == 0 {
		settings.FetchAttempts = DefaultFetchAttempts
	}

	if settings.MaxArtifactSize == 0 {
		settings.MaxArtifactSize = DefaultMaxArtifactSize
	}

	if settings.CommandTimeout == 0 {
		settings.CommandTimeout = DefaultCommandTimeout
	}

	if settings.LogLevel == "" {
		settings.LogLevel = DefaultLogLevel
	}

	if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
		return fmt.Errorf("%q: %w", settings.LogLevel, errUnknownLogLevel)
	}

	return nil
}

// Algorithm returns the parsed digest algorithm. Settings must be validated first.
func (c *Config) Algorithm() release.DigestAlgorithm {
	algorithm, err := release.ParseDigestAlgorithm(c.DigestAlgorithm)
	if err != nil {
		return release.DefaultDigestAlgorithm
	}

	return algorithm
}
