package formula

import (
	"context"
	"crypto/md5" //nolint:gosec // Printed next to sha256 for mirrors that still list md5.
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/cruma-installer/internal/config"
	"github.com/oshokin/cruma-installer/internal/domain/release"
	"github.com/oshokin/cruma-installer/internal/logger"
	"github.com/oshokin/cruma-installer/internal/repository/catalog"
	"github.com/oshokin/cruma-installer/internal/service/installer"
)

const (
	// DefaultOutputDir is where formulas are written when no directory is given.
	DefaultOutputDir = "Formula"
	// DefaultHomepage is used when no homepage is given.
	DefaultHomepage = "https://example.com"

	fileExtension = ".rb"
	fileMode      = 0o644
	dirMode       = 0o755
)

var (
	// errNameRequired is returned when the formula name is missing.
	errNameRequired = errors.New("formula name must be provided")
	// errURLRequired is returned when the download URL is missing.
	errURLRequired = errors.New("download URL must be provided")
	// errVersionRequired is returned when the version is missing.
	errVersionRequired = errors.New("version must be provided")
)

// Options contains inputs for the formula entry point.
type Options struct {
	// ConfigPath is an optional path to the settings file.
	ConfigPath string
	// Settings, when set, are used instead of reading ConfigPath.
	Settings *config.Config

	// Name is the formula name, for example "cruma-tunnel".
	Name string
	// Version is the release version.
	Version string
	// URL is the download URL of the binary.
	URL string
	// Desc is a one-line description. Defaults to "<name> CLI".
	Desc string
	// Homepage is the project homepage.
	Homepage string
	// BinaryName is the name installed into bin. Defaults to Name.
	BinaryName string
	// OutputDir receives <name>.rb. Defaults to Formula.
	OutputDir string
	// NoUnzip installs the download as is.
	NoUnzip bool
	// AdHocSign adds the post_install remediation hook.
	AdHocSign bool

	// CatalogPath, when set, also records the release in this catalog.
	CatalogPath string
	// Replaces lists earlier binary names recorded in the catalog entry.
	Replaces []string
}

// Result describes a generated formula.
type Result struct {
	// Path is the written formula file.
	Path string
	// SHA256 is the digest written into the formula.
	SHA256 string
	// MD5 is printed for reference only.
	MD5 string
	// Contents is the formula text.
	Contents string
}

// generator renders one formula. Callers should use Run.
type generator struct {
	cfg     *config.Config
	opts    *Options
	fetcher *installer.Fetcher
}

// Run downloads the artifact, writes the formula and updates the catalog.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "formula")

	gen, err := newGenerator(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize formula generator: %w", err)
	}

	result, err := gen.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("formula generation failed: %w", err)
	}

	logger.Info(ctx, "Formula generated successfully")

	return result, nil
}

func newGenerator(opts *Options) (*generator, error) {
	switch {
	case strings.TrimSpace(opts.Name) == "":
		return nil, errNameRequired
	case strings.TrimSpace(opts.Version) == "":
		return nil, errVersionRequired
	case strings.TrimSpace(opts.URL) == "":
		return nil, errURLRequired
	}

	cfg := opts.Settings
	if cfg == nil {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}

		cfg = loaded
	} else if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	return &generator{
		cfg:  cfg,
		opts: opts,
		fetcher: installer.NewFetcher(
			installer.WithAttempts(cfg.FetchAttempts),
			installer.WithAttemptTimeout(cfg.FetchTimeout),
			installer.WithMaxArtifactSize(cfg.MaxArtifactSize),
			installer.WithUserAgent(cfg.UserAgent),
		),
	}, nil
}

// Run fetches, hashes, renders and writes.
func (g *generator) Run(ctx context.Context) (*Result, error) {
	className, err := ClassName(g.opts.Name)
	if err != nil {
		return nil, err
	}

	binaryName := g.opts.BinaryName
	if binaryName == "" {
		binaryName = g.opts.Name
	}

	if err = release.ValidateBinaryName(binaryName); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Downloading artifact", "url", g.opts.URL)

	artifact, err := g.fetcher.Fetch(ctx, g.opts.URL)
	if err != nil {
		return nil, err
	}

	md5Sum := md5.Sum(artifact.Bytes) //nolint:gosec // Reference only.
	result := &Result{
		SHA256: installer.NewDigestVerifier(release.DigestSHA256).Sum(artifact.Bytes),
		MD5:    hex.EncodeToString(md5Sum[:]),
	}

	f := &Formula{
		ClassName:   className,
		Desc:        g.desc(),
		Homepage:    g.homepage(),
		Version:     g.opts.Version,
		URL:         g.opts.URL,
		SHA256:      result.SHA256,
		BinaryName:  binaryName,
		NoUnzip:     g.opts.NoUnzip,
		PostInstall: g.opts.AdHocSign,
	}

	if result.Contents, err = Render(f); err != nil {
		return nil, err
	}

	if result.Path, err = g.write(result.Contents); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Wrote formula", "path", result.Path, "sha256", result.SHA256, "md5", result.MD5)

	if g.opts.CatalogPath != "" {
		if err = g.record(ctx, artifact.Bytes, binaryName); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (g *generator) desc() string {
	if g.opts.Desc != "" {
		return g.opts.Desc
	}

	return g.opts.Name + " CLI"
}

func (g *generator) homepage() string {
	if g.opts.Homepage != "" {
		return g.opts.Homepage
	}

	return DefaultHomepage
}

// write stores the formula as <output-dir>/<kebab-name>.rb.
func (g *generator) write(contents string) (string, error) {
	dir := g.opts.OutputDir
	if dir == "" {
		dir = DefaultOutputDir
	}

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(dir, FileName(g.opts.Name)+fileExtension)
	if err := os.WriteFile(path, []byte(contents), fileMode); err != nil {
		return "", fmt.Errorf("write formula: %w", err)
	}

	return path, nil
}

// record appends the release to the catalog, digested with the configured algorithm.
func (g *generator) record(ctx context.Context, data []byte, binaryName string) error {
	algorithm := g.cfg.Algorithm()

	spec := release.Spec{
		Name:           g.opts.Name,
		Version:        g.opts.Version,
		SourceURL:      g.opts.URL,
		ExpectedDigest: installer.NewDigestVerifier(algorithm).Sum(data),
		BinaryName:     binaryName,
		Replaces:       g.opts.Replaces,
	}

	if spec.BinaryName == spec.Name {
		spec.BinaryName = ""
	}

	repo := catalog.NewFileRepository(g.opts.CatalogPath, algorithm)
	if err := repo.Append(ctx, spec); err != nil {
		return fmt.Errorf("update catalog: %w", err)
	}

	logger.InfoKV(ctx, "Recorded release in catalog",
		"catalog", repo.Path(),
		"version", spec.Version,
		"channel", spec.Channel(),
	)

	return nil
}
