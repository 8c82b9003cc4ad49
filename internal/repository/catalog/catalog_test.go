package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/cruma-installer/internal/domain/release"
)

func spec(version string) release.Spec {
	return release.Spec{
		Name:           "cruma-agent",
		Version:        version,
		SourceURL:      "https://example.com/cruma-" + version,
		ExpectedDigest: strings.Repeat("ab", 32),
		BinaryName:     "cruma",
	}
}

// TestCatalog_Latest picks the highest semantic version per channel.
func TestCatalog_Latest(t *testing.T) {
	t.Parallel()

	c := &Catalog{Releases: []release.Spec{
		spec("0.3.0-beta.3"),
		spec("0.3.0-beta.10"),
		spec("0.2.9"),
		spec("0.2.10"),
		spec("0.4.0-alpha.1"),
	}}

	beta, err := c.Latest("beta")
	require.NoError(t, err)
	require.Equal(t, "0.3.0-beta.10", beta.Version)

	stable, err := c.Latest(release.ChannelStable)
	require.NoError(t, err)
	require.Equal(t, "0.2.10", stable.Version)

	_, err = c.Latest("rc")
	require.ErrorIs(t, err, ErrReleaseNotFound)

	require.Equal(t, []string{"alpha", "beta", "stable"}, c.Channels())
}

// TestCatalog_Find matches versions semantically.
func TestCatalog_Find(t *testing.T) {
	t.Parallel()

	c := &Catalog{Releases: []release.Spec{spec("0.3.0-beta.3"), spec("0.2.0")}}

	found, err := c.Find("v0.3.0-beta.3")
	require.NoError(t, err)
	require.Equal(t, "0.3.0-beta.3", found.Version)

	_, err = c.Find("0.3.0")
	require.ErrorIs(t, err, ErrReleaseNotFound)

	_, err = c.Find("latest")
	require.ErrorIs(t, err, release.ErrInvalidVersion)
}

// TestCatalog_Sorted orders newest first.
func TestCatalog_Sorted(t *testing.T) {
	t.Parallel()

	c := &Catalog{Releases: []release.Spec{spec("0.1.0"), spec("0.3.0-beta.1"), spec("0.2.0")}}

	versions := make([]string, 0, 3)
	for _, s := range c.Sorted() {
		versions = append(versions, s.Version)
	}

	require.Equal(t, []string{"0.3.0-beta.1", "0.2.0", "0.1.0"}, versions)
	require.Equal(t, "0.1.0", c.Releases[0].Version)
}

// TestCatalog_ValidateDuplicates rejects two entries with the same version.
func TestCatalog_ValidateDuplicates(t *testing.T) {
	t.Parallel()

	c := &Catalog{Releases: []release.Spec{spec("0.3.0"), spec("v0.3.0")}}
	require.ErrorIs(t, c.Validate(release.DigestSHA256), ErrDuplicateVersion)
}

// TestFileRepository_NotFound verifies Load returns ErrNotFound for a missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.yaml"), release.DigestSHA256)
	c, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, c)
}

// TestFileRepository_LoadYAML reads a hand-written catalog.
func TestFileRepository_LoadYAML(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "releases.yaml")
	contents := `releases:
  - name: cruma-agent
    version: 0.3.0-beta.3
    url: https://example.com/files/tunnel-agent%2Fv0.3.0-beta.3%2Fcruma
    sha256: ` + strings.Repeat("AB", 32) + `
    binary_name: cruma
    replaces: [cruma-tunnel]
`
	require.NoError(t, os.WriteFile(file, []byte(contents), 0o600))

	c, err := NewFileRepository(file, release.DigestSHA256).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Releases, 1)
	require.Equal(t, "https://example.com/files/tunnel-agent%2Fv0.3.0-beta.3%2Fcruma", c.Releases[0].SourceURL)
	require.Equal(t, []string{"cruma-tunnel"}, c.Releases[0].Replaces)
}

// TestFileRepository_LoadInvalid reports the offending entry.
func TestFileRepository_LoadInvalid(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "releases.yaml")
	require.NoError(t, os.WriteFile(file, []byte("releases:\n  - name: cruma\n    version: 1.0.0\n"), 0o600))

	_, err := NewFileRepository(file, release.DigestSHA256).Load(context.Background())
	require.ErrorIs(t, err, release.ErrURLRequired)
}

// TestFileRepository_Append creates the file and replaces same-version entries.
func TestFileRepository_Append(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "nested", "releases.yaml")
	repo := NewFileRepository(file, release.DigestSHA256)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, spec("0.2.0")))
	require.NoError(t, repo.Append(ctx, spec("0.3.0-beta.3")))

	updated := spec("0.2.0")
	updated.SourceURL = "https://mirror.example.com/cruma"
	require.NoError(t, repo.Append(ctx, updated))

	c, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, c.Releases, 2)
	require.Equal(t, "https://mirror.example.com/cruma", c.Releases[0].SourceURL)
}
