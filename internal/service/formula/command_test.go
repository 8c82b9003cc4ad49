package formula

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/cruma-installer/internal/config"
	"github.com/oshokin/cruma-installer/internal/domain/release"
	"github.com/oshokin/cruma-installer/internal/repository/catalog"
)

// TestRun_WritesFormulaAndCatalog generates a formula from a served artifact.
func TestRun_WritesFormulaAndCatalog(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	work := t.TempDir()
	catalogPath := filepath.Join(work, "releases.yaml")

	result, err := Run(context.Background(), &Options{
		Settings:    config.Default(),
		Name:        "cruma-tunnel",
		Version:     "0.3.0-beta.3",
		URL:         server.URL + "/files/tunnel-agent%2Fcruma",
		BinaryName:  "cruma",
		OutputDir:   filepath.Join(work, "Formula"),
		NoUnzip:     true,
		AdHocSign:   true,
		CatalogPath: catalogPath,
		Replaces:    []string{"cruma-tunnel"},
	})
	require.NoError(t, err)

	const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	require.Equal(t, filepath.Join(work, "Formula", "cruma-tunnel.rb"), result.Path)
	require.Equal(t, helloSHA256, result.SHA256)
	require.Equal(t, "5d41402abc4b2a76b9719d911017c592", result.MD5)

	contents, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	require.Equal(t, result.Contents, string(contents))
	require.Contains(t, result.Contents, "class CrumaTunnel < Formula")
	require.Contains(t, result.Contents, `desc "cruma-tunnel CLI"`)
	require.Contains(t, result.Contents, `homepage "https://example.com"`)
	require.Contains(t, result.Contents, `assert_match "cruma", shell_output("#{bin}/cruma --version")`)

	releases, err := catalog.NewFileRepository(catalogPath, release.DigestSHA256).Load(context.Background())
	require.NoError(t, err)

	latest, err := releases.Latest("beta")
	require.NoError(t, err)
	require.Equal(t, helloSHA256, latest.ExpectedDigest)
	require.Equal(t, "cruma", latest.BinaryName)
	require.Equal(t, []string{"cruma-tunnel"}, latest.Replaces)
}

// TestRun_RequiresInputs rejects missing name, version and URL.
func TestRun_RequiresInputs(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), &Options{Settings: config.Default(), Version: "1.0.0", URL: "http://x"})
	require.ErrorIs(t, err, errNameRequired)

	_, err = Run(context.Background(), &Options{Settings: config.Default(), Name: "cruma", URL: "http://x"})
	require.ErrorIs(t, err, errVersionRequired)

	_, err = Run(context.Background(), &Options{Settings: config.Default(), Name: "cruma", Version: "1.0.0"})
	require.ErrorIs(t, err, errURLRequired)
}
