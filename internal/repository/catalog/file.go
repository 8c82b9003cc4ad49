package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/cruma-installer/internal/domain/release"
)

// Repository defines persistence operations for the release catalog.
type Repository interface {
	Load(ctx context.Context) (*Catalog, error)
	Save(ctx context.Context, catalog *Catalog) error
}

// FileRepository persists the catalog to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the catalog file.
	path string
	// algorithm validates the digests listed in the catalog.
	algorithm release.DigestAlgorithm
	// mu protects concurrent access to the catalog file.
	mu sync.Mutex
}

const (
	// fileMode lets other users and tools read the catalog.
	fileMode = 0o644
	// dirMode is used when the catalog directory has to be created.
	dirMode = 0o755
)

// ErrNotFound is returned when the catalog file does not exist yet.
var ErrNotFound = errors.New("catalog not found")

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string, algorithm release.DigestAlgorithm) *FileRepository {
	if algorithm == "" {
		algorithm = release.DefaultDigestAlgorithm
	}

	return &FileRepository{
		path:      filepath.Clean(path),
		algorithm: algorithm,
	}
}

// Path returns the catalog location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads and validates the catalog.
func (r *FileRepository) Load(_ context.Context) (*Catalog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load()
}

// Save validates and writes the catalog.
func (r *FileRepository) Save(_ context.Context, catalog *Catalog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.save(catalog)
}

// Append adds spec to the catalog, creating the file if needed.
// An entry with the same version is replaced.
func (r *FileRepository) Append(_ context.Context, spec release.Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	catalog, err := r.load()

	switch {
	case errors.Is(err, ErrNotFound):
		catalog = new(Catalog)
	case err != nil:
		return err
	}

	catalog.Upsert(spec)

	return r.save(catalog)
}

func (r *FileRepository) load() (*Catalog, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	catalog := new(Catalog)
	if err = yaml.Unmarshal(contents, catalog); err != nil {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}

	if err = catalog.Validate(r.algorithm); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", r.path, err)
	}

	return catalog, nil
}

func (r *FileRepository) save(catalog *Catalog) error {
	if err := catalog.Validate(r.algorithm); err != nil {
		return err
	}

	data, err := yaml.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	if dir := filepath.Dir(r.path); dir != "" {
		if err = os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("create catalog directory: %w", err)
		}
	}

	if err = os.WriteFile(r.path, data, fileMode); err != nil {
		return fmt.Errorf("write catalog file: %w", err)
	}

	return nil
}
