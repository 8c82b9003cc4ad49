package catalog

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"

	"github.com/oshokin/cruma-installer/internal/domain/release"
)

var (
	// ErrReleaseNotFound is returned when no release matches a lookup.
	ErrReleaseNotFound = errors.New("release not found")
	// ErrDuplicateVersion is returned when two entries share a version.
	ErrDuplicateVersion = errors.New("duplicate release version")
)

// Catalog lists every published release.
type Catalog struct {
	// Releases are kept in file order.
	Releases []release.Spec `yaml:"releases"`
}

// Validate checks each entry and rejects duplicate versions.
func (c *Catalog) Validate(algorithm release.DigestAlgorithm) error {
	seen := make(map[string]int, len(c.Releases))

	for i, spec := range c.Releases {
		if err := spec.Validate(algorithm); err != nil {
			return fmt.Errorf("release #%d (%s): %w", i+1, spec.Version, err)
		}

		// Validate guarantees the version parses.
		v, _ := spec.SemVer()
		key := v.String()

		if first, found := seen[key]; found {
			return fmt.Errorf("release #%d and #%d: %s: %w", first+1, i+1, key, ErrDuplicateVersion)
		}

		seen[key] = i
	}

	return nil
}

// Channels returns the distinct channels present in the catalog, sorted.
func (c *Catalog) Channels() []string {
	channels := make([]string, 0, len(c.Releases))

	for _, spec := range c.Releases {
		channel := spec.Channel()
		if !slices.Contains(channels, channel) {
			channels = append(channels, channel)
		}
	}

	slices.Sort(channels)

	return channels
}

// Latest returns the highest version in channel.
func (c *Catalog) Latest(channel string) (release.Spec, error) {
	var (
		best    release.Spec
		bestVer *semver.Version
	)

	for _, spec := range c.Releases {
		if spec.Channel() != channel {
			continue
		}

		v, err := spec.SemVer()
		if err != nil {
			continue
		}

		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = spec, v
		}
	}

	if bestVer == nil {
		return release.Spec{}, fmt.Errorf("channel %q: %w", channel, ErrReleaseNotFound)
	}

	return best, nil
}

// Find returns the release with the given version. "v0.3.0" and "0.3.0" are the same version.
func (c *Catalog) Find(version string) (release.Spec, error) {
	want, err := semver.NewVersion(version)
	if err != nil {
		return release.Spec{}, fmt.Errorf("%q: %w: %w", version, release.ErrInvalidVersion, err)
	}

	for _, spec := range c.Releases {
		if v, parseErr := spec.SemVer(); parseErr == nil && v.Equal(want) {
			return spec, nil
		}
	}

	return release.Spec{}, fmt.Errorf("version %q: %w", version, ErrReleaseNotFound)
}

// Sorted returns the releases ordered from newest to oldest.
func (c *Catalog) Sorted() []release.Spec {
	sorted := slices.Clone(c.Releases)

	slices.SortStableFunc(sorted, func(a, b release.Spec) int {
		va, errA := a.SemVer()
		vb, errB := b.SemVer()

		switch {
		case errA != nil && errB != nil:
			return 0
		case errA != nil:
			return 1
		case errB != nil:
			return -1
		default:
			return vb.Compare(va)
		}
	})

	return sorted
}

// Upsert adds spec or replaces the entry with the same version.
func (c *Catalog) Upsert(spec release.Spec) {
	if v, err := spec.SemVer(); err == nil {
		for i, existing := range c.Releases {
			if ev, existingErr := existing.SemVer(); existingErr == nil && ev.Equal(v) {
				c.Releases[i] = spec
				return
			}
		}
	}

	c.Releases = append(c.Releases, spec)
}
