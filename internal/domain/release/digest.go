package release

import (
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	// Register hash implementations for crypto.Hash.New.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// DigestAlgorithm names the hash an expected digest was produced with.
type DigestAlgorithm string

const (
	// DigestSHA256 is what package-manager formulas carry.
	DigestSHA256 DigestAlgorithm = "sha256"
	// DigestSHA512 is accepted for hosts that publish SHA-512 sums.
	DigestSHA512 DigestAlgorithm = "sha512"

	// DefaultDigestAlgorithm is used when settings do not name one.
	DefaultDigestAlgorithm = DigestSHA256
)

var (
	// ErrUnknownAlgorithm is returned for hash names other than sha256 and sha512.
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
	// ErrInvalidDigest is returned when an expected digest is not hex of the algorithm's length.
	ErrInvalidDigest = errors.New("invalid digest")
)

// ParseDigestAlgorithm accepts "sha256", "SHA-256", "sha_512" and similar spellings.
func ParseDigestAlgorithm(name string) (DigestAlgorithm, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer("-", "", "_", "").Replace(normalized)

	switch DigestAlgorithm(normalized) {
	case DigestSHA256:
		return DigestSHA256, nil
	case DigestSHA512:
		return DigestSHA512, nil
	default:
		return "", fmt.Errorf("%q: %w", name, ErrUnknownAlgorithm)
	}
}

// String returns the canonical algorithm name.
func (a DigestAlgorithm) String() string {
	return string(a)
}

// Hash maps the algorithm to its crypto.Hash.
func (a DigestAlgorithm) Hash() crypto.Hash {
	switch a {
	case DigestSHA512:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

// HexLength is the length of a hex-encoded digest.
func (a DigestAlgorithm) HexLength() int {
	return a.Hash().Size() * 2
}

// ValidateDigest checks that digest is hex of exactly the algorithm's length.
func (a DigestAlgorithm) ValidateDigest(digest string) error {
	if len(digest) != a.HexLength() {
		return fmt.Errorf("%s digest must have %d hex characters, got %d: %w",
			a, a.HexLength(), len(digest), ErrInvalidDigest)
	}

	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("%s digest is not hex: %w", a, ErrInvalidDigest)
	}

	return nil
}
