package installer

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/oshokin/cruma-installer/internal/domain/release"
)

// DigestVerifier checks artifacts against expected hex digests using one fixed algorithm.
type DigestVerifier struct {
	algorithm release.DigestAlgorithm
}

// NewDigestVerifier returns a verifier for the given algorithm.
func NewDigestVerifier(algorithm release.DigestAlgorithm) *DigestVerifier {
	return &DigestVerifier{algorithm: algorithm}
}

// Algorithm returns the algorithm digests are computed with.
func (v *DigestVerifier) Algorithm() release.DigestAlgorithm {
	return v.algorithm
}

// Sum returns the lowercase hex digest of data.
func (v *DigestVerifier) Sum(data []byte) string {
	hasher := v.algorithm.Hash().New()
	// hash.Hash.Write never returns an error.
	_, _ = hasher.Write(data)

	return hex.EncodeToString(hasher.Sum(nil))
}

// Verify compares the digest of data with expectedHex.
// Hex case is ignored; the expected digest must have the algorithm's full length.
func (v *DigestVerifier) Verify(data []byte, expectedHex string) error {
	expected := strings.ToLower(strings.TrimSpace(expectedHex))
	if err := v.algorithm.ValidateDigest(expected); err != nil {
		return fmt.Errorf("expected digest: %w", err)
	}

	actual := v.Sum(data)
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return &IntegrityError{
			Algorithm: v.algorithm.String(),
			Expected:  expected,
			Actual:    actual,
		}
	}

	return nil
}
