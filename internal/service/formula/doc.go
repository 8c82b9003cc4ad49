// Package formula generates a Homebrew formula for a published agent release.
//
// Run downloads the artifact, computes its digests, renders the formula into
// <output-dir>/<name>.rb and optionally records the release in a catalog.
package formula
