// Package release contains the domain types of the installer.
//
// Spec describes one published version of the agent (name, version, URL,
// expected digest, installed file name). Descriptor adds the install-time
// inputs: target directory and the token the smoke test looks for.
// Channels ("stable", "beta", "alpha") are derived from semantic-version
// pre-release suffixes rather than stored.
package release
