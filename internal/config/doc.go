// Package config defines installer settings and provides helpers to load,
// validate and save them in YAML format.
//
// Settings are process-wide: the install directory, the digest algorithm
// expected digests are computed with, network and command timeouts, retry
// bounds and logging options. They are read once at startup.
package config
