// Package installer installs one prebuilt agent release into a binary directory.
//
// An install fetches the artifact, verifies its digest, stages it next to the
// final path, publishes it with a single rename, applies platform remediation
// and smoke-tests the result with --version. Failures stop the pipeline at the
// stage that failed and are reported in an InstallResult.
package installer
