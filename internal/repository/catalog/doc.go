// Package catalog implements persistence for the list of published agent releases.
//
// The FileRepository stores and loads the catalog as YAML on disk. Every
// published version is one entry; channels and the newest release of a
// channel are derived from semantic versions rather than kept per file.
package catalog
