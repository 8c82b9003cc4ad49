// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - an optional rotating log file (lumberjack) teed with the console,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and convenience functions (Infof, ErrorKV, etc.).
//
// Installer stages accept a context and log through the logger it carries,
// so every line of one install is tagged with the release being installed.
package logger
