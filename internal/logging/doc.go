// Package logging provides structured, rotating file logging for the storage and
// retrieval engine, built on log/slog. Logs are written to ~/.amanmcp/logs/server.log
// by default, with an optional stderr mirror for interactive use.
package logging
