// Package logging configures slog for correl8.
//
// Logs are JSON lines written to ~/.correl8/logs/correl8.log through a
// size-rotating writer. The CLI mirrors them to stderr unless it is serving
// MCP over stdio, where stderr and stdout stay silent.
package logging
