// Package logging builds slog loggers for the daemon and CLI, with a
// human-oriented console handler and a JSON handler for ingestion.
package logging
