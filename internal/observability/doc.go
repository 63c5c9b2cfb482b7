// Package observability records filter session events as JSON Lines,
// derives session metrics and health alerts from them, and builds the
// diagnostic slog logger.
package observability
