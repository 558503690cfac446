// Package services defines shared utilities consumed by the pipeline stages
// and the CLI.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that tag failures with the
//     stage that produced them (probe, encode, filter, combine, mux, metadata,
//     capacity) so the orchestrator and job history can classify them.
//
// Use these helpers when adding stage logic so error handling and
// observability stay uniform across the pipeline.
package services
