// Package logging assembles the structured slog loggers used by hush.
//
// Console output uses a compact human-readable handler; the persistent log
// file always receives JSON so runs can be inspected after the fact. Helpers
// in this package tag log lines with the job ID, stage and correlation ID
// carried on the context, and enforce the event_type/error_hint/impact shape
// for warnings and errors.
package logging
