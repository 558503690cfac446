// Package preflight provides the readiness checks run before every
// enhancement job and shown by "hush status".
//
// A job only starts when the required tools resolve on PATH, the staging
// directory is readable and writable, and its filesystem has room for the
// intermediate WAV files the input will expand into.
package preflight
