// Package staging manages the per-job working directories that hold a job's
// intermediate artifacts.
//
// Each job owns a directory named job-<uuid> under the configured staging
// root. While the job runs it holds an advisory lock on a marker file inside
// that directory, which lets CleanStale and ListDirectories tell live jobs
// apart from directories abandoned by a crashed process.
package staging
