// Package enhance runs the audio enhancement pipeline for a single media file.
//
// A job probes the input, converts its first audio stream to canonical mono
// PCM, splits it into fixed-length segments, runs the suppression tool over
// every segment in one batch, concatenates the filtered segments in ordinal
// order, applies a peak-limited gain, and rebuilds a file in the original
// container. Video streams are stream-copied. Allow-listed container tags are
// restored last, then the result atomically replaces the input (or lands next
// to it in sibling mode).
//
// Every intermediate file lives in a per-job working directory under the
// staging root and is recorded in the job's Manifest. The manifest and the
// working directory are released on every exit path, so the input is only
// ever touched by the final rename.
package enhance
