// Package toolrun executes the external media tools (ffmpeg, ffprobe,
// deepFilter, sox) behind the Runner capability so pipeline stages can be
// exercised with a fake in tests.
//
// The production ExecRunner captures stdout and stderr, enforces a per-call
// timeout, honours context cancellation, and retries process spawn failures
// such as ETXTBSY or EAGAIN with bounded exponential backoff. Non-zero exits
// and timeouts are never retried.
package toolrun
