// Package engine owns the local codec engine: the ffmpeg and ffprobe
// binaries, a private workspace, and a single worker goroutine that runs
// jobs one at a time in submission order.
//
// Client.Acquire resolves and verifies the binaries on first use and caches
// the resulting Instance for the life of the process. Instance.Run hands a
// JobFunc to the worker; each job gets its own directory that is removed
// when the job returns.
package engine
