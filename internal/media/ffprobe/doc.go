// Package ffprobe provides a typed view of ffprobe JSON output.
//
// Args builds the command line and Parse decodes what it prints; running the
// command is left to the caller so it can go through the engine's worker.
// Helper methods on Result expose stream counts, the primary audio stream and
// the duration used to scale conversion progress.
package ffprobe
