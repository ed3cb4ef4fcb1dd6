// Package services defines shared utilities consumed by the pipeline stages
// and the remote integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that tag failures with the
//     stage that produced them (engine load, conversion, upload, transcription,
//     cancellation).
//   - Details, which flattens a wrapped failure into the fields the status
//     machine and the loggers report.
package services
