// Package upload sends converted audio to the remote storage endpoint and
// requests its transcription.
//
// The two calls are dependent: RequestTranscription needs the Session that
// only a successful Upload produces. Failures are reported with distinct
// markers (services.ErrUpload and services.ErrTranscription) so callers can
// tell which stage failed. Nothing is rolled back; audio stored by a
// successful upload stays on the server when transcription fails.
package upload
