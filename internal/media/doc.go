// Package media holds the in-memory file values that flow through the
// pipeline: the selected video (File) and the converted audio (AudioFile).
//
// Both are immutable once constructed. Open and FromUpload build a File from
// disk or from a multipart upload and record its MIME type, sniffing the
// content when the caller does not declare one.
package media
