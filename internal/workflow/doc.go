// Package workflow drives one submission from a selected video to a
// transcription request.
//
// A Session holds the selected file and the status machine. Submit (or Start
// for the asynchronous form) warms the engine, converts the video to MP3,
// uploads the audio, requests the transcription and finally resolves the
// run's notifier with the server-assigned id. Every stage failure lands in
// the error state with the failing stage; cancellation lands in cancelled.
//
// Selecting a new file supersedes any in-flight run: the old run is
// cancelled and can no longer write to the status machine. Nothing done by a
// failed run is rolled back.
package workflow
