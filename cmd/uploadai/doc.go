// Command uploadai converts a local video to a small MP3, uploads it to the
// transcription service and requests a transcription.
//
// "uploadai run" performs one submission from the terminal; "uploadai serve"
// exposes the same session over a local HTTP control server. "uploadai
// doctor" checks the engine binaries, workspace and remote API before a run.
package main
