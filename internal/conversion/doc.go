// Package conversion derives the compressed audio track from a selected
// video on the local engine. Every conversion produces a 20 kbit/s MP3
// (libmp3lame) of the first audio stream, with video discarded.
package conversion
