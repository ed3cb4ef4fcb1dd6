// Package textutil provides filename and token sanitization for names that
// leave the process: staged engine artifacts and multipart upload filenames.
package textutil
