package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"uploadai/internal/services"
	"uploadai/internal/textutil"
)

// AudioMIMEType is the declared type of every converted audio file.
const AudioMIMEType = "audio/mpeg"

// File is a selected input: raw bytes, declared MIME type and display name.
// The byte slice is owned by the File and must not be modified.
type File struct {
	name     string
	mimeType string
	data     []byte
}

// NewFile wraps data as a File. It takes ownership of data. An empty
// mimeType is filled in by content sniffing.
func NewFile(name, mimeType string, data []byte) (File, error) {
	if len(data) == 0 {
		return File{}, services.Wrap(services.ErrValidation, "select", "read", "file is empty", nil)
	}
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "input"
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}
	return File{name: name, mimeType: mimeType, data: data}, nil
}

// Open reads path into a File.
func Open(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, services.Wrap(services.ErrValidation, "select", "read", fmt.Sprintf("open %s", path), err)
	}
	return NewFile(filepath.Base(path), "", data)
}

// FromUpload reads at most limit bytes from r. Bodies larger than limit are
// rejected rather than truncated.
func FromUpload(name, declaredType string, r io.Reader, limit int64) (File, error) {
	if limit <= 0 {
		return File{}, services.Wrap(services.ErrConfiguration, "select", "read", "upload limit must be positive", nil)
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return File{}, services.Wrap(services.ErrValidation, "select", "read", "read upload", err)
	}
	if n > limit {
		return File{}, services.Wrap(services.ErrValidation, "select", "read", fmt.Sprintf("file exceeds %d bytes", limit), nil)
	}
	return NewFile(name, declaredType, buf.Bytes())
}

// Name returns the display name.
func (f File) Name() string { return f.name }

// MIMEType returns the declared (or sniffed) MIME type.
func (f File) MIMEType() string { return f.mimeType }

// Size returns the byte length.
func (f File) Size() int64 { return int64(len(f.data)) }

// Bytes exposes the file contents. Callers must not modify the result.
func (f File) Bytes() []byte { return f.data }

// Reader returns a fresh reader over the contents.
func (f File) Reader() io.Reader { return bytes.NewReader(f.data) }

// IsZero reports whether f holds no file.
func (f File) IsZero() bool { return len(f.data) == 0 }

// IsVideo reports whether the MIME type is in the video/* family. Selection
// treats this as advisory; files outside it are still converted.
func (f File) IsVideo() bool {
	return strings.HasPrefix(strings.ToLower(f.mimeType), "video/")
}

// Extension returns the lowercase extension used when staging the file,
// derived from the name first and the MIME type second.
func (f File) Extension() string {
	if ext := strings.ToLower(filepath.Ext(f.name)); ext != "" && len(ext) <= 6 {
		return textutil.SanitizeFileName(ext)
	}
	if m := mimetype.Lookup(baseMIME(f.mimeType)); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".bin"
}

// Stem returns the sanitized display name without its extension.
func (f File) Stem() string {
	stem := strings.TrimSuffix(f.name, filepath.Ext(f.name))
	if stem = textutil.SanitizeFileName(stem); stem == "" {
		return "audio"
	}
	return stem
}

func baseMIME(value string) string {
	if idx := strings.IndexByte(value, ';'); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

// AudioFile is the converted audio track, always declared as audio/mpeg.
type AudioFile struct {
	name string
	data []byte
}

// NewAudioFile wraps converted bytes. It takes ownership of data.
func NewAudioFile(name string, data []byte) AudioFile {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "output.mp3"
	}
	return AudioFile{name: name, data: data}
}

// AudioFileFor names the converted audio after the source video.
func AudioFileFor(source File, data []byte) AudioFile {
	return NewAudioFile(source.Stem()+".mp3", data)
}

// Name returns the upload filename.
func (a AudioFile) Name() string { return a.name }

// MIMEType always returns AudioMIMEType.
func (a AudioFile) MIMEType() string { return AudioMIMEType }

// Size returns the byte length.
func (a AudioFile) Size() int64 { return int64(len(a.data)) }

// Bytes exposes the audio contents. Callers must not modify the result.
func (a AudioFile) Bytes() []byte { return a.data }

// Reader returns a fresh reader over the contents.
func (a AudioFile) Reader() io.Reader { return bytes.NewReader(a.data) }
