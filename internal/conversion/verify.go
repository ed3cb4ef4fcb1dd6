package conversion

import (
	"bytes"

	"github.com/dhowden/tag"
)

// IsMP3 reports whether data looks like an MP3 stream: either tag
// identification says so or the data opens on an MPEG audio frame sync.
func IsMP3(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if _, fileType, err := tag.Identify(bytes.NewReader(data)); err == nil {
		return fileType == tag.MP3
	}
	return data[0] == 0xFF && data[1]&0xE0 == 0xE0
}
