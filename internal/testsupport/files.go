package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// MP4Header is the start of an ISO base media file; content sniffing reports
// it as video/mp4.
const MP4Header = "\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2"

// MP3Fixture returns a minimal MP3: an empty ID3v2.4 header followed by one
// MPEG-1 Layer III frame header.
func MP3Fixture() []byte {
	return []byte("ID3\x04\x00\x00\x00\x00\x00\x00\xff\xfb\x90\x00\x00\x00\x00\x00")
}

// VideoFixture returns bytes that sniff as video/mp4, padded to size.
func VideoFixture(size int) []byte {
	data := []byte(MP4Header)
	for len(data) < size {
		data = append(data, 0x42)
	}
	return data
}

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// WriteVideo writes VideoFixture(size) to path.
func WriteVideo(t testing.TB, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, VideoFixture(size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
