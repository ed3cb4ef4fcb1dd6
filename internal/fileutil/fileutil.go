package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic streams r into a temp file beside dst, applies mode, and renames
// it over dst. It returns the byte count and the hex SHA256 of what was
// written. dst is untouched when any step fails.
func WriteAtomic(dst string, r io.Reader, mode os.FileMode) (int64, string, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*")
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		return written, "", err
	}
	if err := tmp.Chmod(mode); err != nil {
		return written, "", fmt.Errorf("chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return written, "", err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return written, "", fmt.Errorf("rename into place: %w", err)
	}
	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}
