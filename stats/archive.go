package stats

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArchiveFile moves a processed snapshot into the archive directory and
// returns its new path. An existing file with the same name gets a
// nanosecond suffix instead of being overwritten; snapshots are immutable.
func ArchiveFile(srcPath string, archiveDir string) (string, error) {
	if strings.TrimSpace(archiveDir) == "" {
		return "", fmt.Errorf("archiveDir is empty")
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}

	base := filepath.Base(srcPath)
	dstPath := filepath.Join(archiveDir, base)
	if _, err := os.Stat(dstPath); err == nil {
		ext := filepath.Ext(base)
		name := strings.TrimSuffix(base, ext)
		dstPath = filepath.Join(archiveDir, fmt.Sprintf("%s-%d%s", name, time.Now().UnixNano(), ext))
	}

	if err := os.Rename(srcPath, dstPath); err == nil {
		return dstPath, nil
	}

	// Rename fails across devices; fall back to copy + remove.
	in, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dstPath)
		return "", copyErr
	}
	if closeErr != nil {
		_ = os.Remove(dstPath)
		return "", closeErr
	}
	if err := os.Remove(srcPath); err != nil {
		return "", err
	}
	return dstPath, nil
}
