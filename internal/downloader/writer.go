package downloader

import (
	"fmt"
	"io"
	"os"

	"github.com/larkpull/larkpull/internal/domain"
)

// writeAtomic streams body into path through a .part temp file and renames
// it into place only after the full body arrived, so a partial write never
// appears at the final path. Re-running over an existing file truncates the
// temp and replaces the final atomically, leaving byte-identical content.
func writeAtomic(path string, body io.Reader) (int64, error) {
	partPath := path + ".part"

	f, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}

	written, err := copyStream(f, body)
	if err != nil {
		f.Close()
		os.Remove(partPath)
		return 0, err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(partPath)
		return 0, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}

	if err := os.Rename(partPath, path); err != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}

	return written, nil
}

// copyStream copies body to the file while keeping read failures (the
// network side) distinguishable from write failures (the disk side).
func copyStream(dst *os.File, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("%w: %v", domain.ErrIO, werr)
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("%w: %v", domain.ErrNetwork, rerr)
		}
	}
}
