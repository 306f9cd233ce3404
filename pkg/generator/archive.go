package generator

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"time"
)

// archiveTime is stamped on every entry so identical projects zip to identical bytes.
var archiveTime = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// WriteArchive writes files as a zip archive with entries sorted by path.
func WriteArchive(w io.Writer, files []File) error {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	zw := zip.NewWriter(w)
	for _, f := range sorted {
		hdr := &zip.FileHeader{
			Name:     f.Path,
			Method:   zip.Deflate,
			Modified: archiveTime,
		}
		hdr.SetMode(0o644)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", f.Path, err)
		}
		if _, err = fw.Write(f.Content); err != nil {
			return fmt.Errorf("failed to write %s to archive: %w", f.Path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}
