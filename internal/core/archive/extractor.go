// Package archive walks uploaded ZIP/RAR containers and yields one ingestion
// candidate per valid entry. Directories, hidden files, macOS resource forks
// and unsupported extensions are filtered out before the pipeline sees them.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/nwaples/rardecode"
	"github.com/yeka/zip"
)

var (
	ErrNoValidEntries     = errors.New("archive contains no ingestible entries")
	ErrUnsupportedArchive = errors.New("unsupported archive format")
)

// Entry is one extracted archive member.
type Entry struct {
	Name string
	Data []byte
}

// supportedExts is the set of ingestible report formats: images and PDF.
var supportedExts = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// IsArchive reports whether fileName looks like a container we can open.
func IsArchive(fileName string) bool {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".zip", ".rar":
		return true
	}
	return false
}

// MimeForName maps an entry name to its content type, or "" when the
// extension is not ingestible.
func MimeForName(name string) string {
	return supportedExts[strings.ToLower(path.Ext(name))]
}

// ValidEntryName applies the filter rules to an archive member name.
func ValidEntryName(name string) bool {
	clean := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(clean, "__MACOSX/") || strings.Contains(clean, "/__MACOSX/") {
		return false
	}
	base := path.Base(clean)
	if base == "" || strings.HasPrefix(base, ".") || strings.HasPrefix(base, "._") {
		return false
	}
	return MimeForName(base) != ""
}

// Extract enumerates the valid entries of an archive, in container order.
// ErrNoValidEntries is returned when the archive opened fine but nothing
// in it is ingestible.
func Extract(data []byte, fileName string) ([]Entry, error) {
	var (
		entries []Entry
		err     error
	)
	switch strings.ToLower(path.Ext(fileName)) {
	case ".zip":
		entries, err = extractZip(data)
	case ".rar":
		entries, err = extractRar(data)
	default:
		return nil, ErrUnsupportedArchive
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoValidEntries
	}
	return entries, nil
}

func extractZip(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	var entries []Entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !ValidEntryName(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %q: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read zip entry %q: %w", f.Name, err)
		}
		entries = append(entries, Entry{Name: path.Base(f.Name), Data: content})
	}
	return entries, nil
}

func extractRar(data []byte) ([]Entry, error) {
	rr, err := rardecode.NewReader(bytes.NewReader(data), "")
	if err != nil {
		return nil, fmt.Errorf("open rar: %w", err)
	}

	var entries []Entry
	for {
		hdr, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rar header: %w", err)
		}
		if hdr.IsDir || !ValidEntryName(hdr.Name) {
			continue
		}
		content, err := io.ReadAll(rr)
		if err != nil {
			return nil, fmt.Errorf("read rar entry %q: %w", hdr.Name, err)
		}
		entries = append(entries, Entry{Name: path.Base(hdr.Name), Data: content})
	}
	return entries, nil
}
