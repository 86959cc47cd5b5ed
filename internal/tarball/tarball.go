// Package tarball extracts gzipped ustar archives (the wire format of npm
// registry tarballs) into a flat list of entries, stripping the
// conventional leading "package/" path component.
package tarball

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// EntryType distinguishes the two node kinds the extractor emits.
// The ustar format has more typeflags (symlinks, hardlinks, …); nodepack's
// VFS models neither, so anything other than a regular file or directory
// is skipped (see Extract).
type EntryType int

const (
	TypeFile EntryType = iota
	TypeDirectory
)

// Entry is one extracted tar member.
type Entry struct {
	CleanPath string
	Data      []byte
	Mode      uint32
	Type      EntryType
}

// MalformedArchiveError wraps a gzip or ustar parsing failure.
type MalformedArchiveError struct {
	Reason string
	Err    error
}

func (e *MalformedArchiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tarball: malformed archive (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("tarball: malformed archive: %s", e.Reason)
}

func (e *MalformedArchiveError) Unwrap() error { return e.Err }

const blockSize = 512

// Extract gunzips gzipped and walks the resulting ustar stream, returning
// one Entry per file or directory header. Any leading "package/" path
// segment is stripped from CleanPath, matching the npm tarball convention
// where every member is nested under a "package/" directory.
func Extract(gzipped []byte) ([]Entry, error) {
	gr, err := gzip.NewReader(bytes.NewReader(gzipped))
	if err != nil {
		return nil, &MalformedArchiveError{Reason: "gunzip", Err: err}
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, &MalformedArchiveError{Reason: "gunzip", Err: err}
	}

	var entries []Entry
	offset := 0
	zeroBlocksSeen := 0

	for offset+blockSize <= len(raw) {
		header := raw[offset : offset+blockSize]
		offset += blockSize

		if isAllZero(header) {
			zeroBlocksSeen++
			// Two consecutive all-zero blocks mark the end of the archive.
			if zeroBlocksSeen >= 2 {
				break
			}
			continue
		}
		zeroBlocksSeen = 0

		name := cstring(header[0:100])
		modeStr := cstring(header[100:108])
		sizeStr := cstring(header[124:136])
		typeflag := header[156]

		mode, err := parseOctal(modeStr)
		if err != nil {
			return nil, &MalformedArchiveError{Reason: "header mode", Err: err}
		}
		size, err := parseOctal(sizeStr)
		if err != nil {
			return nil, &MalformedArchiveError{Reason: "header size", Err: err}
		}

		if offset+int(size) > len(raw) {
			return nil, &MalformedArchiveError{Reason: "truncated content", Err: io.ErrUnexpectedEOF}
		}
		content := raw[offset : offset+int(size)]
		offset += int(size)
		// Round up to the next 512-byte boundary.
		if rem := int(size) % blockSize; rem != 0 {
			offset += blockSize - rem
		}

		clean := stripPackagePrefix(name)
		if clean == "" {
			continue
		}

		switch typeflag {
		case '5': // directory
			entries = append(entries, Entry{CleanPath: clean, Mode: uint32(mode), Type: TypeDirectory})
		case '0', 0: // regular file (some writers leave typeflag nul)
			data := make([]byte, len(content))
			copy(data, content)
			entries = append(entries, Entry{CleanPath: clean, Data: data, Mode: uint32(mode), Type: TypeFile})
		default:
			// Symlinks, hardlinks, etc. are not modeled by the VFS; skip.
		}
	}

	return entries, nil
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func parseOctal(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 8, 64)
}

// stripPackagePrefix removes one leading "package/" path component, the
// convention every npm registry tarball uses for its single top-level
// directory.
func stripPackagePrefix(name string) string {
	name = strings.TrimPrefix(name, "./")
	const prefix = "package/"
	if strings.HasPrefix(name, prefix) {
		return strings.TrimPrefix(name, prefix)
	}
	return name
}
