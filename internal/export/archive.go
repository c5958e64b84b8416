package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

// Archive accumulates rendered PDFs in memory and produces a single zip.
// Not safe for concurrent use; the handler adds documents from one
// goroutine after each chunk settles.
type Archive struct {
	buf    bytes.Buffer
	writer *zip.Writer
	names  map[string]int
	count  int
}

// NewArchive creates an empty in-memory archive.
func NewArchive() *Archive {
	a := &Archive{names: make(map[string]int)}
	a.writer = zip.NewWriter(&a.buf)
	return a
}

// Add appends one document under the given filename. Duplicate names get
// a numeric suffix so a repeated member never clobbers an earlier entry.
func (a *Archive) Add(filename string, pdf []byte) error {
	name := a.uniqueName(filename)

	w, err := a.writer.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}
	if _, err := w.Write(pdf); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", name, err)
	}

	a.count++
	return nil
}

// Count returns the number of documents added so far.
func (a *Archive) Count() int {
	return a.count
}

// Bytes finalizes the zip and returns its contents. The archive cannot be
// added to afterwards.
func (a *Archive) Bytes() ([]byte, error) {
	if err := a.writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return a.buf.Bytes(), nil
}

func (a *Archive) uniqueName(name string) string {
	n := a.names[name]
	a.names[name] = n + 1
	if n == 0 {
		return name
	}

	ext := ""
	base := name
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i:]
	}
	return fmt.Sprintf("%s_%d%s", base, n, ext)
}

// SanitizeFilename builds a zip entry name from an account number and
// display name, replacing anything that is not filesystem-friendly.
func SanitizeFilename(account, name string) string {
	clean := func(s string) string {
		var b strings.Builder
		for _, r := range s {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				b.WriteRune(r)
			case r == '-' || r == '_':
				b.WriteRune(r)
			case r == ' ':
				b.WriteRune('_')
			}
		}
		return b.String()
	}

	acct := clean(account)
	if acct == "" {
		acct = "unknown"
	}

	n := clean(name)
	if n == "" {
		return acct + ".pdf"
	}
	return acct + "_" + n + ".pdf"
}
