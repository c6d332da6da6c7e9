// Package manuscript inspects local files before they are uploaded. Anything
// the backend would reject on shape alone (unknown extension, empty file,
// oversize file, unreadable PDF) is caught here without a network round-trip.
package manuscript

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Sentinel errors for inspection failures. Use errors.Is to check.
var (
	ErrUnsupportedType = errors.New("manuscript: unsupported file type")
	ErrEmptyFile       = errors.New("manuscript: file is empty")
	ErrTooLarge        = errors.New("manuscript: file exceeds size limit")
	ErrUnreadablePDF   = errors.New("manuscript: PDF cannot be read")
	ErrNoPages         = errors.New("manuscript: PDF has no pages")
	ErrNotRegularFile  = errors.New("manuscript: not a regular file")
)

// Kind selects which extension set applies.
type Kind int

const (
	// KindManuscript is a document submitted for evaluation.
	KindManuscript Kind = iota
	// KindTemplate is a spreadsheet of custom evaluation criteria.
	KindTemplate
)

var allowedExtensions = map[Kind]map[string]string{
	KindManuscript: {
		".pdf":  "application/pdf",
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		".doc":  "application/msword",
		".txt":  "text/plain",
	},
	KindTemplate: {
		".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		".xls":  "application/vnd.ms-excel",
		".csv":  "text/csv",
	},
}

func (k Kind) String() string {
	if k == KindTemplate {
		return "template"
	}

	return "manuscript"
}

// AllowedExtensions returns the sorted extensions accepted for kind.
func AllowedExtensions(k Kind) []string {
	switch k {
	case KindTemplate:
		return []string{".csv", ".xls", ".xlsx"}
	default:
		return []string{".doc", ".docx", ".pdf", ".txt"}
	}
}

// Info describes an inspected file.
type Info struct {
	Path        string
	Name        string
	Ext         string
	ContentType string
	Size        int64
	Pages       int // zero for non-PDF files
}

// Inspect validates the file at path for kind. maxSize <= 0 disables the size
// check.
func Inspect(path string, kind Kind, maxSize int64) (*Info, error) {
	ext := strings.ToLower(filepath.Ext(path))

	contentType, ok := allowedExtensions[kind][ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q (allowed for %s: %s)",
			ErrUnsupportedType, ext, kind, strings.Join(AllowedExtensions(kind), ", "))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manuscript: opening %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("manuscript: stat %s: %w", path, err)
	}

	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	if st.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	if maxSize > 0 && st.Size() > maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrTooLarge, path, st.Size(), maxSize)
	}

	info := &Info{
		Path:        path,
		Name:        filepath.Base(path),
		Ext:         ext,
		ContentType: contentType,
		Size:        st.Size(),
	}

	if ext == ".pdf" {
		pages, pdfErr := CountPages(f, st.Size())
		if pdfErr != nil {
			return nil, pdfErr
		}

		info.Pages = pages
	}

	return info, nil
}

// CountPages parses a PDF and returns its page count.
func CountPages(r io.ReaderAt, size int64) (pages int, err error) {
	// The PDF reader panics on some malformed cross-reference tables.
	defer func() {
		if rec := recover(); rec != nil {
			pages = 0
			err = fmt.Errorf("%w: %v", ErrUnreadablePDF, rec)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnreadablePDF, err)
	}

	n := reader.NumPage()
	if n < 1 {
		return 0, ErrNoPages
	}

	return n, nil
}

// ContentTypeFor returns the MIME type to declare for a file name, falling
// back to the platform registry and finally to application/octet-stream.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))

	for _, set := range allowedExtensions {
		if ct, ok := set[ext]; ok {
			return ct
		}
	}

	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}

	return "application/octet-stream"
}

// IsPDF reports whether data starts with the PDF magic header.
func IsPDF(data []byte) bool {
	return len(data) >= 5 && string(data[:5]) == "%PDF-"
}
