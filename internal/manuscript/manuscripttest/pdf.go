// Package manuscripttest builds small, structurally valid PDF documents for
// tests in packages that upload or download PDFs.
package manuscripttest

import (
	"bytes"
	"fmt"
	"strings"
)

// PDF returns a valid PDF with the given number of blank pages. When padTo is
// larger than the natural size, a comment block is inserted before the
// cross-reference table so the document reaches roughly padTo bytes.
func PDF(pages, padTo int) []byte {
	if pages < 1 {
		pages = 1
	}

	var buf bytes.Buffer

	offsets := make([]int, 0, pages+2)

	buf.WriteString("%PDF-1.4\n")

	writeObj := func(num int, body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, pages)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}

	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))

	for i := range pages {
		writeObj(i+3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	if pad := padTo - buf.Len() - 256; pad > 0 {
		line := "%" + strings.Repeat("x", 78) + "\n"
		for pad > 0 {
			buf.WriteString(line)
			pad -= len(line)
		}
	}

	xrefOffset := buf.Len()
	total := len(offsets) + 1

	fmt.Fprintf(&buf, "xref\n0 %d\n", total)
	buf.WriteString("0000000000 65535 f \n")

	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}

	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", total, xrefOffset)

	return buf.Bytes()
}
