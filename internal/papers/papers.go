// Package papers holds helpers for paper documents: deriving PDF links from
// search results and inspecting downloaded PDFs.
package papers

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFURL converts a result's download_url into a direct PDF link by
// replacing "/abs/" with "/pdf/" and appending ".pdf". URLs that already end
// in ".pdf" are returned unchanged.
func PDFURL(downloadURL string) string {
	if downloadURL == "" {
		return ""
	}
	if strings.HasSuffix(strings.ToLower(downloadURL), ".pdf") {
		return downloadURL
	}
	return strings.Replace(downloadURL, "/abs/", "/pdf/", 1) + ".pdf"
}

// IsPDF reports whether data starts with the PDF magic header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// PageCount returns the number of pages in a PDF document.
func PageCount(data []byte) (n int, err error) {
	defer recoverParse(&err)
	r, err := open(data)
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

// ExtractText returns the plain text of a PDF, truncated to maxBytes when
// maxBytes > 0.
func ExtractText(data []byte, maxBytes int64) (text string, err error) {
	defer recoverParse(&err)
	r, err := open(data)
	if err != nil {
		return "", err
	}
	textReader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	if maxBytes > 0 {
		textReader = io.LimitReader(textReader, maxBytes)
	}
	b, err := io.ReadAll(textReader)
	if err != nil {
		return "", fmt.Errorf("reading text: %w", err)
	}
	return string(b), nil
}

func open(data []byte) (*pdf.Reader, error) {
	if !IsPDF(data) {
		return nil, fmt.Errorf("not a PDF document")
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing pdf: %w", err)
	}
	return r, nil
}

// recoverParse turns a parser panic into an error. The pdf package panics on
// some malformed inputs instead of returning one.
func recoverParse(err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("parsing pdf: %v", p)
	}
}
