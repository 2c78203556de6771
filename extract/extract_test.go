package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/a-h/labreport"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

// buildPDF writes a minimal PDF with one page per entry of pages, using the
// standard Helvetica font. An empty entry produces a page without text.
func buildPDF(pages []string) []byte {
	var objects []string
	pageCount := len(pages)
	fontID := 3 + 2*pageCount
	kids := make([]string, pageCount)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	objects = append(objects, "<< /Type /Catalog /Pages 2 0 R >>")
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pageCount))
	for i, text := range pages {
		pageID := 3 + 2*i
		objects = append(objects, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontID, pageID+1))
		var content string
		if text != "" {
			content = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		}
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}
	objects = append(objects, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	buf := new(bytes.Buffer)
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func buildDOCX(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString("<w:p><w:r><w:t>")
		body.WriteString(p)
		body.WriteString("</w:t></w:r></w:p>")
	}
	document := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body.String() + `</w:body></w:document>`

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("failed to create zip entry: %v", err)
	}
	if _, err = io.WriteString(w, document); err != nil {
		t.Fatalf("failed to write zip entry: %v", err)
	}
	if err = zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		data     func(t *testing.T) []byte
		expected string
	}{
		{
			name:     "text files are returned verbatim",
			fileName: "manual.txt",
			data:     func(t *testing.T) []byte { return []byte("Aim: measure X.\n\nTheory: X = 2Y.\n") },
			expected: "Aim: measure X.\n\nTheory: X = 2Y.\n",
		},
		{
			name:     "extensions are matched case insensitively",
			fileName: "MANUAL.TXT",
			data:     func(t *testing.T) []byte { return []byte("Aim: measure X.") },
			expected: "Aim: measure X.",
		},
		{
			name:     "docx paragraphs are joined with newlines",
			fileName: "manual.docx",
			data:     func(t *testing.T) []byte { return buildDOCX(t, "Aim: measure X.", "Apparatus: ruler.") },
			expected: "Aim: measure X.\nApparatus: ruler.",
		},
		{
			name:     "pdf pages are joined with newlines",
			fileName: "manual.pdf",
			data:     func(t *testing.T) []byte { return buildPDF([]string{"Aim: measure X.", "Procedure: read the scale."}) },
			expected: "Aim: measure X.\nProcedure: read the scale.",
		},
		{
			name:     "pdf pages without text are skipped",
			fileName: "manual.pdf",
			data:     func(t *testing.T) []byte { return buildPDF([]string{"Aim: measure X.", "", "Conclusion."}) },
			expected: "Aim: measure X.\nConclusion.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.fileName, tt.data(t))
			actual, err := New(discard).Extract(context.Background(), path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if actual != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, actual)
			}
		})
	}
}

func TestExtractErrors(t *testing.T) {
	tests := []struct {
		name         string
		path         func(t *testing.T) string
		expectedKind labreport.Kind
	}{
		{
			name:         "unsupported extensions fail with UnsupportedFormat",
			path:         func(t *testing.T) string { return writeFile(t, "manual.odt", []byte("text")) },
			expectedKind: labreport.KindUnsupportedFormat,
		},
		{
			name:         "files without an extension are unsupported",
			path:         func(t *testing.T) string { return writeFile(t, "manual", []byte("text")) },
			expectedKind: labreport.KindUnsupportedFormat,
		},
		{
			name:         "missing files fail with ExtractionError",
			path:         func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.pdf") },
			expectedKind: labreport.KindExtraction,
		},
		{
			name:         "files that are not PDFs fail with ExtractionError",
			path:         func(t *testing.T) string { return writeFile(t, "manual.pdf", []byte(strings.Repeat("not a pdf ", 20))) },
			expectedKind: labreport.KindExtraction,
		},
		{
			name:         "files that are not zip containers fail with ExtractionError",
			path:         func(t *testing.T) string { return writeFile(t, "manual.docx", []byte("not a zip")) },
			expectedKind: labreport.KindExtraction,
		},
		{
			name:         "invalid UTF-8 text fails with ExtractionError",
			path:         func(t *testing.T) string { return writeFile(t, "manual.txt", []byte{0xff, 0xfe, 0xfd}) },
			expectedKind: labreport.KindExtraction,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(discard).Extract(context.Background(), tt.path(t))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if kind := labreport.KindOf(err); kind != tt.expectedKind {
				t.Errorf("expected kind %q, got %q (%v)", tt.expectedKind, kind, err)
			}
		})
	}
}

func TestUnsupportedFormatErrorCarriesExtension(t *testing.T) {
	path := writeFile(t, "manual.ODT", []byte("text"))
	_, err := New(discard).Extract(context.Background(), path)
	var ufe UnsupportedFormatError
	if !errors.As(err, &ufe) {
		t.Fatalf("expected UnsupportedFormatError, got %v", err)
	}
	if ufe.Ext != ".odt" {
		t.Errorf("expected extension %q, got %q", ".odt", ufe.Ext)
	}
}
