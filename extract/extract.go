// Package extract converts uploaded lab manuals into plain text.
package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/a-h/labreport"
	"github.com/ledongthuc/pdf"
	"github.com/tmc/langchaingo/documentloaders"
)

// SupportedExtensions lists the extensions Extract accepts, lowercased.
var SupportedExtensions = []string{".pdf", ".docx", ".txt"}

type UnsupportedFormatError struct {
	Ext string
}

func (e UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format: %q", e.Ext)
}

func (e UnsupportedFormatError) Is(target error) bool {
	return target == labreport.ErrUnsupportedFormat
}

func New(log *slog.Logger) Extractor {
	return Extractor{
		log: log,
	}
}

type Extractor struct {
	log *slog.Logger
}

// Extract reads the file at path and returns its text, choosing the reader by
// the file's lowercased extension.
func (e Extractor) Extract(ctx context.Context, path string) (text string, err error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return e.pdf(path)
	case ".docx":
		return e.docx(path)
	case ".txt":
		return e.txt(ctx, path)
	}
	return "", UnsupportedFormatError{Ext: ext}
}

func (e Extractor) pdf(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open PDF: %w", labreport.ErrExtraction, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: failed to stat PDF: %w", labreport.ErrExtraction, err)
	}
	r, err := newPDFReader(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("%w: failed to read PDF: %w", labreport.ErrExtraction, err)
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		text, err := pageText(r, i)
		if err != nil {
			e.log.Warn("skipping unreadable PDF page", slog.Int("page", i), slog.Any("error", err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}

// newPDFReader recovers from parser panics on badly damaged files.
func newPDFReader(f io.ReaderAt, size int64) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed PDF: %v", p)
		}
	}()
	return pdf.NewReader(f, size)
}

func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed page: %v", p)
		}
	}()
	page := r.Page(num)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func (e Extractor) docx(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open DOCX: %w", labreport.ErrExtraction, err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("%w: failed to open DOCX body: %w", labreport.ErrExtraction, err)
		}
		defer rc.Close()
		paragraphs, err := docxParagraphs(rc)
		if err != nil {
			return "", fmt.Errorf("%w: failed to parse DOCX body: %w", labreport.ErrExtraction, err)
		}
		return strings.Join(paragraphs, "\n"), nil
	}
	return "", fmt.Errorf("%w: DOCX has no word/document.xml", labreport.ErrExtraction)
}

// docxParagraphs returns the text of each w:p element, in document order.
func docxParagraphs(r io.Reader) (paragraphs []string, err error) {
	const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	var depth int
	var inText bool
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch tok := tok.(type) {
		case xml.StartElement:
			if tok.Name.Space != wordNS {
				continue
			}
			switch tok.Name.Local {
			case "p":
				if depth == 0 {
					sb.Reset()
				}
				depth++
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			if tok.Name.Space != wordNS {
				continue
			}
			switch tok.Name.Local {
			case "p":
				depth--
				if depth == 0 {
					paragraphs = append(paragraphs, sb.String())
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText && depth > 0 {
				sb.Write(tok)
			}
		}
	}
	return paragraphs, nil
}

func (e Extractor) txt(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open text file: %w", labreport.ErrExtraction, err)
	}
	defer f.Close()
	docs, err := documentloaders.NewText(f).Load(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read text file: %w", labreport.ErrExtraction, err)
	}
	var sb strings.Builder
	for _, doc := range docs {
		sb.WriteString(doc.PageContent)
	}
	text := sb.String()
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: text file is not valid UTF-8", labreport.ErrExtraction)
	}
	return text, nil
}
