// Package loader extracts per-page text from PDF uploads.
package loader

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/kalambet/docmind/internal/document"
)

var pdfMagic = []byte("%PDF-")

func init() {
	// pdfcpu would otherwise create a config directory under the user's home.
	api.DisableConfigDir()
}

// Result is the text content of a loaded document.
type Result struct {
	Pages     []document.Page
	PageCount int
}

// WordCount returns the number of whitespace separated words across pages.
func (r Result) WordCount() int {
	n := 0
	for _, p := range r.Pages {
		n += len(strings.Fields(p.Text))
	}
	return n
}

// PDFLoader validates and parses PDF bytes.
type PDFLoader struct {
	// Validate runs pdfcpu structural validation before text extraction.
	Validate bool
	logger   *slog.Logger
}

// New returns a PDFLoader with structural validation enabled.
func New() *PDFLoader {
	return &PDFLoader{Validate: true, logger: slog.Default().With("component", "loader")}
}

// Load returns the pages of the PDF in data, in document order. Pages whose
// text cannot be extracted are kept with empty text and Failed set.
func (l *PDFLoader) Load(data []byte) (res Result, err error) {
	// Both pdfcpu and ledongthuc/pdf panic on some truncated inputs.
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("%w: parser panic: %v", document.ErrCorruptDocument, r)
		}
	}()

	if !bytes.HasPrefix(data, pdfMagic) {
		return Result{}, fmt.Errorf("%w: missing %%PDF- header", document.ErrUnsupportedFormat)
	}

	if l.Validate {
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		if err := api.Validate(bytes.NewReader(data), conf); err != nil {
			return Result{}, fmt.Errorf("%w: validating structure: %v", document.ErrCorruptDocument, err)
		}
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: opening pdf: %v", document.ErrCorruptDocument, err)
	}

	n := reader.NumPage()
	if n == 0 {
		return Result{}, fmt.Errorf("%w: document has no pages", document.ErrEmptyInput)
	}

	pages := make([]document.Page, 0, n)
	for i := 1; i <= n; i++ {
		text, err := pageText(reader, i)
		if err != nil {
			l.logger.Warn("page text extraction failed", "page", i, "error", err)
			pages = append(pages, document.Page{Index: i - 1, Failed: true})
			continue
		}
		pages = append(pages, document.Page{Index: i - 1, Text: text})
	}

	return Result{Pages: pages, PageCount: n}, nil
}

func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: %v", num, rec)
		}
	}()

	page := r.Page(num)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d: missing page object", num)
	}
	return page.GetPlainText(nil)
}
