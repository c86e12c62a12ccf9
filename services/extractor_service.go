package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

type extractFunc func(path string) (string, error)

// extractors is keyed by lower-case file extension.
var extractors = map[string]extractFunc{
	".txt": readPlainText,
	".md":  readPlainText,
	".pdf": extractTextFromPDF,
}

// SetPDFLicense registers the UniDoc metered key. Without it PDF extraction fails; text files still work.
func SetPDFLicense(key string) error {
	if key == "" {
		return fmt.Errorf("no UniDoc license key configured")
	}
	if err := license.SetMeteredKey(key); err != nil {
		return fmt.Errorf("failed to set UniDoc license key: %w", err)
	}
	return nil
}

// IsSupportedFile reports whether ExtractTextFromFile can read path.
func IsSupportedFile(path string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ExtractTextFromFile returns the text of a supported file, ready for chunking.
func ExtractTextFromFile(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	extract, ok := extractors[ext]
	if !ok {
		return "", fmt.Errorf("unsupported file type: %s", ext)
	}
	text, err := extract(path)
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", filepath.Base(path), err)
	}
	return text, nil
}

// readPlainText normalizes line endings and replaces invalid UTF-8 so chunk boundaries fall on runes.
func readPlainText(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := strings.ToValidUTF8(string(content), "\uFFFD")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimPrefix(text, "\uFEFF"), nil
}

// extractTextFromPDF joins the non-blank pages with a blank line between them.
func extractTextFromPDF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	reader, err := model.NewPdfReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	numPages, err := reader.GetNumPages()
	if err != nil {
		return "", err
	}

	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		text, err := pdfPageText(reader, i)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, strings.TrimSpace(text))
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

func pdfPageText(reader *model.PdfReader, number int) (string, error) {
	page, err := reader.GetPage(number)
	if err != nil {
		return "", err
	}
	ex, err := extractor.New(page)
	if err != nil {
		return "", err
	}
	return ex.ExtractText()
}
