package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Format is the text encoding of an uploaded document.
type Format string

const (
	FormatText     Format = "text"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
)

var ErrUnsupportedFormat = errors.New("unsupported document format")

var extFormats = map[string]Format{
	".txt":  FormatText,
	".text": FormatText,
	".html": FormatHTML,
	".htm":  FormatHTML,
	".md":   FormatMarkdown,
	".csv":  FormatCSV,
}

// FormatFromFilename maps a file extension to its format. Binary formats
// such as PDF are rejected.
func FormatFromFilename(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if f, ok := extFormats[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

func extractText(format Format, raw string) (string, error) {
	switch format {
	case "", FormatText, FormatMarkdown:
		return strings.TrimSpace(raw), nil
	case FormatHTML:
		return cleanHTML(raw)
	case FormatCSV:
		return csvText(raw)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// csvText renders each record as "header: value" pairs so column meaning
// survives chunking.
func csvText(raw string) (string, error) {
	r := csv.NewReader(strings.NewReader(raw))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to parse csv: %w", err)
	}

	var b strings.Builder
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse csv: %w", err)
		}
		parts := make([]string, 0, len(rec))
		for i, v := range rec {
			col := fmt.Sprintf("column %d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				col = strings.TrimSpace(header[i])
			}
			parts = append(parts, col+": "+strings.TrimSpace(v))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}
