package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor turns a file into plain text and a title
type Extractor interface {
	Extract(path string) (content string, title string, err error)
}

// PlainTextExtractor reads text and markdown files. The title is taken
// from the first markdown heading near the top of the file, falling back
// to the file name.
type PlainTextExtractor struct{}

// Extract reads the file and derives a title
func (e PlainTextExtractor) Extract(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	title := titleFromContent(content)
	if title == "" {
		base := filepath.Base(path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return content, title, nil
}

// titleFromContent looks for a markdown heading in the first lines
func titleFromContent(content string) string {
	lines := strings.Split(content, "\n")
	limit := min(len(lines), 10)
	for _, line := range lines[:limit] {
		if isHeading(line) {
			return headingTitle(line)
		}
	}
	return ""
}
