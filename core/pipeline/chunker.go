package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// estimateTokens counts tokens with the cl100k_base encoding. When the
// encoding cannot be loaded it falls back to the usual four characters
// per token heuristic.
func estimateTokens(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenizer = enc
		}
	})
	if tokenizer != nil {
		return len(tokenizer.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// FixedChunker creates a chunker that splits text into fixed-size
// character windows with overlap. Windows prefer to break at whitespace.
func FixedChunker(size int, overlap int) ChunkFunc {
	return func(text string) ([]ChunkDraft, error) {
		if size <= 0 {
			return nil, fmt.Errorf("chunk size must be positive")
		}
		if overlap < 0 || overlap >= size {
			return nil, fmt.Errorf("overlap must be non-negative and smaller than chunk size")
		}

		// Handle empty or whitespace-only text
		if strings.TrimSpace(text) == "" {
			return []ChunkDraft{}, nil
		}

		runes := []rune(text)
		var drafts []ChunkDraft
		chunkIdx := 0
		start := 0

		for start < len(runes) {
			end := start + size
			if end > len(runes) {
				end = len(runes)
			} else {
				// Prefer a whitespace boundary in the last fifth of the window
				boundary := end
				for boundary > start+size*4/5 && !isSpace(runes[boundary-1]) {
					boundary--
				}
				if boundary > start+size*4/5 {
					end = boundary
				}
			}

			content := strings.TrimSpace(string(runes[start:end]))
			if content != "" {
				tokenCount := estimateTokens(content)
				drafts = append(drafts, ChunkDraft{
					Content:    content,
					ChunkIndex: chunkIdx,
					TokenCount: &tokenCount,
					Metadata:   map[string]interface{}{"chunking_method": "fixed"},
				})
				chunkIdx++
			}

			if end == len(runes) {
				break
			}
			start = end - overlap
		}

		return drafts, nil
	}
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

// SectionChunker creates a chunker that packs markdown sections and
// paragraphs into chunks of at most maxTokens tokens. Consecutive chunks
// overlap by roughly overlapTokens tokens of trailing paragraphs, and a
// trailing chunk shorter than minChars characters is merged into its
// predecessor.
func SectionChunker(maxTokens int, overlapTokens int, minChars int) ChunkFunc {
	return func(text string) ([]ChunkDraft, error) {
		if maxTokens <= 0 {
			return nil, fmt.Errorf("max tokens must be positive")
		}
		if overlapTokens < 0 || overlapTokens >= maxTokens {
			return nil, fmt.Errorf("overlap must be non-negative and smaller than max tokens")
		}

		// Handle empty or whitespace-only text
		if strings.TrimSpace(text) == "" {
			return []ChunkDraft{}, nil
		}

		text = strings.ReplaceAll(text, "\r\n", "\n")

		// A single block larger than the budget gets fixed splitting
		var blocks []string
		for _, block := range splitBlocks(text) {
			if estimateTokens(block) > maxTokens {
				blocks = append(blocks, splitOversized(block, maxTokens)...)
			} else {
				blocks = append(blocks, block)
			}
		}

		type pendingChunk struct {
			paragraphs []string
			heading    string
			tokens     int
		}

		var contents []string
		var headings []string
		current := pendingChunk{}
		currentHeading := ""

		flush := func() {
			if len(current.paragraphs) == 0 {
				return
			}
			contents = append(contents, strings.Join(current.paragraphs, "\n\n"))
			headings = append(headings, current.heading)

			// Seed the next chunk with trailing paragraphs as overlap
			var carry []string
			carryTokens := 0
			for i := len(current.paragraphs) - 1; i >= 0 && carryTokens < overlapTokens; i-- {
				carry = append([]string{current.paragraphs[i]}, carry...)
				carryTokens += estimateTokens(current.paragraphs[i])
			}
			if carryTokens >= current.tokens {
				// Overlap would repeat the whole chunk
				carry = nil
				carryTokens = 0
			}
			current = pendingChunk{paragraphs: carry, heading: currentHeading, tokens: carryTokens}
		}

		for _, block := range blocks {
			if isHeading(block) {
				currentHeading = headingTitle(block)
			}

			blockTokens := estimateTokens(block)
			if len(current.paragraphs) > 0 && current.tokens+blockTokens > maxTokens {
				flush()
			}
			if current.heading == "" {
				current.heading = currentHeading
			}
			current.paragraphs = append(current.paragraphs, block)
			current.tokens += blockTokens
		}
		if len(current.paragraphs) > 0 {
			contents = append(contents, strings.Join(current.paragraphs, "\n\n"))
			headings = append(headings, current.heading)
		}

		// Merge a trailing fragment into its predecessor
		if len(contents) > 1 && len(contents[len(contents)-1]) < minChars {
			last := len(contents) - 1
			contents[last-1] = contents[last-1] + "\n\n" + contents[last]
			contents = contents[:last]
			headings = headings[:last]
		}
		// A leading fragment merges forward instead
		if len(contents) > 1 && len(contents[0]) < minChars {
			contents[1] = contents[0] + "\n\n" + contents[1]
			if headings[1] == "" {
				headings[1] = headings[0]
			}
			contents = contents[1:]
			headings = headings[1:]
		}

		drafts := make([]ChunkDraft, 0, len(contents))
		for i, content := range contents {
			tokenCount := estimateTokens(content)
			metadata := map[string]interface{}{"chunking_method": "section"}
			if headings[i] != "" {
				metadata["section"] = headings[i]
			}
			drafts = append(drafts, ChunkDraft{
				Content:    content,
				ChunkIndex: i,
				TokenCount: &tokenCount,
				Metadata:   metadata,
			})
		}

		return drafts, nil
	}
}

// splitOversized splits a block that exceeds the token budget into
// windows, preferring whitespace boundaries. Window sizes are validated
// against the token estimator itself, not a bytes-per-token guess, so
// multi-byte text stays within the budget too.
func splitOversized(block string, maxTokens int) []string {
	runes := []rune(block)

	var pieces []string
	start := 0
	for start < len(runes) {
		end := start + maxTokens*4
		if end > len(runes) {
			end = len(runes)
		}

		// Shrink the window until the estimator accepts it
		for end > start+1 && estimateTokens(string(runes[start:end])) > maxTokens {
			shrunk := start + (end-start)*3/4
			if shrunk <= start {
				shrunk = start + 1
			}
			end = shrunk
		}

		if end < len(runes) {
			// Prefer a whitespace boundary in the last fifth of the window
			boundary := end
			for boundary > start+(end-start)*4/5 && !isSpace(runes[boundary-1]) {
				boundary--
			}
			if boundary > start+(end-start)*4/5 {
				end = boundary
			}
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
		start = end
	}
	return pieces
}

// splitBlocks splits text into paragraphs, keeping markdown headings as
// their own blocks.
func splitBlocks(text string) []string {
	var blocks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		// A heading glued to its paragraph still starts a new block
		lines := strings.Split(para, "\n")
		var currentLines []string
		for _, line := range lines {
			if isHeading(line) {
				if len(currentLines) > 0 {
					blocks = append(blocks, strings.Join(currentLines, "\n"))
					currentLines = nil
				}
				blocks = append(blocks, strings.TrimSpace(line))
				continue
			}
			currentLines = append(currentLines, line)
		}
		if len(currentLines) > 0 {
			blocks = append(blocks, strings.Join(currentLines, "\n"))
		}
	}
	return blocks
}

func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	rest := strings.TrimLeft(trimmed, "#")
	return strings.HasPrefix(rest, " ") && strings.TrimSpace(rest) != ""
}

func headingTitle(line string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
}

// DefaultChunker is the chunker used when none is configured
func DefaultChunker() ChunkFunc {
	return SectionChunker(400, 50, 120)
}
