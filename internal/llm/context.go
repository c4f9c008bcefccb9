package llm

import (
	"strings"

	"github.com/support-intel/enricher/internal/kb"
)

// KBContextMaxChars is the hard character budget for the assembled KB context.
const KBContextMaxChars = 4000

// blockSeparatorLen accounts for the blank line joining context blocks.
const blockSeparatorLen = 2

// BuildKBContext assembles the retrieved chunks into the context string
// appended to the system directive. Each chunk becomes a block of
// "{title|Untitled} | {heading_path}" followed by the content; blocks are
// joined with blank lines. When adding the next full block would exceed
// maxChars, the block is truncated to the remaining budget and assembly
// stops. The budget is never exceeded.
func BuildKBContext(chunks []kb.Chunk, maxChars int) string {
	if len(chunks) == 0 {
		return ""
	}

	var (
		parts []string
		total int
	)

	for _, chunk := range chunks {
		title := chunk.Title
		if title == "" {
			title = "Untitled"
		}

		header := strings.TrimSpace(title + " | " + chunk.HeadingPath)
		block := strings.TrimSpace(header + "\n" + strings.TrimSpace(chunk.Content))

		if block == "" {
			continue
		}

		if total+len(block)+blockSeparatorLen > maxChars {
			remaining := maxChars - total
			if remaining > 0 {
				parts = append(parts, block[:min(remaining, len(block))])
			}

			break
		}

		parts = append(parts, block)
		total += len(block) + blockSeparatorLen
	}

	return strings.Join(parts, "\n\n")
}

// stripFences removes a leading ```json or ``` fence and a trailing ```
// fence. Models asked for JSON-only output still wrap it in markdown often
// enough that this is load-bearing.
func stripFences(s string) string {
	text := strings.TrimSpace(s)

	if strings.HasPrefix(text, "```json") {
		text = text[len("```json"):]
	} else if strings.HasPrefix(text, "```") {
		text = text[len("```"):]
	}

	if strings.HasSuffix(text, "```") {
		text = text[:len(text)-len("```")]
	}

	return strings.TrimSpace(text)
}
