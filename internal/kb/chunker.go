package kb

import (
	"errors"
	"strings"
)

// Default chunking parameters.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 150
)

// ErrInvalidChunkParams is returned when chunk_size does not exceed overlap.
var ErrInvalidChunkParams = errors.New("chunk_size must be greater than overlap")

// paragraph is an intermediate unit produced by the line scan: a block of
// adjacent non-blank lines, annotated with the heading stack in effect.
type paragraph struct {
	text        string
	headingPath string
	isHeading   bool
}

// ChunkText splits markdown-ish text into ordered chunks of at most chunkSize
// bytes, tracking the heading stack so every chunk knows the section it came
// from.
//
// Rules:
//   - A heading line (#, ##, ...) pushes/pops the heading stack by level and
//     is emitted as its own chunk.
//   - Adjacent paragraphs under the same heading path are concatenated with a
//     blank line up to chunkSize; a heading-path change forces a flush.
//   - A paragraph at or above chunkSize is sliced into chunkSize windows with
//     overlap bytes of trailing context carried into the next window.
func ChunkText(text string, chunkSize, overlap int) ([]Chunk, error) {
	if chunkSize <= overlap {
		return nil, ErrInvalidChunkParams
	}

	paragraphs := scanParagraphs(text)

	var (
		chunks     []Chunk
		buf        string
		bufHeading string
	)

	push := func(content, headingPath string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}

		chunks = append(chunks, Chunk{
			ChunkIndex:  len(chunks),
			HeadingPath: headingPath,
			Content:     content,
		})
	}

	flush := func() {
		push(buf, bufHeading)
		buf, bufHeading = "", ""
	}

	slice := func(block, headingPath string) {
		start := 0
		for start < len(block) {
			end := min(start+chunkSize, len(block))
			push(block[start:end], headingPath)

			if end == len(block) {
				break
			}

			start = max(end-overlap, 0)
		}
	}

	for _, para := range paragraphs {
		if para.isHeading {
			flush()

			if len(para.text) >= chunkSize {
				slice(para.text, para.headingPath)
			} else {
				push(para.text, para.headingPath)
			}

			continue
		}

		if buf != "" && para.headingPath != bufHeading {
			flush()
		}

		if len(para.text) >= chunkSize {
			flush()
			slice(para.text, para.headingPath)

			continue
		}

		if buf == "" {
			buf, bufHeading = para.text, para.headingPath

			continue
		}

		candidate := buf + "\n\n" + para.text
		if len(candidate) <= chunkSize {
			buf = candidate
		} else {
			flush()

			buf, bufHeading = para.text, para.headingPath
		}
	}

	flush()

	return chunks, nil
}

// scanParagraphs walks the text line by line, maintaining the heading stack
// and grouping adjacent non-blank lines into paragraphs.
func scanParagraphs(text string) []paragraph {
	var (
		paragraphs []paragraph
		current    []string
	)

	type stackEntry struct {
		level int
		text  string
	}

	var headingStack []stackEntry

	headingPath := func() string {
		parts := make([]string, 0, len(headingStack))

		for _, h := range headingStack {
			if h.text != "" {
				parts = append(parts, h.text)
			}
		}

		return strings.Join(parts, " > ")
	}

	flush := func() {
		if len(current) == 0 {
			return
		}

		paragraphs = append(paragraphs, paragraph{
			text:        strings.TrimSpace(strings.Join(current, "\n")),
			headingPath: headingPath(),
		})
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "#") {
			flush()

			level := 0
			for level < len(stripped) && stripped[level] == '#' {
				level++
			}

			headingText := strings.TrimSpace(strings.TrimLeft(stripped, "#"))

			for len(headingStack) > 0 && headingStack[len(headingStack)-1].level >= level {
				headingStack = headingStack[:len(headingStack)-1]
			}

			headingStack = append(headingStack, stackEntry{level: level, text: headingText})

			paragraphs = append(paragraphs, paragraph{
				text:        stripped,
				headingPath: headingPath(),
				isHeading:   true,
			})

			continue
		}

		if stripped == "" {
			flush()

			continue
		}

		current = append(current, stripped)
	}

	flush()

	return paragraphs
}
