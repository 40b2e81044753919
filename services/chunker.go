package services

import (
	"regexp"
	"strings"
)

// Chunker splits raw document text into bounded segments using a recursive
// divide-and-conquer over separator tiers: paragraph breaks, then line
// breaks, then sentence-ending punctuation, then generic whitespace. A
// fragment with no separators at all degrades to fixed-width slicing with
// overlap instead of producing an oversized chunk.
type Chunker struct {
	maxChunkSize int
	overlap      int
	sentenceEnd  *regexp.Regexp
}

const (
	tierParagraph = iota
	tierLine
	tierSentence
	tierWord
	tierCount
)

// NewChunker creates a chunker. Overlap only applies to the fixed-width
// fallback and must be smaller than maxChunkSize.
func NewChunker(maxChunkSize, overlap int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = 800
	}
	if overlap < 0 || overlap >= maxChunkSize {
		overlap = maxChunkSize / 8
	}
	return &Chunker{
		maxChunkSize: maxChunkSize,
		overlap:      overlap,
		sentenceEnd:  regexp.MustCompile(`[.!?]+[\s]+`),
	}
}

// Split produces an ordered list of segments, each at most maxChunkSize
// bytes barring unsplittable fixed-width fallback remainders. Empty or
// whitespace-only input yields nil. Pure function, no failure modes.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.split(text, tierParagraph)
}

func (c *Chunker) split(text string, tier int) []string {
	if len(text) <= c.maxChunkSize {
		return []string{text}
	}
	if tier >= tierCount {
		return c.slide(text)
	}

	parts := c.partsFor(text, tier)
	if len(parts) <= 1 {
		// Separator absent at this tier, try the next one.
		return c.split(text, tier+1)
	}

	joiner := tierJoiner(tier)
	var chunks []string
	var buf strings.Builder

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		pieces := []string{part}
		if len(part) > c.maxChunkSize {
			pieces = c.split(part, tier+1)
		}

		// Greedily merge consecutive pieces until the next one would
		// push the buffer past maxChunkSize, then flush.
		for _, piece := range pieces {
			if buf.Len() > 0 && buf.Len()+len(joiner)+len(piece) > c.maxChunkSize {
				chunks = append(chunks, buf.String())
				buf.Reset()
			}
			if buf.Len() > 0 {
				buf.WriteString(joiner)
			}
			buf.WriteString(piece)
		}
	}

	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// partsFor splits on the tier's separator without recursing.
func (c *Chunker) partsFor(text string, tier int) []string {
	switch tier {
	case tierParagraph:
		return strings.Split(text, "\n\n")
	case tierLine:
		return strings.Split(text, "\n")
	case tierSentence:
		return c.splitSentences(text)
	default:
		return strings.Fields(text)
	}
}

// splitSentences slices at sentence-ending punctuation, keeping the
// punctuation with the preceding sentence.
func (c *Chunker) splitSentences(text string) []string {
	bounds := c.sentenceEnd.FindAllStringIndex(text, -1)
	if len(bounds) == 0 {
		return []string{text}
	}
	sentences := make([]string, 0, len(bounds)+1)
	start := 0
	for _, b := range bounds {
		sentences = append(sentences, text[start:b[1]])
		start = b[1]
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

// slide is the fixed-width fallback for separator-free runs. Each window
// shares the trailing overlap bytes with the next to preserve boundary
// context.
func (c *Chunker) slide(text string) []string {
	step := c.maxChunkSize - c.overlap
	if step <= 0 {
		step = c.maxChunkSize
	}
	var out []string
	for start := 0; start < len(text); start += step {
		end := start + c.maxChunkSize
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		out = append(out, text[start:end])
	}
	return out
}

func tierJoiner(tier int) string {
	switch tier {
	case tierParagraph:
		return "\n\n"
	case tierLine:
		return "\n"
	default:
		return " "
	}
}
