// Package splitter turns extracted page text into bounded, overlapping
// chunks ready for indexing. Splitting is pure and deterministic: the
// same input and configuration always yield byte-identical chunks.
package splitter

import (
	"fmt"
	"regexp"
	"strings"
)

// Unit is one input span of document text with its page number.
type Unit struct {
	Text string
	Page int
}

// Chunk is one output span. Text carries the sliding overlap prefix;
// chunks retain the page number of their source unit.
type Chunk struct {
	Text string
	Page int
}

// Separator is one split pattern, tried in priority order. Regex
// separators are compiled in multiline mode so line-start markers match
// every line.
type Separator struct {
	Pattern string
	Regex   bool
}

// Config controls chunk sizing and separator priority.
type Config struct {
	MaxChunkLength int
	OverlapLength  int
	Separators     []Separator
}

// DefaultConfig matches the splitting used for uploaded PDFs: paragraph
// break, line break, numbered-list marker, word-prefix marker, sentence
// terminator, plain space.
func DefaultConfig() Config {
	return Config{
		MaxChunkLength: 500,
		OverlapLength:  150,
		Separators: []Separator{
			{Pattern: "\n\n"},
			{Pattern: "\n"},
			{Pattern: `^\d+\.\s`, Regex: true},
			{Pattern: `^\w+\.\s`, Regex: true},
			{Pattern: ". "},
			{Pattern: " "},
		},
	}
}

type separator struct {
	literal string
	re      *regexp.Regexp
}

// Splitter splits unit text recursively on a priority-ordered separator
// list, falling back to fixed-length slicing for unbreakable spans.
// Source spans are budgeted at MaxChunkLength minus OverlapLength, so a
// chunk never exceeds MaxChunkLength once its overlap prefix is added.
type Splitter struct {
	budget     int
	overlapLen int
	seps       []separator
}

// New compiles the configured separators and validates sizing.
func New(cfg Config) (*Splitter, error) {
	if cfg.MaxChunkLength <= 0 {
		return nil, fmt.Errorf("max chunk length must be positive, got %d", cfg.MaxChunkLength)
	}
	if cfg.OverlapLength < 0 || cfg.OverlapLength >= cfg.MaxChunkLength {
		return nil, fmt.Errorf("overlap length %d must be in [0, %d)", cfg.OverlapLength, cfg.MaxChunkLength)
	}

	seps := make([]separator, 0, len(cfg.Separators))
	for _, s := range cfg.Separators {
		if s.Regex {
			re, err := regexp.Compile("(?m)" + s.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compile separator %q: %w", s.Pattern, err)
			}
			seps = append(seps, separator{re: re})
		} else {
			if s.Pattern == "" {
				return nil, fmt.Errorf("empty literal separator")
			}
			seps = append(seps, separator{literal: s.Pattern})
		}
	}
	return &Splitter{
		budget:     cfg.MaxChunkLength - cfg.OverlapLength,
		overlapLen: cfg.OverlapLength,
		seps:       seps,
	}, nil
}

// Split chunks every unit in order. Within a unit, each chunk after the
// first is prefixed with the trailing OverlapLength characters of the
// previous chunk's source span, so adjacent chunks share context.
// Overlap never crosses unit (page) boundaries.
func (s *Splitter) Split(units []Unit) []Chunk {
	var chunks []Chunk
	for _, u := range units {
		spans := s.splitText(u.Text, s.seps)
		for i, span := range spans {
			text := span
			if i > 0 {
				text = tail(spans[i-1], s.overlapLen) + span
			}
			chunks = append(chunks, Chunk{Text: text, Page: u.Page})
		}
	}
	return chunks
}

// splitText splits text on the highest-priority separator present,
// greedily merges adjacent pieces up to the span budget, and recursively
// re-splits any piece that is still oversized with the remaining
// separators. With no applicable separator left, oversized text falls
// back to fixed-length slices.
func (s *Splitter) splitText(text string, seps []separator) []string {
	if len(text) <= s.budget {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	idx := -1
	var pieces []string
	for i, sep := range seps {
		if p := splitKeep(text, sep); len(p) > 1 {
			idx, pieces = i, p
			break
		}
	}
	if idx == -1 {
		return fixedSlices(text, s.budget)
	}

	var out []string
	for _, piece := range merge(pieces, s.budget) {
		if len(piece) > s.budget {
			out = append(out, s.splitText(piece, seps[idx+1:])...)
		} else {
			out = append(out, piece)
		}
	}
	return out
}

// splitKeep splits text on sep, keeping each separator occurrence
// attached to the piece that precedes it.
func splitKeep(text string, sep separator) []string {
	var bounds []int
	if sep.re != nil {
		for _, m := range sep.re.FindAllStringIndex(text, -1) {
			if m[1] > 0 && m[1] < len(text) {
				bounds = append(bounds, m[1])
			}
		}
	} else {
		for from := 0; ; {
			i := strings.Index(text[from:], sep.literal)
			if i < 0 {
				break
			}
			end := from + i + len(sep.literal)
			if end < len(text) {
				bounds = append(bounds, end)
			}
			from = end
		}
	}
	if len(bounds) == 0 {
		return []string{text}
	}

	pieces := make([]string, 0, len(bounds)+1)
	prev := 0
	for _, b := range bounds {
		pieces = append(pieces, text[prev:b])
		prev = b
	}
	pieces = append(pieces, text[prev:])
	return pieces
}

// merge greedily joins adjacent pieces while the combined length stays
// within the budget, so separators like line breaks do not fragment the
// text into tiny chunks.
func merge(pieces []string, maxLen int) []string {
	var out []string
	cur := ""
	for _, p := range pieces {
		switch {
		case cur == "":
			cur = p
		case len(cur)+len(p) <= maxLen:
			cur += p
		default:
			out = append(out, cur)
			cur = p
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// fixedSlices cuts text into fixed-length pieces of exactly maxLen (the last
// piece may be shorter).
func fixedSlices(text string, maxLen int) []string {
	var out []string
	for len(text) > maxLen {
		out = append(out, text[:maxLen])
		text = text[maxLen:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
