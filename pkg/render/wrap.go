package render

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/image/font"
)

// Measurer estimates the rendered width of a line in pixels
type Measurer interface {
	Measure(s string) int
}

// ApproxMeasurer assumes every glyph has the same average advance
type ApproxMeasurer struct {
	GlyphWidth float64
}

// NewApproxMeasurer uses the usual 0.6 em average advance for fontSize
func NewApproxMeasurer(fontSize float64) ApproxMeasurer {
	return ApproxMeasurer{GlyphWidth: fontSize * 0.6}
}

func (m ApproxMeasurer) Measure(s string) int {
	return int(float64(utf8.RuneCountInString(s)) * m.GlyphWidth)
}

// FontMeasurer measures with the advances of a real font face
type FontMeasurer struct {
	Face font.Face
}

func (m FontMeasurer) Measure(s string) int {
	return font.MeasureString(m.Face, s).Ceil()
}

// Wrap breaks text into lines no wider than maxWidth using greedy word
// filling. Paragraphs are split on '\n' and an empty paragraph yields an
// empty line. A single word wider than maxWidth is kept whole on its own line.
func Wrap(text string, maxWidth int, m Measurer) []string {
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		lines = append(lines, wrapParagraph(paragraph, maxWidth, m)...)
	}
	return lines
}

func wrapParagraph(paragraph string, maxWidth int, m Measurer) []string {
	if m.Measure(paragraph) <= maxWidth {
		return []string{paragraph}
	}

	var lines []string
	current := ""
	for _, word := range strings.Fields(paragraph) {
		if current == "" {
			current = word
			continue
		}
		candidate := current + " " + word
		if m.Measure(candidate) < maxWidth {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = word
	}
	if current != "" || len(lines) == 0 {
		lines = append(lines, current)
	}
	return lines
}
