package process

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Heading is a markdown heading with its level (1-6)
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// ExtractHeadings returns the headings of markdown in document order. Inline markup
// such as emphasis or links inside a heading is flattened to its text.
func ExtractHeadings(markdown []byte) []Heading {
	doc := goldmark.DefaultParser().Parse(text.NewReader(markdown))

	var headings []Heading
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		h, ok := n.(*ast.Heading)
		if !entering || !ok {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		ast.Walk(h, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
			if t, ok := c.(*ast.Text); ok && entering {
				sb.Write(t.Segment.Value(markdown))
				if t.SoftLineBreak() {
					sb.WriteByte(' ')
				}
			}
			return ast.WalkContinue, nil
		})
		if s := strings.TrimSpace(sb.String()); s != "" {
			headings = append(headings, Heading{Level: h.Level, Text: s})
		}
		return ast.WalkSkipChildren, nil
	})
	return headings
}
