package planfile

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser reads plans written as:
//
//	# Title
//	Description paragraph.
//
//	1. First step
//	   more detail
//	2. Second step
//
// Level 2 headings are steps too; text below such a heading describes it.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		markdown: goldmark.New(),
	}
}

func (p *MarkdownParser) Parse(r io.Reader) (*Draft, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	doc := p.markdown.Parser().Parse(text.NewReader(content))
	draft := &Draft{}

	// section is the step opened by the last level 2 heading, if any.
	var section *DraftStep
	flush := func() {
		if section != nil {
			section.Description = strings.TrimSpace(section.Description)
			draft.Steps = append(draft.Steps, *section)
			section = nil
		}
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			title := nodeText(node, content)
			switch {
			case node.Level == 1 && draft.Title == "":
				draft.Title = title
			case node.Level == 2:
				flush()
				section = &DraftStep{Title: title}
			case section != nil:
				appendLine(&section.Description, title)
			}
		case *ast.List:
			if section != nil {
				for _, item := range listItems(node, content) {
					appendLine(&section.Description, "- "+item.Title)
				}
				continue
			}
			draft.Steps = append(draft.Steps, listItems(node, content)...)
		case *ast.Paragraph:
			body := nodeText(node, content)
			switch {
			case section != nil:
				appendLine(&section.Description, body)
			case len(draft.Steps) == 0 && draft.Description == "":
				draft.Description = body
			}
		}
	}
	flush()

	return draft, nil
}

// listItems makes one step per item: the first line is the title, the rest
// of the item (nested lists included) the description.
func listItems(list *ast.List, source []byte) []DraftStep {
	var steps []DraftStep
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		var lines []string
		for block := item.FirstChild(); block != nil; block = block.NextSibling() {
			if nested, ok := block.(*ast.List); ok {
				for _, sub := range listItems(nested, source) {
					lines = append(lines, "- "+sub.Title)
				}
				continue
			}
			lines = append(lines, blockLines(block, source)...)
		}
		if len(lines) == 0 {
			continue
		}
		steps = append(steps, DraftStep{
			Title:       stripCheckbox(lines[0]),
			Description: strings.Join(lines[1:], "\n"),
		})
	}
	return steps
}

// blockLines returns the trimmed, non-empty source lines of a block node.
func blockLines(n ast.Node, source []byte) []string {
	var out []string
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		for _, line := range strings.Split(string(seg.Value(source)), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
	}
	return out
}

func nodeText(n ast.Node, source []byte) string {
	if lines := blockLines(n, source); len(lines) > 0 {
		return strings.Join(lines, "\n")
	}
	return strings.TrimSpace(extractText(n, source))
}

func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			continue
		}
		buf.WriteString(extractText(c, source))
	}
	return buf.String()
}

func stripCheckbox(s string) string {
	for _, box := range []string{"[ ] ", "[x] ", "[X] "} {
		if strings.HasPrefix(s, box) {
			return strings.TrimSpace(s[len(box):])
		}
	}
	return s
}

func appendLine(dst *string, line string) {
	if *dst != "" {
		*dst += "\n"
	}
	*dst += line
}
