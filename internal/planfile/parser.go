// Package planfile turns Markdown and YAML plan documents into plans and
// steps ready to be stored.
package planfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rahul/robots/internal/store"
)

// Format represents the format of a plan file
type Format int

const (
	FormatUnknown Format = iota
	FormatMarkdown
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// Draft is a parsed plan document.
type Draft struct {
	Title        string      `yaml:"title"`
	Description  string      `yaml:"description"`
	AutoContinue bool        `yaml:"auto_continue"`
	Steps        []DraftStep `yaml:"steps"`
}

type DraftStep struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Parser is implemented by every plan format.
type Parser interface {
	Parse(r io.Reader) (*Draft, error)
}

// DetectFormat picks the format from the file extension.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatUnknown
	}
}

func NewParser(format Format) (Parser, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownParser(), nil
	case FormatYAML:
		return NewYAMLParser(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %v", format)
	}
}

// ParseFile parses a plan file. A document without a title is named after
// the file.
func ParseFile(path string) (*Draft, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unknown file format: %s (supported: .md, .markdown, .yaml, .yml)", path)
	}
	parser, err := NewParser(format)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	draft, err := parser.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if draft.Title == "" {
		base := filepath.Base(path)
		draft.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return draft, draft.Validate()
}

// Validate checks that every step has a title.
func (d *Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("plan title is required")
	}
	for i, st := range d.Steps {
		if strings.TrimSpace(st.Title) == "" {
			return fmt.Errorf("step %d has no title", i+1)
		}
	}
	return nil
}

// Plan converts the draft into a pending plan for sessionID. Orders are
// assigned by the store.
func (d *Draft) Plan(sessionID string) (*store.Plan, []store.Step) {
	plan := &store.Plan{
		SessionID:    sessionID,
		Title:        strings.TrimSpace(d.Title),
		Description:  strings.TrimSpace(d.Description),
		AutoContinue: d.AutoContinue,
		Status:       store.PlanPending,
	}
	steps := make([]store.Step, 0, len(d.Steps))
	for _, st := range d.Steps {
		steps = append(steps, store.Step{
			Title:       strings.TrimSpace(st.Title),
			Description: strings.TrimSpace(st.Description),
			Status:      store.StepPending,
			Type:        store.StepTypePlanned,
		})
	}
	return plan, steps
}
