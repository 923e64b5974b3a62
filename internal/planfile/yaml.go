package planfile

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLParser reads plans of the form
//
//	title: Export weekly leads
//	description: ...
//	auto_continue: true
//	steps:
//	  - Open the CRM
//	  - title: Export leads
//	    description: Use the weekly filter.
type YAMLParser struct{}

func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

func (p *YAMLParser) Parse(r io.Reader) (*Draft, error) {
	var draft Draft
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&draft); err != nil {
		if err == io.EOF {
			return &draft, nil
		}
		return nil, fmt.Errorf("failed to decode yaml: %w", err)
	}
	return &draft, nil
}

// UnmarshalYAML accepts a bare string as a step title.
func (s *DraftStep) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Title = node.Value
		return nil
	}
	type plain DraftStep
	var v plain
	if err := node.Decode(&v); err != nil {
		return err
	}
	*s = DraftStep(v)
	return nil
}
