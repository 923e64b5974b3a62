package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

const searchResults = 8

// SearchTool answers factual lookups through DuckDuckGo so the agent does
// not have to leave the page it is working on.
type SearchTool struct {
	client *duckduckgo.Tool
}

func NewSearchTool() (*SearchTool, error) {
	ddg, err := duckduckgo.New(searchResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, fmt.Errorf("create duckduckgo client: %w", err)
	}
	return &SearchTool{client: ddg}, nil
}

func (s *SearchTool) Name() string {
	return "search"
}

func (s *SearchTool) Description() string {
	return "Look something up on the web (DuckDuckGo) without touching the session browser."
}

func (s *SearchTool) Parameters() map[string]any {
	return schema([]string{"query"}, map[string]any{
		"query": stringProp("Search terms."),
	})
}

func (s *SearchTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(s.Name(), input, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Query) == "" {
		return "Error: query is required", nil
	}
	res, err := s.client.Call(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("search %q: %w", args.Query, err)
	}
	return clip(res), nil
}
