package tools

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// SessionToolConfig describes how to reach one execution session.
type SessionToolConfig struct {
	Workspace string
	Display   string
	CDPURL    string
	// WebSearch registers the DuckDuckGo search tool.
	WebSearch bool
}

// NewSessionRegistry builds the toolset an agent uses inside one session:
// shell, GUI input, file edits, browser and page scraping.
func NewSessionRegistry(cfg SessionToolConfig) *Registry {
	screenshots := filepath.Join(cfg.Workspace, "screenshots")

	var env []string
	if cfg.Display != "" {
		env = append(env, "DISPLAY="+cfg.Display)
	}

	registry := NewRegistry()
	registry.Register(NewShellTool(cfg.Workspace, env...))
	registry.Register(NewSystemTool(cfg.Display, screenshots))
	registry.Register(NewFilesystemTool(cfg.Workspace))
	registry.Register(NewBrowserTool(cfg.CDPURL, screenshots))
	registry.Register(NewScraperTool())

	if cfg.WebSearch {
		searchTool, err := NewSearchTool()
		if err != nil {
			log.Printf("Warning: search tool disabled: %v", err)
		} else {
			registry.Register(searchTool)
		}
	}

	return registry
}

// screenshotPath returns a fresh absolute PNG path in dir, creating dir.
func screenshotPath(dir, prefix string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create screenshot directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s.png", prefix, time.Now().Format("20060102-150405.000000"))
	return filepath.Abs(filepath.Join(dir, name))
}
