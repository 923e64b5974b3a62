package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// browserActionTimeout bounds one browser action; the caller's context can
// end it sooner.
const browserActionTimeout = 45 * time.Second

// BrowserTool drives the session browser. With a RemoteURL it attaches to
// the provider's DevTools endpoint; otherwise it starts a local Chrome.
type BrowserTool struct {
	RemoteURL     string
	ScreenshotDir string

	mu            sync.Mutex
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func NewBrowserTool(remoteURL, screenshotDir string) *BrowserTool {
	return &BrowserTool{RemoteURL: remoteURL, ScreenshotDir: screenshotDir}
}

type browserArgs struct {
	Action      string `json:"action"`
	URL         string `json:"url"`
	Selector    string `json:"selector"`
	Text        string `json:"text"`
	Submit      bool   `json:"submit"`
	FullPage    bool   `json:"full_page"`
	WaitSeconds int    `json:"wait_seconds"`
}

// field returns the named argument; used to check required arguments.
func (a browserArgs) field(name string) string {
	switch name {
	case "url":
		return a.URL
	case "selector":
		return a.Selector
	case "text":
		return a.Text
	}
	return ""
}

type browserAction struct {
	requires []string
	run      func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error)
}

var browserActions = map[string]browserAction{
	"navigate": {requires: []string{"url"}, run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		var title string
		if err := chromedp.Run(ctx, chromedp.Navigate(a.URL), chromedp.Title(&title)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Opened %s (%s)", a.URL, title), nil
	}},
	"location": {run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		var url, title string
		if err := chromedp.Run(ctx, chromedp.Location(&url), chromedp.Title(&title)); err != nil {
			return "", err
		}
		return fmt.Sprintf("URL: %s\nTITLE: %s", url, title), nil
	}},
	"text": {run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		sel := a.Selector
		if sel == "" {
			sel = "body"
		}
		var text string
		if err := chromedp.Run(ctx, chromedp.Text(sel, &text, chromedp.ByQuery)); err != nil {
			return "", err
		}
		return clip(strings.TrimSpace(text)), nil
	}},
	"html": {run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		var html string
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			root, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(root.NodeID).Do(ctx)
			return err
		}))
		if err != nil {
			return "", err
		}
		return clip(html), nil
	}},
	"click": {requires: []string{"selector"}, run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		if err := chromedp.Run(ctx, chromedp.Click(a.Selector, chromedp.ByQuery)); err != nil {
			return "", err
		}
		return "Clicked " + a.Selector, nil
	}},
	"type": {requires: []string{"selector", "text"}, run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		keys := a.Text
		if a.Submit {
			keys += kb.Enter
		}
		if err := chromedp.Run(ctx, chromedp.SendKeys(a.Selector, keys, chromedp.ByQuery)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Typed %d characters into %s", len(a.Text), a.Selector), nil
	}},
	"press": {requires: []string{"text"}, run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		if err := chromedp.Run(ctx, chromedp.KeyEvent(a.Text)); err != nil {
			return "", err
		}
		return "Pressed " + a.Text, nil
	}},
	"scroll": {run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		if a.Selector != "" {
			if err := chromedp.Run(ctx, chromedp.ScrollIntoView(a.Selector, chromedp.ByQuery)); err != nil {
				return "", err
			}
			return "Scrolled to " + a.Selector, nil
		}
		if err := chromedp.Run(ctx, chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil)); err != nil {
			return "", err
		}
		return "Scrolled to bottom", nil
	}},
	"wait": {run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		switch {
		case a.Selector != "":
			if err := chromedp.Run(ctx, chromedp.WaitVisible(a.Selector, chromedp.ByQuery)); err != nil {
				return "", err
			}
			return a.Selector + " is visible", nil
		case a.WaitSeconds > 0:
			if err := chromedp.Run(ctx, chromedp.Sleep(time.Duration(a.WaitSeconds)*time.Second)); err != nil {
				return "", err
			}
			return fmt.Sprintf("Waited %ds", a.WaitSeconds), nil
		}
		return "Nothing to wait for", nil
	}},
	"back": {run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		if err := chromedp.Run(ctx, chromedp.NavigateBack()); err != nil {
			return "", err
		}
		return "Went back", nil
	}},
	"reload": {run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		if err := chromedp.Run(ctx, chromedp.Reload()); err != nil {
			return "", err
		}
		return "Reloaded", nil
	}},
	"screenshot": {run: func(ctx context.Context, b *BrowserTool, a browserArgs) (string, error) {
		var buf []byte
		capture := chromedp.CaptureScreenshot(&buf)
		if a.FullPage {
			capture = chromedp.FullScreenshot(&buf, 90)
		}
		if err := chromedp.Run(ctx, capture); err != nil {
			return "", err
		}
		path, err := screenshotPath(b.ScreenshotDir, "browser")
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(path, buf, 0644); err != nil {
			return "", err
		}
		return "Screenshot saved to " + path, nil
	}},
}

func (b *BrowserTool) Name() string {
	return "browser"
}

func (b *BrowserTool) Description() string {
	return "Drive the session browser. The page stays open between calls, so check 'location' before navigating. " +
		"Actions: " + strings.Join(sortedKeys(browserActions), ", ") + ", detach."
}

func (b *BrowserTool) Parameters() map[string]any {
	actions := append(sortedKeys(browserActions), "detach")
	return schema([]string{"action"}, map[string]any{
		"action":       stringProp("The browser action.", actions...),
		"url":          stringProp("Absolute URL for 'navigate'."),
		"selector":     stringProp("CSS selector for 'click', 'type', 'scroll', 'wait' and 'text'."),
		"text":         stringProp("Text for 'type', or a key for 'press'."),
		"submit":       boolProp("Press Enter after 'type'."),
		"full_page":    boolProp("Capture the whole page with 'screenshot'."),
		"wait_seconds": intProp("Seconds to pause with 'wait' when no selector is given."),
	})
}

func (b *BrowserTool) Execute(ctx context.Context, input string) (string, error) {
	var args browserArgs
	if err := decodeArgs(b.Name(), input, &args); err != nil {
		return "", err
	}

	if args.Action == "detach" {
		b.Close()
		return "Detached from the session browser.", nil
	}
	action, ok := browserActions[args.Action]
	if !ok {
		return fmt.Sprintf("Error: unknown action %q", args.Action), nil
	}
	for _, name := range action.requires {
		if args.field(name) == "" {
			return fmt.Sprintf("Error: %s is required for %s", name, args.Action), nil
		}
	}

	browserCtx, err := b.attach()
	if err != nil {
		return "", fmt.Errorf("attach browser: %w", err)
	}

	actx, cancel := context.WithTimeout(browserCtx, browserActionTimeout)
	defer cancel()
	// The browser context outlives the call; the caller's context still
	// interrupts the action.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	out, err := action.run(actx, b, args)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fmt.Sprintf("Browser %s failed: %v", args.Action, err), nil
	}
	return out, nil
}

// attach returns the live browser context, connecting on first use or
// after the previous connection died.
func (b *BrowserTool) attach() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		if b.browserCtx.Err() == nil {
			return b.browserCtx, nil
		}
		b.cleanup()
	}

	var allocCtx context.Context
	if b.RemoteURL != "" {
		allocCtx, b.allocCancel = chromedp.NewRemoteAllocator(context.Background(), b.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.NoSandbox,
			chromedp.Flag("headless", false),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("no-default-browser-check", true),
		)
		allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	b.browserCtx, b.browserCancel = chromedp.NewContext(allocCtx)

	if err := chromedp.Run(b.browserCtx); err != nil {
		b.cleanup()
		return nil, err
	}
	return b.browserCtx, nil
}

// Close drops the connection; a remote browser itself stays up.
func (b *BrowserTool) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
}

func (b *BrowserTool) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.browserCancel = nil
	b.allocCancel = nil
}
