package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// SystemTool drives mouse and keyboard on the session's X display with
// xdotool, for windows the browser tool cannot reach (native dialogs,
// download prompts).
type SystemTool struct {
	Display       string
	ScreenshotDir string
}

func NewSystemTool(display, screenshotDir string) *SystemTool {
	if display == "" {
		display = ":0"
	}
	return &SystemTool{Display: display, ScreenshotDir: screenshotDir}
}

type systemArgs struct {
	Action string `json:"action"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button string `json:"button"`
	Key    string `json:"key"`
	Text   string `json:"text"`
}

// xdotoolArgs maps an input action to an xdotool command line. The string
// result is an argument error reported to the model.
var xdotoolArgs = map[string]func(a systemArgs) ([]string, string){
	"mouse_move": func(a systemArgs) ([]string, string) {
		return []string{"mousemove", strconv.Itoa(a.X), strconv.Itoa(a.Y)}, ""
	},
	"mouse_click": func(a systemArgs) ([]string, string) {
		button := a.Button
		if button == "" {
			button = "1"
		}
		if a.X != 0 || a.Y != 0 {
			return []string{"mousemove", strconv.Itoa(a.X), strconv.Itoa(a.Y), "click", button}, ""
		}
		return []string{"click", button}, ""
	},
	"key_press": func(a systemArgs) ([]string, string) {
		if a.Key == "" {
			return nil, "key is required for key_press"
		}
		return []string{"key", a.Key}, ""
	},
	"type_text": func(a systemArgs) ([]string, string) {
		if a.Text == "" {
			return nil, "text is required for type_text"
		}
		return []string{"type", "--delay", "20", a.Text}, ""
	},
	"active_window": func(a systemArgs) ([]string, string) {
		return []string{"getactivewindow", "getwindowname"}, ""
	},
}

func (s *SystemTool) Name() string {
	return "system"
}

func (s *SystemTool) Description() string {
	return "Control the session desktop with mouse and keyboard, or capture it. Prefer the browser tool for web pages."
}

func (s *SystemTool) actions() []string {
	return append(sortedKeys(xdotoolArgs), "desktop_screenshot")
}

func (s *SystemTool) Parameters() map[string]any {
	return schema([]string{"action"}, map[string]any{
		"action": stringProp("The desktop action.", s.actions()...),
		"x":      intProp("Screen X coordinate for mouse_move or mouse_click."),
		"y":      intProp("Screen Y coordinate for mouse_move or mouse_click."),
		"button": stringProp("Mouse button for mouse_click: 1 left, 2 middle, 3 right."),
		"key":    stringProp("Key or chord for key_press, e.g. 'Return' or 'ctrl+s'."),
		"text":   stringProp("Text for type_text."),
	})
}

func (s *SystemTool) Execute(ctx context.Context, input string) (string, error) {
	var args systemArgs
	if err := decodeArgs(s.Name(), input, &args); err != nil {
		return "", err
	}

	if args.Action == "desktop_screenshot" {
		return s.captureDesktop(ctx)
	}
	build, ok := xdotoolArgs[args.Action]
	if !ok {
		return "Invalid action.", nil
	}
	cmdArgs, problem := build(args)
	if problem != "" {
		return "Error: " + problem, nil
	}

	output, err := s.run(ctx, "xdotool", cmdArgs...)
	if errors.Is(err, exec.ErrNotFound) {
		return "Error: xdotool is not installed on the session host.", nil
	}
	if err != nil {
		return fmt.Sprintf("xdotool %s failed: %v\nOutput: %s", args.Action, err, output), nil
	}
	if args.Action == "active_window" {
		return "Active window: " + output, nil
	}
	return "Done: " + args.Action, nil
}

// captureDesktop grabs the display with ffmpeg, falling back to scrot.
func (s *SystemTool) captureDesktop(ctx context.Context) (string, error) {
	path, err := screenshotPath(s.ScreenshotDir, "desktop")
	if err != nil {
		return "", err
	}
	if _, err := s.run(ctx, "ffmpeg", "-loglevel", "error", "-f", "x11grab", "-i", s.Display, "-frames:v", "1", "-y", path); err == nil {
		return "Desktop screenshot saved to " + path, nil
	}
	if output, err := s.run(ctx, "scrot", "--overwrite", path); err != nil {
		return fmt.Sprintf("Error capturing desktop: %v\nOutput: %s", err, output), nil
	}
	return "Desktop screenshot saved to " + path, nil
}

func (s *SystemTool) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "DISPLAY="+s.Display)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
