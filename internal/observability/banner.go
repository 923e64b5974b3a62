package observability

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

var startTime = time.Now()

var (
	neonCyan = color.New(color.FgHiCyan)
	neonMag  = color.New(color.FgHiMagenta)
	purple   = color.New(color.FgMagenta)
	dim      = color.New(color.Faint)
)

// statusRow is the fixed terminal row of the live status line; logs scroll
// below scrollTop.
const (
	statusRow = 10
	scrollTop = 12
)

var spinner = []string{"◐", "◓", "◑", "◒"}

// termMu serialises terminal writes so the status line's cursor
// save/restore is never split by a log line.
var termMu sync.Mutex

// IsInteractive reports whether stdout is a terminal that can host the
// banner and the live status line.
func IsInteractive() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

type termWriter struct{}

func (termWriter) Write(p []byte) (int, error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer for log.SetOutput that never
// interleaves with PrintLiveStatus.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

const bannerArt = `
    ____  ____  ____  ____  ___________
   / __ \/ __ \/ __ )/ __ \/_  __/ ___/
  / /_/ / / / / __  / / / / / /  \__ \
 / _, _/ /_/ / /_/ / /_/ / / /  ___/ /
/_/ |_|\____/_____/\____/ /_/  /____/

        >> REMOTE SESSION PLAN EXECUTOR <<`

func PrintBanner() {
	width := termWidth()
	var b strings.Builder
	b.WriteString("\033[2J\033[H")
	for _, line := range strings.Split(bannerArt, "\n") {
		pad := max(0, (width-len(line))/2)
		b.WriteString(strings.Repeat(" ", pad) + neonCyan.Sprint(line) + "\n")
	}
	termMu.Lock()
	fmt.Print(b.String())
	termMu.Unlock()
}

// InitializeTerminal reserves the rows above scrollTop for the banner and
// the status line.
func InitializeTerminal() {
	termMu.Lock()
	defer termMu.Unlock()
	fmt.Printf("\033[%d;r\033[%d;1H", scrollTop, scrollTop)
}

func CleanupTerminal() {
	termMu.Lock()
	defer termMu.Unlock()
	fmt.Print("\033[r\033[2J\033[H")
}

var spinIdx int

// PrintLiveStatus redraws the status line in place.
func PrintLiveStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	line := formatStatus(Snapshot(), time.Now(), float64(m.Alloc)/1024/1024, spinner[spinIdx%len(spinner)])
	spinIdx++

	termMu.Lock()
	fmt.Printf("\033[s\033[%d;1H\033[K%s\033[u", statusRow, line)
	termMu.Unlock()
}

// formatStatus renders one status line:
//
//	[15:04:05] HEALTHY | ◐ 2 running: Export leads: step 3 Download CSV | ok 12 fail 1 timeout 2 cont 4 | up 1h0m0s 14.2MB
func formatStatus(s Stats, now time.Time, memMB float64, spin string) string {
	health, healthColor := "OFFLINE", neonMag
	switch age := now.Sub(s.LastHeartbeat); {
	case age < 40*time.Second:
		health, healthColor = "HEALTHY", neonCyan
	case age < 90*time.Second:
		health, healthColor = "LAGGING", purple
	}

	activity := dim.Sprint("idle")
	if n := len(s.Running); n > 0 {
		task := s.Current()
		if len(task) > 40 {
			task = task[:37] + "..."
		}
		activity = fmt.Sprintf("%s %d running: %s", neonMag.Sprint(spin), n, task)
	} else if s.Polling {
		activity = neonCyan.Sprint("polling plans")
	}

	return fmt.Sprintf("[%s] %s | %s | ok %d fail %d timeout %d cont %d | up %v %.1fMB",
		s.LastHeartbeat.Format("15:04:05"),
		healthColor.Sprint(health),
		activity,
		s.Outcomes[OutcomeCompleted],
		s.Outcomes[OutcomeFailed],
		s.Outcomes[OutcomeTimeout],
		s.Outcomes[OutcomeContinued],
		now.Sub(startTime).Round(time.Second),
		memMB,
	)
}
