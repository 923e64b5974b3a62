package observability

import (
	"sort"
	"sync"
	"time"
)

// Outcome classifies a finished executor call.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	// OutcomeContinued means the step is still in progress and needs another call.
	OutcomeContinued Outcome = "continued"
)

// Stats is a point-in-time copy of process activity.
type Stats struct {
	// Running maps session IDs to the step they are executing.
	Running       map[string]string `json:"running"`
	Outcomes      map[Outcome]int   `json:"outcomes"`
	Polling       bool              `json:"polling"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

// Finished returns the number of executor calls that ended.
func (s Stats) Finished() int {
	n := 0
	for _, c := range s.Outcomes {
		n += c
	}
	return n
}

// Current returns one running step label, preferring the lowest session ID.
func (s Stats) Current() string {
	if len(s.Running) == 0 {
		return ""
	}
	ids := make([]string, 0, len(s.Running))
	for id := range s.Running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return s.Running[ids[0]]
}

type activity struct {
	mu            sync.Mutex
	running       map[string]string
	outcomes      map[Outcome]int
	polling       bool
	lastHeartbeat time.Time
}

var current = newActivity()

func newActivity() *activity {
	return &activity{
		running:       make(map[string]string),
		outcomes:      make(map[Outcome]int),
		lastHeartbeat: time.Now(),
	}
}

// BeginStep records that a session started executing the labelled step.
func BeginStep(sessionID, label string) {
	current.mu.Lock()
	defer current.mu.Unlock()
	current.running[sessionID] = label
}

// EndStep clears the session's running step and counts the outcome.
func EndStep(sessionID string, outcome Outcome) {
	current.mu.Lock()
	defer current.mu.Unlock()
	delete(current.running, sessionID)
	current.outcomes[outcome]++
}

// SetPolling marks whether the continuation scheduler is mid-sweep.
func SetPolling(polling bool) {
	current.mu.Lock()
	defer current.mu.Unlock()
	current.polling = polling
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	current.mu.Lock()
	defer current.mu.Unlock()
	current.lastHeartbeat = time.Now()
}

// Snapshot returns a copy of the current activity.
func Snapshot() Stats {
	current.mu.Lock()
	defer current.mu.Unlock()
	s := Stats{
		Running:       make(map[string]string, len(current.running)),
		Outcomes:      make(map[Outcome]int, len(current.outcomes)),
		Polling:       current.polling,
		LastHeartbeat: current.lastHeartbeat,
	}
	for k, v := range current.running {
		s.Running[k] = v
	}
	for k, v := range current.outcomes {
		s.Outcomes[k] = v
	}
	return s
}
