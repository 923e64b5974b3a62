package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeReasoning     EventType = "reasoning"
	EventTypeToolCall      EventType = "tool_call"
	EventTypePolicyCheck   EventType = "policy_check"
	EventTypeCost          EventType = "cost"
	EventTypeStepStarted   EventType = "step_started"
	EventTypeStepFinished  EventType = "step_finished"
	EventTypeStepTimeout   EventType = "step_timeout"
	EventTypePlanCompleted EventType = "plan_completed"
	EventTypeError         EventType = "error"
	EventTypeHeartbeat     EventType = "heartbeat"
	EventTypeLLM           EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	PlanID    string    `json:"plan_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging. A nil *Logger discards everything.
type Logger struct {
	Out io.Writer

	mu         sync.Mutex
	llmLogPath string
	maxSize    int64
}

// NewLogger writes events to stdout and LLM transcripts under logDir.
func NewLogger(logDir string) *Logger {
	if logDir == "" {
		logDir = "logs"
	}
	return &Logger{
		Out:        os.Stdout,
		llmLogPath: filepath.Join(logDir, "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("failed to marshal event %s: %v", evt.Type, err)
		return
	}

	l.mu.Lock()
	if l.Out != nil {
		fmt.Fprintln(l.Out, string(data))
	}
	l.mu.Unlock()

	if evt.Type == EventTypeLLM {
		l.writeToFile(data)
	}
}

// writeToFile appends to the LLM transcript. The server and one-shot CLI
// calls share the file, so appends and rotation hold an flock.
func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	lock := flock.New(l.llmLogPath + ".lock")
	if err := lock.Lock(); err != nil {
		log.Printf("failed to lock log file: %v", err)
		return
	}
	defer lock.Unlock()

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

// rotateLogs keeps one previous transcript as llm.jsonl.old.
func (l *Logger) rotateLogs() {
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

func (l *Logger) LogReasoning(sessionID, stepID, content string) {
	l.Log(Event{
		Type:      EventTypeReasoning,
		SessionID: sessionID,
		StepID:    stepID,
		Data:      map[string]string{"content": content},
	})
}

func (l *Logger) LogToolCall(sessionID, tool, args string, denied bool) {
	l.Log(Event{
		Type:      EventTypeToolCall,
		SessionID: sessionID,
		Data: map[string]any{
			"tool":   tool,
			"args":   args,
			"denied": denied,
		},
	})
}

func (l *Logger) LogCost(sessionID, stepID string, promptTokens, completionTokens int) {
	l.Log(Event{
		Type:      EventTypeCost,
		SessionID: sessionID,
		StepID:    stepID,
		Data: map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	})
}

func (l *Logger) LogStep(typ EventType, sessionID, planID, stepID string, data map[string]any) {
	l.Log(Event{
		Type:      typ,
		SessionID: sessionID,
		PlanID:    planID,
		StepID:    stepID,
		Data:      data,
	})
}

func (l *Logger) LogError(sessionID, planID, stepID string, err error) {
	l.Log(Event{
		Type:      EventTypeError,
		SessionID: sessionID,
		PlanID:    planID,
		StepID:    stepID,
		Data:      map[string]string{"error": err.Error()},
	})
}

// LogHeartbeat records liveness together with the current activity.
func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: Snapshot(),
	})
}

func (l *Logger) LogLLM(sessionID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:      EventTypeLLM,
		SessionID: sessionID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
