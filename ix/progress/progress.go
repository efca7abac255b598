// Package progress renders import progress and failures for people and programs.
//
// Implementations include:
// - CLIEmitter: pretty-printed terminal output using pterm
// - JSONEmitter: one JSON event per line for scripts
// - LogEmitter: structured zap log entries
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"go.uber.org/zap"

	"github.com/teranos/ixbulk/ix"
)

// Emitter receives the lifecycle of one import job
type Emitter interface {
	// EmitStage announces the start of a processing stage
	EmitStage(stage string, message string)

	// EmitProgress reports a status poll
	EmitProgress(p ix.Progress)

	// EmitComplete announces completion with the report summary
	EmitComplete(summary map[string]interface{})

	// EmitError reports one failure; stage is the error kind or the step that failed
	EmitError(stage string, err error)

	// EmitInfo emits a general informational message
	EmitInfo(message string)
}

// Event is one structured JSON progress event
type Event struct {
	Type      string                 `json:"type"` // "stage", "progress", "complete", "error", "info"
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// CLIEmitter outputs pretty-printed progress to the terminal
type CLIEmitter struct {
	verbosity int
}

func NewCLIEmitter(verbosity int) *CLIEmitter {
	return &CLIEmitter{verbosity: verbosity}
}

func (e *CLIEmitter) EmitStage(stage string, message string) {
	pterm.Printf("🔄 %s: %s\n", pterm.LightCyan(stage), message)
}

func (e *CLIEmitter) EmitProgress(p ix.Progress) {
	pterm.Printf("📦 %s documents  %s docs/s  %d active  %d queued\n",
		pterm.Green(fmt.Sprintf("%d", p.Documents)),
		pterm.LightCyan(fmt.Sprintf("%.1f", p.DocsPerSecond)),
		p.ActiveWorkers,
		p.QueuedTasks)
}

// EmitComplete prints a success line and, with -v, the summary as a table
func (e *CLIEmitter) EmitComplete(summary map[string]interface{}) {
	pterm.Success.Printf("Imported %v documents in %v\n", summary["documents_created"], summary["elapsed"])
	if e.verbosity < 1 {
		return
	}
	data := pterm.TableData{{"Key", "Value"}}
	for _, k := range sortedKeys(summary) {
		data = append(data, []string{k, fmt.Sprintf("%v", summary[k])})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		pterm.Error.Printf("Failed to render summary: %v\n", err)
	}
}

func (e *CLIEmitter) EmitError(stage string, err error) {
	pterm.Error.Printf("%s: %v\n", stage, err)
}

func (e *CLIEmitter) EmitInfo(message string) {
	if e.verbosity >= 1 {
		pterm.Info.Println(message)
	}
}

// JSONEmitter writes one Event per line
type JSONEmitter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	now     func() time.Time
}

func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{encoder: json.NewEncoder(w), now: time.Now}
}

func (e *JSONEmitter) emit(typ string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.encoder.Encode(Event{Type: typ, Timestamp: e.now(), Data: data})
}

func (e *JSONEmitter) EmitStage(stage string, message string) {
	e.emit("stage", map[string]interface{}{
		"stage":   stage,
		"message": message,
	})
}

func (e *JSONEmitter) EmitProgress(p ix.Progress) {
	e.emit("progress", map[string]interface{}{
		"job_id":         p.JobID,
		"documents":      p.Documents,
		"processed":      p.Processed,
		"active_workers": p.ActiveWorkers,
		"queued":         p.QueuedTasks,
		"elapsed_ms":     p.Elapsed.Milliseconds(),
		"docs_per_sec":   p.DocsPerSecond,
	})
}

func (e *JSONEmitter) EmitComplete(summary map[string]interface{}) {
	e.emit("complete", summary)
}

func (e *JSONEmitter) EmitError(stage string, err error) {
	e.emit("error", map[string]interface{}{
		"stage": stage,
		"error": err.Error(),
	})
}

func (e *JSONEmitter) EmitInfo(message string) {
	e.emit("info", map[string]interface{}{
		"message": message,
	})
}

// LogEmitter writes every event to a zap logger
type LogEmitter struct {
	log *zap.SugaredLogger
}

func NewLogEmitter(log *zap.SugaredLogger) *LogEmitter {
	return &LogEmitter{log: log}
}

func (e *LogEmitter) EmitStage(stage string, message string) {
	e.log.Infow(message, "stage", stage)
}

func (e *LogEmitter) EmitProgress(p ix.Progress) {
	e.log.Debugw("Progress",
		"job_id", p.JobID,
		"docs", p.Documents,
		"docs_per_sec", p.DocsPerSecond,
		"active", p.ActiveWorkers,
		"queued", p.QueuedTasks)
}

func (e *LogEmitter) EmitComplete(summary map[string]interface{}) {
	kv := make([]interface{}, 0, len(summary)*2)
	for _, k := range sortedKeys(summary) {
		kv = append(kv, k, summary[k])
	}
	e.log.Infow("Import complete", kv...)
}

func (e *LogEmitter) EmitError(stage string, err error) {
	e.log.Warnw("Import failure", "stage", stage, "error", err)
}

func (e *LogEmitter) EmitInfo(message string) {
	e.log.Info(message)
}

// Multi fans every event out to several emitters
type Multi []Emitter

func (m Multi) EmitStage(stage string, message string) {
	for _, e := range m {
		e.EmitStage(stage, message)
	}
}

func (m Multi) EmitProgress(p ix.Progress) {
	for _, e := range m {
		e.EmitProgress(p)
	}
}

func (m Multi) EmitComplete(summary map[string]interface{}) {
	for _, e := range m {
		e.EmitComplete(summary)
	}
}

func (m Multi) EmitError(stage string, err error) {
	for _, e := range m {
		e.EmitError(stage, err)
	}
}

func (m Multi) EmitInfo(message string) {
	for _, e := range m {
		e.EmitInfo(message)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
