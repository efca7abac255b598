package progress

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

func decodeEvents(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSONEmitter(&buf)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	e.EmitStage("resolve", "fetching source")
	e.EmitProgress(ix.Progress{JobID: "job-1", Documents: 120, ActiveWorkers: 3, QueuedTasks: 7, Elapsed: 2 * time.Second, DocsPerSecond: 60})
	e.EmitError("mapping", errors.New("bad utf-8"))
	e.EmitComplete(map[string]interface{}{"documents_created": 120})
	e.EmitInfo("done")

	events := decodeEvents(t, &buf)
	require.Len(t, events, 5)

	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
		assert.True(t, fixed.Equal(ev.Timestamp))
	}
	assert.Equal(t, []string{"stage", "progress", "error", "complete", "info"}, types)

	progress := events[1].Data
	assert.Equal(t, "job-1", progress["job_id"])
	assert.Equal(t, float64(120), progress["documents"])
	assert.Equal(t, float64(2000), progress["elapsed_ms"])
	assert.Equal(t, "bad utf-8", events[2].Data["error"])
}

type recordingEmitter struct {
	stages   []string
	progress []ix.Progress
	errors   []string
	complete int
	infos    []string
}

func (r *recordingEmitter) EmitStage(stage, message string) { r.stages = append(r.stages, stage) }
func (r *recordingEmitter) EmitProgress(p ix.Progress) { r.progress = append(r.progress, p) }
func (r *recordingEmitter) EmitComplete(summary map[string]interface{}) { r.complete++ }
func (r *recordingEmitter) EmitError(stage string, err error) {
	r.errors = append(r.errors, stage+": "+err.Error())
}
func (r *recordingEmitter) EmitInfo(message string) { r.infos = append(r.infos, message) }

func TestMultiFansOut(t *testing.T) {
	a, b := &recordingEmitter{}, &recordingEmitter{}
	m := Multi{a, b}

	m.EmitStage("import", "starting")
	m.EmitProgress(ix.Progress{Documents: 1})
	m.EmitError("commit", errors.New("locked"))
	m.EmitComplete(nil)
	m.EmitInfo("hi")

	for _, r := range []*recordingEmitter{a, b} {
		assert.Equal(t, []string{"import"}, r.stages)
		assert.Len(t, r.progress, 1)
		assert.Equal(t, []string{"commit: locked"}, r.errors)
		assert.Equal(t, 1, r.complete)
		assert.Equal(t, []string{"hi"}, r.infos)
	}
}

func TestSinkThrottlesProgressNotErrors(t *testing.T) {
	rec := &recordingEmitter{}
	s := NewSink(rec, time.Hour)

	for i := 1; i <= 5; i++ {
		s.OnProgress(ix.Progress{Documents: int64(i)})
	}
	require.Len(t, rec.progress, 1)
	assert.Equal(t, int64(1), rec.progress[0].Documents)
	assert.Equal(t, int64(5), s.Last().Documents)

	s.OnImportError(ix.ImportError{Worker: "T3", Path: "/A/b.txt", Kind: ix.ErrorKindMapping, Err: errors.New("unsupported")})
	s.OnImportError(ix.ImportError{Worker: "C1", Kind: ix.ErrorKindCommit})
	require.Len(t, rec.errors, 2)
	assert.Equal(t, "mapping: /A/b.txt (T3): unsupported", rec.errors[0])
	assert.Equal(t, "commit: unknown failure", rec.errors[1])
}

func TestSinkWithoutIntervalForwardsAll(t *testing.T) {
	rec := &recordingEmitter{}
	s := NewSink(rec, 0)
	for i := 0; i < 3; i++ {
		s.OnProgress(ix.Progress{Documents: int64(i)})
	}
	assert.Len(t, rec.progress, 3)
}

func TestLogEmitter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := NewLogEmitter(zap.New(core).Sugar())

	e.EmitStage("import", "Import started")
	e.EmitProgress(ix.Progress{JobID: "job-2", Documents: 10})
	e.EmitError("replay", errors.New("constraint"))
	e.EmitComplete(map[string]interface{}{"documents_created": 10, "job_id": "job-2"})

	require.Equal(t, 4, logs.Len())
	entries := logs.All()
	assert.Equal(t, "Import started", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "Import complete", entries[3].Message)
	assert.Equal(t, "job-2", entries[3].ContextMap()["job_id"])
}

func TestCLIEmitterDoesNotPanic(t *testing.T) {
	e := NewCLIEmitter(1)
	e.EmitStage("import", "starting")
	e.EmitProgress(ix.Progress{Documents: 3, DocsPerSecond: 1.5})
	e.EmitError("mapping", errors.New("oops"))
	e.EmitInfo("info")
	e.EmitComplete(map[string]interface{}{"documents_created": 3, "elapsed": "1s"})
}
