package progress

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

// Sink feeds an engine's progress polls and failures into an Emitter.
// Progress is forwarded at most once per interval; failures always pass.
type Sink struct {
	emitter Emitter

	mu        sync.Mutex
	sometimes rate.Sometimes
	last      ix.Progress
}

var (
	_ ix.ProgressSink = (*Sink)(nil)
	_ ix.Listener     = (*Sink)(nil)
)

// NewSink forwards to emitter. An interval of 0 forwards every poll.
func NewSink(emitter Emitter, interval time.Duration) *Sink {
	s := &Sink{emitter: emitter}
	if interval > 0 {
		s.sometimes = rate.Sometimes{Interval: interval}
	} else {
		s.sometimes = rate.Sometimes{Every: 1}
	}
	return s
}

func (s *Sink) OnProgress(p ix.Progress) {
	s.mu.Lock()
	s.last = p
	s.mu.Unlock()
	s.sometimes.Do(func() {
		s.emitter.EmitProgress(p)
	})
}

func (s *Sink) OnImportError(ev ix.ImportError) {
	err := ev.Err
	if err == nil {
		err = errors.New("unknown failure")
	}
	if ev.Path != "" {
		err = errors.Wrapf(err, "%s (%s)", ev.Path, ev.Worker)
	}
	s.emitter.EmitError(string(ev.Kind), err)
}

// Last returns the most recent progress seen, forwarded or not
func (s *Sink) Last() ix.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
