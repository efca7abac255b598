package ix

import "time"

// Throughput keeps an immediate documents/sec sample, refreshed at most once per
// interval, and derives the lifetime average. Values are informational only.
// Not synchronized; owners that publish it take a snapshot under their own lock.
type Throughput struct {
	interval  time.Duration
	start     time.Time
	lastCheck time.Time
	lastCount int64
	immediate float64
	now       func() time.Time
}

// NewThroughput starts measuring now
func NewThroughput(interval time.Duration) *Throughput {
	return newThroughputAt(interval, time.Now)
}

func newThroughputAt(interval time.Duration, now func() time.Time) *Throughput {
	t := now()
	return &Throughput{interval: interval, start: t, lastCheck: t, now: now}
}

// Sample recomputes the immediate rate from total if the interval has elapsed.
// Returns true when a new sample was taken.
func (t *Throughput) Sample(total int64) bool {
	now := t.now()
	elapsed := now.Sub(t.lastCheck)
	if elapsed < t.interval || elapsed <= 0 {
		return false
	}
	t.immediate = float64(total-t.lastCount) / elapsed.Seconds()
	t.lastCheck = now
	t.lastCount = total
	return true
}

// Immediate returns the last sampled rate
func (t *Throughput) Immediate() float64 {
	return t.immediate
}

// Average returns total over the time since start
func (t *Throughput) Average(total int64) float64 {
	return Rate(total, t.now().Sub(t.start))
}

// Elapsed returns the time since measuring started
func (t *Throughput) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}

// Rate is docs / elapsed_ms * 1000, 0 before the first millisecond
func Rate(docs int64, elapsed time.Duration) float64 {
	ms := elapsed.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return float64(docs) / float64(ms) * 1000
}
