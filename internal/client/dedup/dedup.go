// Package dedup drops real-time events the client has already applied.
//
// Events are identified by id only. A bounded recent-id window covers the
// overlap between an initial fetch and the stream, and the overlap a
// resumed stream replays. The highest sequence seen is tracked separately
// as the resume point; it never decides whether an event is new, because
// sequences can arrive out of order.
package dedup

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultWindow is the number of recent ids remembered.
const DefaultWindow = 1024

// Deduper is safe for concurrent use.
type Deduper struct {
	mu        sync.Mutex
	watermark int64
	window    int
	recent    *lru.Cache[string, struct{}]
}

// New creates a deduper remembering up to window ids.
func New(window int) *Deduper {
	if window <= 0 {
		window = DefaultWindow
	}
	cache, err := lru.New[string, struct{}](window)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Deduper{window: window, recent: cache}
}

// Admit reports whether no event with id was seen yet and, if so, records
// it. seq only advances the watermark; seq <= 0 means the event carries
// none. An empty id is always admitted.
func (d *Deduper) Admit(id string, seq int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id != "" && d.recent.Contains(id) {
		return false
	}
	d.record(id, seq)
	return true
}

// Observe records an event known to be applied already, e.g. from an
// initial fetch, without checking it.
func (d *Deduper) Observe(id string, seq int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(id, seq)
}

// Advance raises the watermark to seq if it is higher.
func (d *Deduper) Advance(seq int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if seq > d.watermark {
		d.watermark = seq
	}
}

// Watermark returns the highest sequence admitted or observed.
func (d *Deduper) Watermark() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watermark
}

// Grow widens the window to hold at least n ids. It never shrinks it.
func (d *Deduper) Grow(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > d.window {
		d.recent.Resize(n)
		d.window = n
	}
}

// Window returns the number of ids remembered.
func (d *Deduper) Window() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window
}

// Reset forgets every id and the watermark. The window keeps its size.
func (d *Deduper) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watermark = 0
	d.recent.Purge()
}

func (d *Deduper) record(id string, seq int64) {
	if id != "" {
		d.recent.Add(id, struct{}{})
	}
	if seq > d.watermark {
		d.watermark = seq
	}
}
