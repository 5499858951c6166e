package health

import (
	"sync"
	"time"
)

// debouncer coalesces changes per (kind, path). The first change of a
// window is admitted immediately; later ones replace a single pending
// change that is released when the window closes, so the newest state of a
// file is always analyzed.
type debouncer struct {
	window time.Duration

	mu   sync.Mutex
	open map[string]*debounceWindow
}

type debounceWindow struct {
	opened  time.Time
	pending *Change
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window, open: make(map[string]*debounceWindow)}
}

func debounceKey(ch Change) string {
	return string(ch.Kind) + "|" + ch.Path
}

// admit reports whether ch should be queued now. Otherwise it is held as
// the pending change of its key.
func (d *debouncer) admit(ch Change, now time.Time) bool {
	key := debounceKey(ch)
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.open[key]
	if !ok || now.Sub(w.opened) >= d.window {
		d.open[key] = &debounceWindow{opened: now}
		return true
	}
	w.pending = &ch
	return false
}

// due closes every expired window and returns the changes they held. A
// window that released a change reopens at now so sustained churn still
// yields one analysis per window.
func (d *debouncer) due(now time.Time) []Change {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Change
	for key, w := range d.open {
		if now.Sub(w.opened) < d.window {
			continue
		}
		if w.pending == nil {
			delete(d.open, key)
			continue
		}
		out = append(out, *w.pending)
		d.open[key] = &debounceWindow{opened: now}
	}
	return out
}

// held is the number of changes waiting for their window to close.
func (d *debouncer) held() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, w := range d.open {
		if w.pending != nil {
			n++
		}
	}
	return n
}
