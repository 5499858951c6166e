// Package health implements the growth governance monitor.
//
// The monitor watches an enumerated set of paths under a project root and
// measures each changed file against fixed growth thresholds:
//
//   - file size in lines
//   - duplication ratio against the rest of the tracked corpus
//   - technical-debt markers across the tree
//   - navigation depth of the tracked tree
//   - compliance score, the share of tracked files within per-file limits
//
// # Pipeline
//
// Change notifications come from fsnotify, or from a polling scanner when
// event subscription is unavailable. Each (change kind, path) pair is
// debounced: the first change of a window is queued at once and later ones
// are coalesced, so only the newest is queued when the window closes.
// Changes go onto a bounded queue drained by a small worker pool. The
// producer never blocks: when the queue is full the change is dropped,
// logged and counted.
//
// A violated threshold appends a ThresholdEvent to the store, writes a JSON
// alert file and, for the size, duplication and debt kinds, hands the path
// to an optional external remediator without waiting for it.
//
// # Health
//
// Workers record their handling latency in a window of the last 100 events.
// Once per interval the monitor derives
//
//	score = ((1 - avg_latency/SLO) + (1 - queue_fill)) / 2
//
// and stores it as the governance_health_score metric.
//
// # State
//
// Files move from untracked to tracked on first observation and stay
// tracked until the process exits. The last reported value per file is
// persisted so a restart does not re-alert on unchanged files.
package health
