package health

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/governor/internal/storage"
	"github.com/steveyegge/governor/internal/types"
)

// ratioEpsilon treats ratios closer than this as unchanged.
const ratioEpsilon = 1e-9

// fileState tracks the last measurements of one monitored file.
type fileState struct {
	Lines               int     `json:"lines"`
	DuplicationRatio    float64 `json:"duplication_ratio"`
	DebtMarkers         int     `json:"debt_markers"`
	Depth               int     `json:"depth"`
	ReportedLines       int     `json:"reported_lines,omitempty"`
	ReportedDuplication float64 `json:"reported_duplication,omitempty"`

	tracked   bool // observed by this process
	persisted bool // loaded from the state file
	windows   map[uint64]struct{}
}

// registryState is the persisted form of the registry.
type registryState struct {
	Files   map[string]*fileState              `json:"files"`
	Tree    map[types.ThresholdEventKind]bool `json:"tree_violated"`
	SavedAt time.Time                          `json:"saved_at"`
}

// Registry holds per-file state and the tree-level violation flags.
type Registry struct {
	mu        sync.Mutex
	files     map[string]*fileState
	tree      map[types.ThresholdEventKind]bool
	statePath string
}

// NewRegistry creates a registry, loading statePath when it exists.
func NewRegistry(statePath string) (*Registry, error) {
	r := &Registry{
		files:     make(map[string]*fileState),
		tree:      make(map[types.ThresholdEventKind]bool),
		statePath: statePath,
	}
	if statePath == "" {
		return r, nil
	}
	if err := r.loadState(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading monitor state: %w", err)
	}
	return r, nil
}

func (r *Registry) loadState() error {
	data, err := os.ReadFile(r.statePath)
	if err != nil {
		return err
	}
	var state registryState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parsing state file: %w", err)
	}
	for path, st := range state.Files {
		if st == nil {
			continue
		}
		st.persisted = true
		r.files[path] = st
	}
	for kind, v := range state.Tree {
		r.tree[kind] = v
	}
	return nil
}

// Save writes the tracked state atomically. A registry without a state
// path is a no-op.
func (r *Registry) Save(now time.Time) error {
	if r.statePath == "" {
		return nil
	}
	r.mu.Lock()
	state := registryState{
		Files:   make(map[string]*fileState, len(r.files)),
		Tree:    make(map[types.ThresholdEventKind]bool, len(r.tree)),
		SavedAt: now.UTC(),
	}
	for path, st := range r.files {
		if st.tracked {
			cp := *st
			state.Files[path] = &cp
		}
	}
	for kind, v := range r.tree {
		state.Tree[kind] = v
	}
	r.mu.Unlock()

	return storage.WriteJSONAtomic(r.statePath, state)
}

// Observe records a fresh snapshot of relPath and returns the threshold
// findings it produced. Per-file findings fire when the file is over its
// limit and the value changed since the last report; tree-level findings
// fire on ok to violated transitions. A silent observation updates state
// without findings unless the file has persisted state to compare against.
func (r *Registry) Observe(relPath string, snap *fileSnapshot, th Thresholds, silent bool) (findings []finding, firstSeen bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.files[relPath]
	if !ok {
		st = &fileState{}
		r.files[relPath] = st
	}
	firstSeen = !st.tracked
	quiet := silent && !st.persisted
	st.tracked = true
	st.persisted = false

	st.Lines = snap.Lines
	st.DebtMarkers = snap.DebtMarkers
	st.Depth = snap.Depth
	st.windows = make(map[uint64]struct{}, len(snap.Windows))
	for _, h := range snap.Windows {
		st.windows[h] = struct{}{}
	}
	st.DuplicationRatio = duplicationRatio(snap.Windows, r.otherWindows(relPath))

	if st.Lines > th.FileSizeLines {
		if st.Lines != st.ReportedLines {
			if !quiet {
				findings = append(findings, finding{
					Kind: types.EventFileSizeViolation, Path: relPath,
					Current: float64(st.Lines), Threshold: float64(th.FileSizeLines), Violated: true,
				})
			}
			st.ReportedLines = st.Lines
		}
	} else {
		st.ReportedLines = 0
	}

	if st.DuplicationRatio > th.DuplicationRatio {
		if math.Abs(st.DuplicationRatio-st.ReportedDuplication) > ratioEpsilon {
			if !quiet {
				findings = append(findings, finding{
					Kind: types.EventDuplicationDetected, Path: relPath,
					Current: st.DuplicationRatio, Threshold: th.DuplicationRatio, Violated: true,
				})
			}
			st.ReportedDuplication = st.DuplicationRatio
		}
	} else {
		st.ReportedDuplication = 0
	}

	findings = append(findings, r.treeFindings(th, silent)...)
	return findings, firstSeen
}

// observeBaseline is a silent Observe used while baselining the tree.
func (r *Registry) observeBaseline(relPath string, snap *fileSnapshot, th Thresholds) []finding {
	findings, _ := r.Observe(relPath, snap, th, true)
	return findings
}

// Forget drops a file that no longer exists.
func (r *Registry) Forget(relPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, relPath)
}

// Prune drops persisted entries that were not observed by this process.
func (r *Registry) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, st := range r.files {
		if !st.tracked {
			delete(r.files, path)
		}
	}
}

// Tracked returns the number of files observed by this process.
func (r *Registry) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.files {
		if st.tracked {
			n++
		}
	}
	return n
}

// TrackedPaths returns the observed paths in sorted order.
func (r *Registry) TrackedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for path, st := range r.files {
		if st.tracked {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// TreeMetrics are the tree-level measurements over tracked files.
type TreeMetrics struct {
	Files           int     `json:"files"`
	DebtMarkers     int     `json:"debt_markers"`
	NavigationSteps float64 `json:"navigation_steps"`
	ComplianceScore float64 `json:"compliance_score"`
}

// Tree computes the tree-level metrics.
func (r *Registry) Tree(th Thresholds) TreeMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.treeMetrics(th)
}

func (r *Registry) treeMetrics(th Thresholds) TreeMetrics {
	var m TreeMetrics
	depth, within := 0, 0
	for _, st := range r.files {
		if !st.tracked {
			continue
		}
		m.Files++
		m.DebtMarkers += st.DebtMarkers
		depth += st.Depth
		if st.Lines <= th.FileSizeLines && st.DuplicationRatio <= th.DuplicationRatio {
			within++
		}
	}
	m.ComplianceScore = 1
	if m.Files > 0 {
		m.NavigationSteps = float64(depth) / float64(m.Files)
		m.ComplianceScore = float64(within) / float64(m.Files)
	}
	return m
}

func (r *Registry) treeFindings(th Thresholds, silent bool) []finding {
	m := r.treeMetrics(th)
	checks := []finding{
		{
			Kind: types.EventTechnicalDebtThreshold, Current: float64(m.DebtMarkers),
			Threshold: float64(th.TechnicalDebtCount), Violated: m.DebtMarkers > th.TechnicalDebtCount,
		},
		{
			Kind: types.EventNavigationComplexity, Current: m.NavigationSteps,
			Threshold: th.NavigationSteps, Violated: m.NavigationSteps > th.NavigationSteps,
		},
		{
			Kind: types.EventComplianceBelow, Current: m.ComplianceScore,
			Threshold: th.ComplianceScore, Violated: m.ComplianceScore < th.ComplianceScore,
		},
	}

	var out []finding
	for _, c := range checks {
		prev := r.tree[c.Kind]
		r.tree[c.Kind] = c.Violated
		if c.Violated && !prev && !silent {
			c.Path = "."
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) otherWindows(relPath string) []map[uint64]struct{} {
	var out []map[uint64]struct{}
	for path, st := range r.files {
		if path == relPath || len(st.windows) == 0 {
			continue
		}
		out = append(out, st.windows)
	}
	return out
}
