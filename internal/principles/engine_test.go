package principles

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/governor/internal/rules"
	"github.com/steveyegge/governor/internal/storage/sqlite"
	"github.com/steveyegge/governor/internal/types"
)

const doc = `# Repository governance

1. BLOCKING: never create markdown files in the repository root, block execution.
2. Agents WILL report any error they encounter.
3. The team MUST commit work in small steps.
`

func newEngine(t *testing.T) (*Engine, *sqlite.SQLiteStorage, *clockwork.FakeClock) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "governor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	e, err := NewEngine(Config{
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  clock,
	})
	require.NoError(t, err)
	return e, store, clock
}

func loadDoc(t *testing.T, e *Engine, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "GOVERNANCE.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	_, err := e.Refresh(context.Background(), path)
	require.NoError(t, err)
	return path
}

func TestNewEngine_RequiresStore(t *testing.T) {
	_, err := NewEngine(Config{Logger: slog.Default()})
	assert.Error(t, err)
}

func TestCheck_RootMarkdownBlocked(t *testing.T) {
	e, store, _ := newEngine(t)
	loadDoc(t, e, doc)
	ctx := context.Background()

	res, err := e.Check(ctx, "user working in repo root", "create file README.md in root")
	require.NoError(t, err)

	assert.True(t, res.Blocked)
	assert.Contains(t, res.Remediation, string(rules.ActionBlockExecution))

	var rootRule *types.Rule
	for _, r := range res.Fired {
		for _, trig := range r.Triggers {
			if trig == string(rules.PredRootFileCreation) {
				rootRule = r
			}
		}
	}
	require.NotNil(t, rootRule, "expected a rule with the root file trigger to fire")
	assert.Equal(t, types.KindBlocking, rootRule.Kind)

	recent, err := store.RecentViolations(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, recent, len(res.Fired))
	assert.Len(t, res.ViolationIDs, len(res.Fired))
}

func TestCheck_NothingFires(t *testing.T) {
	e, _, _ := newEngine(t)
	loadDoc(t, e, doc)

	res, err := e.Check(context.Background(), "reviewing", "ls -la")
	require.NoError(t, err)
	assert.False(t, res.Blocked)
	assert.Empty(t, res.Violations)
	assert.Empty(t, res.ViolationIDs)
}

func TestCheck_LowSeverityDoesNotBlock(t *testing.T) {
	e, _, _ := newEngine(t)
	loadDoc(t, e, doc)

	res, err := e.Check(context.Background(), "", "git commit -m wip")
	require.NoError(t, err)
	require.NotEmpty(t, res.Fired)
	assert.False(t, res.Blocked)
	assert.Contains(t, res.Remediation, string(rules.ActionEnforceRequirement))
}

func TestCheck_UnknownTriggerTreatedAsNotFired(t *testing.T) {
	e, store, _ := newEngine(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertRule(ctx, &types.Rule{
		ID: "RULE_900_CRITICAL", Kind: types.KindCritical, Severity: types.SeverityCritical,
		Description: "stored by an older build", Triggers: []string{"misspelled_predicate"},
		Actions: []string{"log_violation"}, Active: true,
	}))

	for i := 0; i < 3; i++ {
		res, err := e.Check(ctx, "anything", "misspelled predicate")
		require.NoError(t, err)
		assert.False(t, res.Blocked)
	}
}

func TestCheck_ViolationsReferenceActiveRules(t *testing.T) {
	e, store, _ := newEngine(t)
	loadDoc(t, e, doc)
	ctx := context.Background()

	_, err := e.Check(ctx, "an error occurred", "create notes.md in root")
	require.NoError(t, err)

	active, err := store.ActiveRules(ctx)
	require.NoError(t, err)
	ids := make(map[string]bool)
	for _, r := range active {
		ids[r.ID] = true
	}

	recent, err := store.RecentViolations(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	for _, v := range recent {
		assert.True(t, ids[v.RuleID], v.RuleID)
	}
}

func TestRefresh_DeactivatesRemovedRules(t *testing.T) {
	e, store, _ := newEngine(t)
	ctx := context.Background()
	path := loadDoc(t, e, doc)

	require.NoError(t, os.WriteFile(path, []byte("Agents WILL report any error they encounter.\n"), 0644))
	n, err := e.Refresh(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := store.ActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, types.KindWill, active[0].Kind)
}

func TestRefresh_MissingDocumentKeepsRules(t *testing.T) {
	e, store, _ := newEngine(t)
	ctx := context.Background()
	path := loadDoc(t, e, doc)

	require.NoError(t, os.Remove(path))
	_, err := e.Refresh(ctx, path)
	require.ErrorIs(t, err, rules.ErrSourceMissing)

	active, err := store.ActiveRules(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func TestStats_Window(t *testing.T) {
	e, _, clock := newEngine(t)
	loadDoc(t, e, doc)
	ctx := context.Background()

	_, err := e.Check(ctx, "", "create file README.md in root")
	require.NoError(t, err)

	stats, err := e.Stats(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 24, stats.WindowHours)
	assert.Equal(t, 3, stats.ActiveRules)
	assert.Positive(t, stats.TotalViolations)

	clock.Advance(48 * time.Hour)
	stats, err = e.Stats(ctx, 24)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalViolations)
}

// Any fired CRITICAL rule blocks, whatever its kind.
func TestCheck_CriticalAlwaysBlocks(t *testing.T) {
	e, store, _ := newEngine(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	kinds := []types.RuleKind{types.KindWill, types.KindMust, types.KindAutomatic, types.KindMandatory}
	preds := []rules.Predicate{rules.PredErrorDetected, rules.PredCommitOperationRequired, rules.PredRootFileCreation}
	ops := []string{"error in build", "git commit now", "write README.md", "notes.txt"}

	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("RULE_%03d_%s", 100+i, kinds[i%len(kinds)])
		require.NoError(t, store.UpsertRule(ctx, &types.Rule{
			ID: id, Kind: kinds[i%len(kinds)], Severity: types.SeverityCritical,
			Description: "generated", Triggers: []string{string(preds[rng.Intn(len(preds))])},
			Actions: []string{"log_violation"}, Active: true,
		}))

		op := ops[rng.Intn(len(ops))]
		res, err := e.Check(ctx, "", op)
		require.NoError(t, err)
		if len(res.Fired) > 0 {
			assert.True(t, res.Blocked, op)
		}
	}
}
