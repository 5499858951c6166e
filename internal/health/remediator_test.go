package health

import (
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/governor/internal/types"
)

func TestRemediatorConfig_Validate(t *testing.T) {
	cfg := RemediatorConfig{Logger: slog.Default()}
	assert.Error(t, cfg.Validate())

	cfg.Command = []string{"true"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultRemediatorConcurrency, cfg.Concurrency)
	assert.Equal(t, defaultRemediatorInterval, cfg.Interval)
}

func TestRemediator_Trigger(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out := filepath.Join(t.TempDir(), "remediations.log")

	r, err := NewRemediator(RemediatorConfig{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Command:  []string{"sh", "-c", `printf '%s %s\n' "$0" "$1" >> "` + out + `"`},
		Interval: time.Hour,
		Burst:    1,
	})
	require.NoError(t, err)

	assert.False(t, r.Trigger(types.EventNavigationComplexity, "."), "not remediable")
	assert.True(t, r.Trigger(types.EventFileSizeViolation, "/repo/docs/guide.md"))
	assert.False(t, r.Trigger(types.EventDuplicationDetected, "/repo/docs/guide.md"), "rate limited")

	r.Stop()
	assert.False(t, r.Trigger(types.EventFileSizeViolation, "/repo/docs/guide.md"), "stopped")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{"file_size_violation /repo/docs/guide.md"}, lines)
}
