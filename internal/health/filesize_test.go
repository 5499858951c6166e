package health

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.md")
	content := strings.Join([]string{
		"# Page",
		"TODO: split this page",
		"FIXME and HACK on one line",
		"this is technical debt",
		"a todo in lower case does not count",
		"plain line",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	snap, err := analyzeFile(path, "docs/api/page.md")
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Lines)
	assert.Equal(t, 4, snap.DebtMarkers)
	assert.Equal(t, 2, snap.Depth)
	assert.Len(t, snap.Windows, 6-duplicationWindow+1)
}

func TestAnalyzeFile_Missing(t *testing.T) {
	_, err := analyzeFile(filepath.Join(t.TempDir(), "gone.md"), "gone.md")
	assert.True(t, os.IsNotExist(err))
}
