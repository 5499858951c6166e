package health

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numbered(prefix string, n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("%s line %d", prefix, i)
	}
	return lines
}

func toSet(hashes []uint64) map[uint64]struct{} {
	set := make(map[uint64]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set
}

func TestNormalizeBlock(t *testing.T) {
	got := normalizeBlock([]string{"  Alpha  ", "", "// comment", "#!/bin/sh", "\tBeta"})
	assert.Equal(t, []string{"alpha", "beta"}, got)
}

func TestWindowHashes(t *testing.T) {
	assert.Nil(t, windowHashes(numbered("a", duplicationWindow-1), duplicationWindow))

	hashes := windowHashes(numbered("a", 10), duplicationWindow)
	assert.Len(t, hashes, 10-duplicationWindow+1)

	// Reformatting does not change the hashes.
	indented := numbered("a", 10)
	for i := range indented {
		indented[i] = "    " + indented[i] + "   "
	}
	assert.Equal(t, hashes, windowHashes(indented, duplicationWindow))
}

func TestDuplicationRatio(t *testing.T) {
	original := numbered("shared", 10)
	other := toSet(windowHashes(original, duplicationWindow))

	t.Run("no duplication", func(t *testing.T) {
		w := windowHashes(numbered("unique", 10), duplicationWindow)
		assert.Zero(t, duplicationRatio(w, []map[uint64]struct{}{other}))
	})

	t.Run("full copy", func(t *testing.T) {
		w := windowHashes(original, duplicationWindow)
		assert.Equal(t, 1.0, duplicationRatio(w, []map[uint64]struct{}{other}))
	})

	t.Run("partial copy", func(t *testing.T) {
		lines := append(numbered("unique", 10), original[:duplicationWindow]...)
		w := windowHashes(lines, duplicationWindow)
		require.NotEmpty(t, w)
		ratio := duplicationRatio(w, []map[uint64]struct{}{other})
		assert.InDelta(t, 1.0/float64(len(w)), ratio, 1e-9)
	})

	t.Run("repeated inside one file", func(t *testing.T) {
		block := numbered("block", duplicationWindow)
		lines := append(append(append([]string{}, block...), numbered("gap", duplicationWindow)...), block...)
		w := windowHashes(lines, duplicationWindow)
		assert.Greater(t, duplicationRatio(w, nil), 0.0)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Zero(t, duplicationRatio(nil, []map[uint64]struct{}{other}))
	})
}
