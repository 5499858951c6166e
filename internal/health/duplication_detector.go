package health

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// duplicationWindow is the number of normalized lines hashed per block.
const duplicationWindow = 5

// normalizeBlock removes whitespace, blank lines and comment leaders so
// reformatted copies still compare equal.
func normalizeBlock(lines []string) []string {
	var normalized []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#!") {
			continue
		}
		normalized = append(normalized, strings.ToLower(trimmed))
	}
	return normalized
}

// hashBlock hashes normalized lines down to the first 8 bytes of sha256.
func hashBlock(lines []string) uint64 {
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return binary.BigEndian.Uint64(sum[:8])
}

// windowHashes slides a window of size n over the normalized lines. Files
// shorter than one window yield nothing.
func windowHashes(lines []string, n int) []uint64 {
	normalized := normalizeBlock(lines)
	if len(normalized) < n {
		return nil
	}
	out := make([]uint64, 0, len(normalized)-n+1)
	for i := 0; i+n <= len(normalized); i++ {
		out = append(out, hashBlock(normalized[i:i+n]))
	}
	return out
}

// duplicationRatio is the share of windows that repeat inside the file or
// appear in any other file's window set.
func duplicationRatio(windows []uint64, others []map[uint64]struct{}) float64 {
	if len(windows) == 0 {
		return 0
	}
	seen := make(map[uint64]int, len(windows))
	for _, h := range windows {
		seen[h]++
	}
	dup := 0
	for _, h := range windows {
		if seen[h] > 1 {
			dup++
			continue
		}
		for _, set := range others {
			if _, ok := set[h]; ok {
				dup++
				break
			}
		}
	}
	return float64(dup) / float64(len(windows))
}
