package health

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
)

// maxLineBytes bounds a single scanned line.
const maxLineBytes = 1 << 20

// debtMarkerPattern counts technical-debt markers, one per occurrence.
var debtMarkerPattern = regexp.MustCompile(`\b(TODO|FIXME|HACK|XXX|DEPRECATED)\b|(?i:technical debt)`)

// fileSnapshot is everything the analyzers need from one read of a file.
type fileSnapshot struct {
	Lines       int
	DebtMarkers int
	Depth       int
	Windows     []uint64
}

// analyzeFile reads path once, streaming, and measures it.
func analyzeFile(path, relPath string) (*fileSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	snap := &fileSnapshot{Depth: navigationDepth(relPath)}
	var lines []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		snap.Lines++
		snap.DebtMarkers += len(debtMarkerPattern.FindAllStringIndex(line, -1))
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", relPath, err)
	}

	snap.Windows = windowHashes(lines, duplicationWindow)
	return snap, nil
}
