package health

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ShouldExcludePath checks if a path matches any exclude patterns.
// Patterns can be:
//   - Directory prefixes: "vendor/" matches "vendor/foo.md"
//   - File suffixes: ".swp" matches "docs/notes.md.swp"
//   - Anywhere in path: ".git/" matches "docs/.git/config"
func ShouldExcludePath(relPath string, patterns []string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range patterns {
		// Match at path component boundaries so "vendor/" does not
		// match "vendorized/bar".
		if strings.HasPrefix(relPath, pattern) ||
			strings.Contains(relPath, "/"+pattern) ||
			strings.HasSuffix(relPath, pattern) {
			return true
		}
	}
	return false
}

// IsMonitored reports whether relPath matches one of the doublestar patterns.
func IsMonitored(relPath string, patterns []string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}
	return false
}

// navigationDepth is the number of directories between the root and the file.
func navigationDepth(relPath string) int {
	return strings.Count(filepath.ToSlash(relPath), "/")
}

// couldContainMonitored reports whether a directory may hold monitored
// files, so walkers can prune everything else.
func couldContainMonitored(relDir string, patterns []string) bool {
	if relDir == "." || relDir == "" {
		return true
	}
	relDir = filepath.ToSlash(relDir)
	for _, p := range patterns {
		base, _ := doublestar.SplitPattern(p)
		if base == "." {
			// A pattern rooted at the top level with wildcards could match
			// any directory.
			if strings.ContainsAny(p, "*?[{") {
				return true
			}
			continue
		}
		if base == relDir || strings.HasPrefix(base, relDir+"/") || strings.HasPrefix(relDir, base+"/") {
			return true
		}
	}
	return false
}
