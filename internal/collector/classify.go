package collector

import (
	"regexp"

	"github.com/steveyegge/governor/internal/types"
)

// classifiers are tried in order; the first type whose pattern matches wins.
var classifiers = []struct {
	typ     types.InstructionType
	pattern *regexp.Regexp
}{
	{types.InstructionCreate, regexp.MustCompile(`(?i)\b(create|write|new|add|generate|implement|build|scaffold)\b`)},
	{types.InstructionEdit, regexp.MustCompile(`(?i)\b(edit|modify|update|change|fix|refactor|rename|replace)\b`)},
	{types.InstructionSearch, regexp.MustCompile(`(?i)\b(search|find|grep|locate|look\s+for|where)\b`)},
	{types.InstructionAnalyze, regexp.MustCompile(`(?i)\b(analy[sz]e|review|explain|investigate|evaluate|compare|audit)\b`)},
	{types.InstructionExecute, regexp.MustCompile(`(?i)\b(run|execute|test|deploy|install|start|launch)\b`)},
	{types.InstructionRead, regexp.MustCompile(`(?i)\b(read|show|view|open|display|cat|list|print)\b`)},
}

// Classify maps a prompt onto an instruction type by keyword.
func Classify(prompt string) types.InstructionType {
	for _, c := range classifiers {
		if c.pattern.MatchString(prompt) {
			return c.typ
		}
	}
	return types.InstructionGeneral
}
