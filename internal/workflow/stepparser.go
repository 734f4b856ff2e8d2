package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/factotum-ai/factotum/internal/tasks"
)

// stepLineRe matches breakdown lines like "Step 1: ...", "step 2 - ..." or
// "3. ...". Oracle output is untrusted; accept the common shapes.
var stepLineRe = regexp.MustCompile(`(?im)^\s*(?:step\s+)?(\d+)\s*[.:\-)]\s*(.+)$`)

// ParseSteps extracts an ordered step list from oracle breakdown text.
// Steps come back sorted by their stated number with duplicates dropped;
// an empty slice means the breakdown produced nothing usable.
func ParseSteps(text string) []tasks.Step {
	matches := stepLineRe.FindAllStringSubmatch(text, -1)

	seen := make(map[int]bool)
	var steps []tasks.Step
	for _, match := range matches {
		number, err := strconv.Atoi(match[1])
		if err != nil || number <= 0 || seen[number] {
			continue
		}
		description := strings.TrimSpace(match[2])
		if description == "" {
			continue
		}
		seen[number] = true
		steps = append(steps, tasks.Step{
			Number:      number,
			Description: description,
			Status:      tasks.StepPending,
		})
	}

	// Stated numbers order the plan; renumber densely and assign IDs.
	for i := range steps {
		for j := i + 1; j < len(steps); j++ {
			if steps[j].Number < steps[i].Number {
				steps[i], steps[j] = steps[j], steps[i]
			}
		}
	}
	for i := range steps {
		steps[i].Number = i + 1
		steps[i].ID = fmt.Sprintf("step_%d", i+1)
	}
	return steps
}
