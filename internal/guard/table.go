package guard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arguslabs/argus/internal/eyes"
)

// Table maps each stage to the stages that must have passed before it
// may run. Stages absent from the table have no prerequisites.
type Table map[eyes.ID][]eyes.ID

// DefaultTable is the built-in flow: clarify opens a session, the code
// chain runs in phase order, document checks hang off clarify, and
// approval caps the run.
func DefaultTable() Table {
	return Table{
		eyes.Clarify:        {},
		eyes.Requirements:   {eyes.Clarify},
		eyes.PlanReview:     {eyes.Requirements},
		eyes.ScaffoldReview: {eyes.PlanReview},
		eyes.ImplReview:     {eyes.ScaffoldReview},
		eyes.TestsReview:    {eyes.ImplReview},
		eyes.DocsReview:     {eyes.TestsReview},
		eyes.Consistency:    {eyes.Clarify},
		eyes.Evidence:       {eyes.Clarify},
		eyes.FinalReview:    {eyes.Clarify},
		eyes.Approval:       {eyes.FinalReview},
		eyes.Memory:         {},
	}
}

// tableFile is the YAML shape of a sequence override file.
type tableFile struct {
	Sequence map[string]struct {
		Requires []string `yaml:"requires"`
	} `yaml:"sequence"`
}

// LoadTable reads a sequence override file. The result still has to
// pass Validate before a guard will accept it.
func LoadTable(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sequence file: %w", err)
	}
	return ParseTable(raw)
}

// ParseTable decodes YAML into a Table.
func ParseTable(raw []byte) (Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse sequence file: %w", err)
	}
	if len(file.Sequence) == 0 {
		return nil, fmt.Errorf("sequence file declares no stages")
	}

	table := make(Table, len(file.Sequence))
	for stage, entry := range file.Sequence {
		id, err := eyes.ParseID(stage)
		if err != nil {
			return nil, err
		}
		prereqs := make([]eyes.ID, 0, len(entry.Requires))
		for _, req := range entry.Requires {
			reqID, err := eyes.ParseID(req)
			if err != nil {
				return nil, fmt.Errorf("stage %s: %w", stage, err)
			}
			prereqs = append(prereqs, reqID)
		}
		table[id] = prereqs
	}
	return table, nil
}

// Validate rejects tables the guard cannot evaluate sensibly: unknown
// stage ids, self-prerequisites, and prerequisite cycles. Cycles are
// found with Kahn's algorithm; any node left unprocessed sits on one.
func (t Table) Validate() error {
	for stage, prereqs := range t {
		if !stage.Valid() {
			return fmt.Errorf("unknown stage %q", stage)
		}
		for _, p := range prereqs {
			if !p.Valid() {
				return fmt.Errorf("stage %s: unknown prerequisite %q", stage, p)
			}
			if p == stage {
				return fmt.Errorf("stage %s requires itself", stage)
			}
		}
	}

	inDegree := make(map[eyes.ID]int, len(t))
	dependents := make(map[eyes.ID][]eyes.ID, len(t))
	for stage := range t {
		inDegree[stage] = 0
	}
	for stage, prereqs := range t {
		for _, p := range prereqs {
			if _, tracked := inDegree[p]; !tracked {
				inDegree[p] = 0
			}
			dependents[p] = append(dependents[p], stage)
			inDegree[stage]++
		}
	}

	queue := make([]eyes.ID, 0, len(inDegree))
	for stage, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, stage)
		}
	}
	processed := 0
	for len(queue) > 0 {
		stage := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range dependents[stage] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if processed != len(inDegree) {
		var cyclic []string
		for stage, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, string(stage))
			}
		}
		return fmt.Errorf("prerequisite cycle involving: %v", cyclic)
	}
	return nil
}
