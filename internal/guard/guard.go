// Package guard enforces legal stage sequencing. Before the router's
// pick runs, the guard checks the session's run history against a
// prerequisite table; an out-of-order stage is a hard stop before any
// state changes. The table is data, so deployments can reshape the flow
// without touching the evaluation logic.
package guard

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/eyes"
)

// Execution is one row of session run history, the only input the guard
// reads. It mirrors the persisted run record.
type Execution struct {
	Eye       eyes.ID   `json:"eye"`
	Code      string    `json:"code"`
	OK        bool      `json:"ok"`
	CreatedAt time.Time `json:"created_at"`
}

// Decision reports whether a candidate stage may run and why.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Guard evaluates candidates against a prerequisite table. Safe for
// concurrent use; Reload swaps the table atomically under the lock.
type Guard struct {
	mu     sync.RWMutex
	table  Table
	logger *zap.Logger
}

// New builds a guard over the given table. Use DefaultTable for the
// built-in flow.
func New(table Table, logger *zap.Logger) (*Guard, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sequence table: %w", err)
	}
	return &Guard{table: table, logger: logger}, nil
}

// Allowed checks whether candidate may run given the executed history.
// Every prerequisite must have at least one passing execution.
func (g *Guard) Allowed(candidate eyes.ID, executed []Execution) Decision {
	if !candidate.Valid() {
		return g.reject(candidate, fmt.Sprintf("unknown stage %q", candidate))
	}

	g.mu.RLock()
	prereqs := g.table[candidate]
	g.mu.RUnlock()

	passed := make(map[eyes.ID]bool, len(executed))
	for _, run := range executed {
		if run.OK {
			passed[run.Eye] = true
		}
	}

	for _, prereq := range prereqs {
		if !passed[prereq] {
			return g.reject(candidate, fmt.Sprintf(
				"%s requires a passing %s run; none found in session history", candidate, prereq))
		}
	}

	reason := "no prerequisites"
	if len(prereqs) > 0 {
		reason = fmt.Sprintf("all %d prerequisite(s) satisfied", len(prereqs))
	}
	return Decision{Allowed: true, Reason: reason}
}

// Reload swaps in a new table after validating it. The previous table
// stays active when validation fails.
func (g *Guard) Reload(table Table) error {
	if err := table.Validate(); err != nil {
		return fmt.Errorf("invalid sequence table: %w", err)
	}
	g.mu.Lock()
	g.table = table
	g.mu.Unlock()
	g.logger.Info("Sequence table reloaded",
		zap.Int("stages", len(table)),
	)
	return nil
}

// Prerequisites returns the active prerequisite list for a stage.
func (g *Guard) Prerequisites(id eyes.ID) []eyes.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]eyes.ID, len(g.table[id]))
	copy(out, g.table[id])
	return out
}

// reject logs at debug only: the router probes eligibility through
// Allowed on every hop, so most rejections are routine filtering, not
// violations. The orchestrator records the metric for picks that
// escaped the router's own filtering.
func (g *Guard) reject(candidate eyes.ID, reason string) Decision {
	g.logger.Debug("Stage rejected by order guard",
		zap.String("eye", string(candidate)),
		zap.String("reason", reason),
	)
	return Decision{Allowed: false, Reason: reason}
}
