package lifecycle

import (
	"fmt"

	"github.com/g960059/riskdesk/internal/model"
)

// Transition is a single allowed edge in the lifecycle state machine.
type Transition struct {
	From model.Status
	To   model.Status
	// BlockedByFallback marks edges that are closed once fallback is active.
	BlockedByFallback bool
}

var transitionsTable = []Transition{
	{From: model.StatusPending, To: model.StatusInitializing},
	{From: model.StatusInitializing, To: model.StatusReady},
	{From: model.StatusInitializing, To: model.StatusFailed},

	// forced fallback
	{From: model.StatusPending, To: model.StatusFailed},
	{From: model.StatusReady, To: model.StatusFailed},

	{From: model.StatusFailed, To: model.StatusInitializing, BlockedByFallback: true},
}

// checkTransition reports whether from->to is allowed. Teardown resets to
// pending without consulting the table.
func checkTransition(from, to model.Status, fallbackActive bool) error {
	for _, t := range transitionsTable {
		if t.From != from || t.To != to {
			continue
		}
		if t.BlockedByFallback && fallbackActive {
			return fmt.Errorf("transition %s -> %s blocked: fallback active", from, to)
		}
		return nil
	}
	return fmt.Errorf("transition %s -> %s not allowed", from, to)
}
