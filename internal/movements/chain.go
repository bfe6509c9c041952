package movements

import (
	"fmt"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
)

// Snapshot is the counter state a replay arrives at.
type Snapshot struct {
	OnHand    int   `json:"on_hand"`
	Reserved  int   `json:"reserved"`
	Available int   `json:"available"`
	Sequence  int64 `json:"sequence"`
}

// ChainError points at the first movement that breaks the chain.
type ChainError struct {
	Sequence int64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("movement chain broken at sequence %d: %s", e.Sequence, e.Reason)
}

// VerifyChain checks that each movement is internally consistent and picks
// up exactly where the previous one left off. Movements must be in sequence
// order for a single ledger entry.
func VerifyChain(chain []models.StockMovement) error {
	for i, m := range chain {
		if m.QuantityAfter != m.QuantityBefore+m.QuantityChange {
			return &ChainError{Sequence: m.Sequence, Reason: "quantity_after != quantity_before + quantity_change"}
		}
		if m.QuantityBefore != m.OnHandBefore-m.ReservedBefore || m.QuantityAfter != m.OnHandAfter-m.ReservedAfter {
			return &ChainError{Sequence: m.Sequence, Reason: "available does not match on_hand - reserved"}
		}
		if i == 0 {
			continue
		}
		prev := chain[i-1]
		if m.StockItemID != prev.StockItemID {
			return &ChainError{Sequence: m.Sequence, Reason: "mixed ledger entries"}
		}
		if m.Sequence <= prev.Sequence {
			return &ChainError{Sequence: m.Sequence, Reason: "sequence not increasing"}
		}
		if m.QuantityBefore != prev.QuantityAfter || m.OnHandBefore != prev.OnHandAfter || m.ReservedBefore != prev.ReservedAfter {
			return &ChainError{Sequence: m.Sequence, Reason: "does not continue from previous movement"}
		}
	}
	return nil
}

// Replay verifies the chain and returns the state it ends in. An empty chain
// replays to zero.
func Replay(chain []models.StockMovement) (Snapshot, error) {
	if err := VerifyChain(chain); err != nil {
		return Snapshot{}, err
	}
	if len(chain) == 0 {
		return Snapshot{}, nil
	}
	last := chain[len(chain)-1]
	return Snapshot{
		OnHand:    last.OnHandAfter,
		Reserved:  last.ReservedAfter,
		Available: last.QuantityAfter,
		Sequence:  last.Sequence,
	}, nil
}
