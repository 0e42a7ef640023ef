// Package requirement decides whether a taker's vault satisfies one
// requirement slot of a mutation.
package requirement

import (
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
)

// Evaluate passes when the vault holds at least the required amount in the
// requirement's units. It has no side effects.
func Evaluate(req contracts.TakerTokenConfig, contents contracts.VaultContents) error {
	switch req.RequiredUnits {
	case contracts.UnitsGems:
		if contents.GemCount < req.RequiredAmount {
			return contracts.Errorf(contracts.CodeInsufficientVaultGems,
				"have %d gems, need %d", contents.GemCount, req.RequiredAmount)
		}
	case contracts.UnitsRarityPoints:
		if contents.RarityPoints < req.RequiredAmount {
			return contracts.Errorf(contracts.CodeInsufficientVaultRarityPoints,
				"have %d rarity points, need %d", contents.RarityPoints, req.RequiredAmount)
		}
	default:
		return contracts.Errorf(contracts.CodeSerializationIssue, "unknown units %q", req.RequiredUnits)
	}
	return nil
}

// ContentsFunc resolves the vault contents for a requirement slot.
type ContentsFunc func(slot contracts.TakerSlot) (contracts.VaultContents, error)

// EvaluateAll checks every configured slot in order and stops at the first
// failure. Absent slots are never visited.
func EvaluateAll(cfg *contracts.MutationConfig, contents ContentsFunc) error {
	for _, slot := range cfg.TakerSlots() {
		c, err := contents(slot)
		if err != nil {
			return err
		}
		if err := Evaluate(slot.Config, c); err != nil {
			return err
		}
	}
	return nil
}
