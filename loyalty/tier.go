/*
tier.go - Balance-to-tier resolution

PURPOSE:
  Maps a point balance to a loyalty tier and to the distance from the
  next tier. Pure functions over a fixed ascending threshold table;
  no I/O, no state.

  Tier is a DERIVED value. It is recomputed on every balance read and
  never persisted as authoritative state; anything stored for display
  is a cache.

THRESHOLDS:
  BRONZE   >= 0
  PLATA    >= 1,000
  ORO      >= 5,000
  PLATINO  >= 15,000
  DIAMANTE >= 50,000
*/
package loyalty

// Tier is a named balance bracket used to gate benefits.
type Tier string

const (
	TierBronze   Tier = "BRONZE"
	TierPlata    Tier = "PLATA"
	TierOro      Tier = "ORO"
	TierPlatino  Tier = "PLATINO"
	TierDiamante Tier = "DIAMANTE"
)

// tierThresholds is ordered ascending; TierOf walks it from the top.
var tierThresholds = []struct {
	Tier Tier
	Min  int64
}{
	{TierBronze, 0},
	{TierPlata, 1_000},
	{TierOro, 5_000},
	{TierPlatino, 15_000},
	{TierDiamante, 50_000},
}

// TierInfo is the derived tier state for a balance.
type TierInfo struct {
	Current Tier
	// Next is the tier above Current, empty at the top tier.
	Next Tier
	// PointsToNext is the balance still needed to reach Next; 0 at the
	// top tier.
	PointsToNext int64
}

// TierOf returns the tier for a balance. Balances never go negative, but a
// negative input still resolves to the bottom tier rather than panicking.
func TierOf(balance int64) Tier {
	current := TierBronze
	for _, t := range tierThresholds {
		if balance >= t.Min {
			current = t.Tier
		}
	}
	return current
}

// Rank returns the position of the tier in the fixed ordering
// BRONZE < PLATA < ORO < PLATINO < DIAMANTE. Unknown tiers rank lowest.
func (t Tier) Rank() int {
	for i, th := range tierThresholds {
		if th.Tier == t {
			return i
		}
	}
	return 0
}

// TierInfoFor resolves the full tier state for a balance.
func TierInfoFor(balance int64) TierInfo {
	info := TierInfo{Current: TierOf(balance)}
	for _, t := range tierThresholds {
		if balance < t.Min {
			info.Next = t.Tier
			info.PointsToNext = t.Min - balance
			break
		}
	}
	return info
}

// BenefitsOf looks up the program's benefits for a tier, defaulting to the
// bottom tier's benefits when the tier is not explicitly configured.
func BenefitsOf(tier Tier, program *Program) []Benefit {
	if program == nil || program.BenefitsByTier == nil {
		return nil
	}
	if b, ok := program.BenefitsByTier[tier]; ok {
		return b
	}
	return program.BenefitsByTier[TierBronze]
}
