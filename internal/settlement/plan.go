package settlement

import "fmt"

// Allocation is one approved claim entering settlement.
type Allocation struct {
	ClaimIndex          uint32
	ShareBps            uint32
	InstitutionSplitBps uint32
}

// Payout is the per-claim part of a plan.
type Payout struct {
	ClaimIndex     uint32 `json:"claimIndex"`
	ScientistCut   uint64 `json:"scientistCut"`
	InstitutionCut uint64 `json:"institutionCut"`
}

// BountyPlan settles a whole bounty. PlatformCut is charged once per bounty and
// Remainder is the truncation dust left after every payout.
type BountyPlan struct {
	Amount      uint64   `json:"amount"`
	PlatformCut uint64   `json:"platformCut"`
	Payouts     []Payout `json:"payouts"`
	Remainder   uint64   `json:"remainder"`
}

// Plan settles every allocation against amount. The shares must total exactly
// 10000 bps; the engine enforces that before calling.
func Plan(amount uint64, platformFeeBps uint32, allocs []Allocation) (BountyPlan, error) {
	p := BountyPlan{Amount: amount, Payouts: make([]Payout, 0, len(allocs))}
	var shares uint32
	var paid uint64
	for i, a := range allocs {
		shares += a.ShareBps
		if shares > maxBps {
			return BountyPlan{}, fmt.Errorf("allocations exceed %d bps", maxBps)
		}
		s, err := Settle(amount, platformFeeBps, a.ShareBps, a.InstitutionSplitBps)
		if err != nil {
			return BountyPlan{}, fmt.Errorf("claim %d: %w", a.ClaimIndex, err)
		}
		if i == 0 {
			p.PlatformCut = s.PlatformCut
		}
		p.Payouts = append(p.Payouts, Payout{
			ClaimIndex:     a.ClaimIndex,
			ScientistCut:   s.ScientistCut,
			InstitutionCut: s.InstitutionCut,
		})
		paid += s.ScientistCut + s.InstitutionCut
	}
	if len(allocs) == 0 {
		s, err := Settle(amount, platformFeeBps, 0, 0)
		if err != nil {
			return BountyPlan{}, err
		}
		p.PlatformCut = s.PlatformCut
	}
	p.Remainder = amount - p.PlatformCut - paid
	return p, nil
}
