// Package settlement splits a bounty amount into platform, scientist and
// institution portions. All arithmetic is integer with truncating division and
// 128-bit intermediates, so no input in range can overflow.
package settlement

import (
	"fmt"
	"math/bits"
)

const maxBps = 10000

// Split is the result of settling one claim.
type Split struct {
	PlatformCut    uint64 `json:"platformCut"`
	Distributable  uint64 `json:"distributable"`
	ScientistGross uint64 `json:"scientistGross"`
	ScientistCut   uint64 `json:"scientistCut"`
	InstitutionCut uint64 `json:"institutionCut"`
}

// Total is everything the split disburses.
func (s Split) Total() uint64 { return s.PlatformCut + s.ScientistCut + s.InstitutionCut }

// Settle computes the split for a single claim holding shareBps of a bounty.
func Settle(amount uint64, platformFeeBps, shareBps, institutionSplitBps uint32) (Split, error) {
	if platformFeeBps > maxBps || shareBps > maxBps || institutionSplitBps > maxBps {
		return Split{}, fmt.Errorf("bps out of range: fee=%d share=%d split=%d", platformFeeBps, shareBps, institutionSplitBps)
	}
	var s Split
	s.PlatformCut = mulBps(amount, platformFeeBps)
	s.Distributable = amount - s.PlatformCut
	s.ScientistGross = mulBps(s.Distributable, shareBps)
	s.InstitutionCut = mulBps(s.ScientistGross, institutionSplitBps)
	s.ScientistCut = s.ScientistGross - s.InstitutionCut
	return s, nil
}

// mulBps returns v*bps/10000 truncated. bps <= 10000 keeps the high word below
// the divisor, which is what bits.Div64 requires.
func mulBps(v uint64, bps uint32) uint64 {
	hi, lo := bits.Mul64(v, uint64(bps))
	q, _ := bits.Div64(hi, lo, maxBps)
	return q
}
