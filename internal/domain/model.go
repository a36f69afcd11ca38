package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Core ledger records. The engine owns every mutation of these; the mirror and
// HTTP layers only ever see copies.

// Address is a wallet address as supplied by the identity layer.
type Address = common.Address

// MaxBps is 100% expressed in basis points.
const MaxBps = 10000

type BountyStatus string

const (
	BountyOpen      BountyStatus = "open"
	BountyFinalized BountyStatus = "finalized"
	BountyCancelled BountyStatus = "cancelled"
)

type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
)

type ScientistProfile struct {
	WalletAddress       Address   `json:"walletAddress"`
	InstitutionName     string    `json:"institutionName"`
	InstitutionSplitBps uint32    `json:"institutionSplitBps"`
	Registered          bool      `json:"registered"`
	RegisteredAt        time.Time `json:"registeredAt"`
}

type Bounty struct {
	ID         uint64       `json:"id"`
	Funder     Address      `json:"funder"`
	Amount     uint64       `json:"amount"`
	DiseaseTag string       `json:"diseaseTag"`
	Criteria   string       `json:"criteria"`
	Deadline   int64        `json:"deadline"` // unix seconds
	Status     BountyStatus `json:"status"`
	Claims     []Claim      `json:"claims"`
	CreatedAt  time.Time    `json:"createdAt"`
	ClosedAt   *time.Time   `json:"closedAt,omitempty"`
}

// ApprovedShareBps sums the shares of every approved claim.
func (b Bounty) ApprovedShareBps() uint32 {
	var sum uint32
	for _, c := range b.Claims {
		if c.Status == ClaimApproved {
			sum += c.ShareBps
		}
	}
	return sum
}

// Clone returns a deep copy so callers can never alias the claim list.
func (b Bounty) Clone() Bounty {
	out := b
	if b.Claims != nil {
		out.Claims = make([]Claim, len(b.Claims))
		copy(out.Claims, b.Claims)
	}
	if b.ClosedAt != nil {
		t := *b.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

type Claim struct {
	BountyID      uint64      `json:"bountyId"`
	Index         uint32      `json:"index"`
	Scientist     Address     `json:"scientist"`
	ROID          string      `json:"roId"`
	Justification string      `json:"justification"`
	Status        ClaimStatus `json:"status"`
	ShareBps      uint32      `json:"shareBps"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// EscrowEntry is an institution's deferred share of a settled claim.
type EscrowEntry struct {
	ID              uint64     `json:"id"`
	BountyID        uint64     `json:"bountyId"`
	ClaimIndex      uint32     `json:"claimIndex"`
	Scientist       Address    `json:"scientist"`
	InstitutionName string     `json:"institutionName"`
	Amount          uint64     `json:"amount"`
	Claimed         bool       `json:"claimed"`
	Payee           *Address   `json:"payee,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ClaimedAt       *time.Time `json:"claimedAt,omitempty"`
}

type TransferKind string

const (
	TransferLock            TransferKind = "lock"
	TransferScientistPayout TransferKind = "scientist_payout"
	TransferPlatformFee     TransferKind = "platform_fee"
	TransferRoundingDust    TransferKind = "rounding_dust"
	TransferEscrowHold      TransferKind = "escrow_hold"
	TransferRefund          TransferKind = "refund"
	TransferEscrowRelease   TransferKind = "escrow_release"
)

// Transfer is one movement of funds requested from the host.
type Transfer struct {
	Kind     TransferKind `json:"kind"`
	From     Address      `json:"from"`
	To       Address      `json:"to"`
	Amount   uint64       `json:"amount"`
	BountyID uint64       `json:"bountyId"`
}
