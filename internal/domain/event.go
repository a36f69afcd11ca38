package domain

import "time"

type Op string

const (
	OpRegisterScientist Op = "scientist.registered"
	OpCreateBounty      Op = "bounty.created"
	OpSubmitClaim       Op = "claim.submitted"
	OpApproveClaim      Op = "claim.approved"
	OpRejectClaim       Op = "claim.rejected"
	OpFinalizeBounty    Op = "bounty.finalized"
	OpCancelBounty      Op = "bounty.cancelled"
	OpClaimEscrow       Op = "escrow.claimed"
)

// Receipt is the committed result of one engine transaction. The same payload
// is written to the outbox as an Event so the mirror can rebuild from it.
type Receipt struct {
	TxID      string            `json:"txId"`
	Op        Op                `json:"op"`
	Bounty    *Bounty           `json:"bounty,omitempty"`
	Claim     *Claim            `json:"claim,omitempty"`
	Escrows   []EscrowEntry     `json:"escrows,omitempty"`
	Scientist *ScientistProfile `json:"scientist,omitempty"`
	Transfers []Transfer        `json:"transfers,omitempty"`
	At        time.Time         `json:"at"`
}

// Event is a receipt as stored in the outbox. Seq is assigned by the store at
// commit and increases with commit order.
type Event struct {
	Seq      int64   `json:"seq"`
	Receipt  Receipt `json:"receipt"`
	Attempts int     `json:"attempts"`
}
