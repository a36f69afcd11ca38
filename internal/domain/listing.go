package domain

import (
	"strings"
	"time"
)

// Listing types served from the off-chain mirror. They are denormalized
// copies; the ledger store stays authoritative.

type BountySummary struct {
	ID         uint64       `json:"id"`
	Funder     Address      `json:"funder"`
	Amount     uint64       `json:"amount"`
	DiseaseTag string       `json:"diseaseTag"`
	Criteria   string       `json:"criteria"`
	Deadline   int64        `json:"deadline"`
	Status     BountyStatus `json:"status"`
	ClaimCount int          `json:"claimCount"`
	CreatedAt  time.Time    `json:"createdAt"`
	TxID       string       `json:"txId"`
}

type BountyFilter struct {
	Tag    string
	Status BountyStatus
	Funder *Address
	Page   int
	Limit  int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 50
)

// Normalize clamps paging to page >= 1 and 1 <= limit <= MaxPageLimit.
func (f BountyFilter) Normalize() BountyFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	f.Tag = TagKey(f.Tag)
	return f
}

type BountyPage struct {
	Bounties []BountySummary `json:"bounties"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	Pages    int             `json:"pages"`
}

// TagKey folds a disease tag for matching: lower case, whitespace runs to "_".
func TagKey(tag string) string {
	return strings.Join(strings.Fields(strings.ToLower(tag)), "_")
}
