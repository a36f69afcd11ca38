package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"carrierwave/internal/config"
	"carrierwave/internal/domain"
	"carrierwave/internal/settlement"
)

func newSettleCmd() *cobra.Command {
	var (
		amount uint64
		fee    uint32
		shares []uint
		splits []uint
	)
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Preview how a bounty amount would be settled",
		Long: `Preview a settlement without touching the ledger.

With a single --share the per-claim split is printed. Repeat --share (and
optionally --split, positionally) to plan a bounty with several approved
claims, including the rounding remainder routed to the treasury.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// A lone --split pairs with the implicit 10000 bps share.
			if len(splits) > max(len(shares), 1) {
				return fmt.Errorf("%d splits given for %d shares", len(splits), len(shares))
			}
			shareBps, err := toBps("share", shares)
			if err != nil {
				return err
			}
			splitBps, err := toBps("split", splits)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if len(shares) <= 1 {
				share := uint32(domain.MaxBps)
				if len(shareBps) == 1 {
					share = shareBps[0]
				}
				var split uint32
				if len(splitBps) == 1 {
					split = splitBps[0]
				}
				s, err := settlement.Settle(amount, fee, share, split)
				if err != nil {
					return err
				}
				return enc.Encode(s)
			}

			allocs := make([]settlement.Allocation, len(shareBps))
			for i, sh := range shareBps {
				allocs[i] = settlement.Allocation{ClaimIndex: uint32(i), ShareBps: sh}
				if i < len(splitBps) {
					allocs[i].InstitutionSplitBps = splitBps[i]
				}
			}
			plan, err := settlement.Plan(amount, fee, allocs)
			if err != nil {
				return err
			}
			return enc.Encode(plan)
		},
	}
	cmd.Flags().Uint64Var(&amount, "amount", 0, "bounty amount in smallest currency units")
	cmd.Flags().Uint32Var(&fee, "fee", defaultFee(), "platform fee in bps (default from PLATFORM_FEE_BPS)")
	cmd.Flags().UintSliceVar(&shares, "share", nil, "approved claim share in bps; repeat for several claims")
	cmd.Flags().UintSliceVar(&splits, "split", nil, "institution split in bps for the matching --share")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// toBps rejects values above 10000 before narrowing them to uint32.
func toBps(flag string, vals []uint) ([]uint32, error) {
	out := make([]uint32, len(vals))
	for i, v := range vals {
		if v > domain.MaxBps {
			return nil, fmt.Errorf("--%s %d out of range 0..%d", flag, v, domain.MaxBps)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

func defaultFee() uint32 {
	cfg, _ := config.Load()
	return cfg.PlatformFeeBps
}
