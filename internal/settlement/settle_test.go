package settlement

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettle_ReferenceLifecycle(t *testing.T) {
	s, err := Settle(1000, 250, 10000, 2000)
	require.NoError(t, err)

	assert.Equal(t, uint64(25), s.PlatformCut)
	assert.Equal(t, uint64(975), s.Distributable)
	assert.Equal(t, uint64(975), s.ScientistGross)
	assert.Equal(t, uint64(195), s.InstitutionCut)
	assert.Equal(t, uint64(780), s.ScientistCut)
	assert.Equal(t, uint64(1000), s.Total())
}

func TestSettle_ReferenceLifecycleInWei(t *testing.T) {
	// 0.001 ETH, 2.5% fee, 100% share, 20% institution split
	s, err := Settle(1_000_000_000_000_000, 250, 10000, 2000)
	require.NoError(t, err)

	assert.Equal(t, uint64(25_000_000_000_000), s.PlatformCut)
	assert.Equal(t, uint64(195_000_000_000_000), s.InstitutionCut)
	assert.Equal(t, uint64(780_000_000_000_000), s.ScientistCut)
}

func TestSettle_Fixtures(t *testing.T) {
	tests := []struct {
		name                      string
		amount                    uint64
		fee, share, split         uint32
		platform, scientist, inst uint64
	}{
		{"zero amount", 0, 250, 10000, 2000, 0, 0, 0},
		{"no fee no split", 1000, 0, 10000, 0, 0, 1000, 0},
		{"half share", 1000, 250, 5000, 0, 25, 487, 0},
		{"full institution split", 1000, 0, 10000, 10000, 0, 0, 1000},
		{"truncation", 7, 250, 3333, 5000, 0, 1, 1},
		{"full fee", 1000, 10000, 10000, 2000, 1000, 0, 0},
		{"zero share", 1000, 250, 0, 2000, 25, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Settle(tt.amount, tt.fee, tt.share, tt.split)
			require.NoError(t, err)
			assert.Equal(t, tt.platform, s.PlatformCut, "platform")
			assert.Equal(t, tt.scientist, s.ScientistCut, "scientist")
			assert.Equal(t, tt.inst, s.InstitutionCut, "institution")
		})
	}
}

func TestSettle_RejectsOutOfRangeBps(t *testing.T) {
	_, err := Settle(1000, 10001, 0, 0)
	assert.Error(t, err)
	_, err = Settle(1000, 0, 10001, 0)
	assert.Error(t, err)
	_, err = Settle(1000, 0, 0, 10001)
	assert.Error(t, err)
}

func TestSettle_NoOverflowAtMaxAmount(t *testing.T) {
	s, err := Settle(math.MaxUint64, 10000, 10000, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), s.PlatformCut)

	s, err = Settle(math.MaxUint64, 0, 10000, 5000)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), s.ScientistGross)
	assert.LessOrEqual(t, s.InstitutionCut, s.ScientistGross)
	assert.Equal(t, s.ScientistGross, s.ScientistCut+s.InstitutionCut)
}

func TestSettle_NeverDisbursesMoreThanAmount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		amount := rng.Uint64()
		if i%2 == 0 {
			amount %= 1_000_000
		}
		fee := uint32(rng.Intn(maxBps + 1))
		share := uint32(rng.Intn(maxBps + 1))
		split := uint32(rng.Intn(maxBps + 1))

		s, err := Settle(amount, fee, share, split)
		require.NoError(t, err)
		require.LessOrEqual(t, s.PlatformCut, amount)
		require.Equal(t, amount-s.PlatformCut, s.Distributable)
		require.Equal(t, s.ScientistGross, s.ScientistCut+s.InstitutionCut)

		// Shortfall only comes from truncating the scientist gross.
		shortfall := s.Distributable - s.ScientistGross
		exact := float64(s.Distributable) * float64(maxBps-share) / maxBps
		require.InDelta(t, exact, float64(shortfall), 1+exact*1e-12,
			"amount=%d fee=%d share=%d split=%d", amount, fee, share, split)
	}
}
