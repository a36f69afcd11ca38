package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrierwave/internal/settlement"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSettle_SingleClaim(t *testing.T) {
	out, err := execute(t, "settle", "--amount", "1000", "--fee", "250", "--split", "2000")
	require.NoError(t, err)

	var s settlement.Split
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, settlement.Split{PlatformCut: 25, Distributable: 975, ScientistGross: 975, ScientistCut: 780, InstitutionCut: 195}, s)
}

func TestSettle_Plan(t *testing.T) {
	out, err := execute(t, "settle", "--amount", "999", "--fee", "250", "--share", "5000", "--share", "5000")
	require.NoError(t, err)

	var p settlement.BountyPlan
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, uint64(24), p.PlatformCut)
	require.Len(t, p.Payouts, 2)
	assert.Equal(t, uint64(487), p.Payouts[1].ScientistCut)
	assert.Equal(t, uint64(1), p.Remainder)
}

func TestSettle_Errors(t *testing.T) {
	_, err := execute(t, "settle", "--fee", "250")
	assert.Error(t, err, "amount is required")

	_, err = execute(t, "settle", "--amount", "10", "--fee", "10001")
	assert.Error(t, err)

	_, err = execute(t, "settle", "--amount", "10", "--split", "1", "--split", "2")
	assert.Error(t, err)

	_, err = execute(t, "settle", "--amount", "10", "--share", "5000", "--split", "1", "--split", "2")
	assert.Error(t, err)

	// 4294977296 would wrap to 10000 if narrowed before the range check.
	_, err = execute(t, "settle", "--amount", "10", "--share", "4294977296")
	assert.ErrorContains(t, err, "--share")
	_, err = execute(t, "settle", "--amount", "10", "--split", "10001")
	assert.ErrorContains(t, err, "--split")

	_, err = execute(t, "balance", "not-an-address")
	assert.Error(t, err)
}
