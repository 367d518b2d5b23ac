package service

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/piggybag/internal/model"
)

func donors(totals map[string]int64) []model.Donor {
	res := make([]model.Donor, 0, len(totals))
	for addr, total := range totals {
		res = append(res, model.Donor{DonorAddress: addr, TotalDonated: total})
	}
	return res
}

func byDonor(plan []model.Allocation) map[string]int64 {
	res := make(map[string]int64, len(plan))
	for _, a := range plan {
		res[a.DonorAddress] = a.Amount
	}
	return res
}

func sum(plan []model.Allocation) int64 {
	var s int64
	for _, a := range plan {
		s += a.Amount
	}
	return s
}

func TestAllocate(t *testing.T) {
	tests := []struct {
		name   string
		pool   int64
		totals map[string]int64
		want   map[string]int64
	}{
		{
			name:   "exact split",
			pool:   100,
			totals: map[string]int64{"alice": 30, "bob": 30, "carol": 40},
			want:   map[string]int64{"alice": 30, "bob": 30, "carol": 40},
		},
		{
			name:   "remainder goes to first donor",
			pool:   10,
			totals: map[string]int64{"alice": 1, "bob": 1, "carol": 1},
			want:   map[string]int64{"alice": 4, "bob": 3, "carol": 3},
		},
		{
			name:   "pool smaller than donor count",
			pool:   2,
			totals: map[string]int64{"a": 10, "b": 10, "c": 10, "d": 10, "e": 10},
			want:   map[string]int64{"a": 2},
		},
		{
			name:   "largest donor gets remainder",
			pool:   10,
			totals: map[string]int64{"alice": 1, "bob": 2},
			want:   map[string]int64{"alice": 3, "bob": 7},
		},
		{
			name:   "zero totals are skipped",
			pool:   9,
			totals: map[string]int64{"alice": 0, "bob": 3, "carol": 6},
			want:   map[string]int64{"bob": 3, "carol": 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Allocate(tt.pool, donors(tt.totals))
			require.NoError(t, err)
			assert.Equal(t, tt.want, byDonor(plan))
			assert.Equal(t, tt.pool, sum(plan))
		})
	}
}

func TestAllocate_OrderIsDeterministic(t *testing.T) {
	in := []model.Donor{
		{DonorAddress: "carol", TotalDonated: 5},
		{DonorAddress: "alice", TotalDonated: 7},
		{DonorAddress: "bob", TotalDonated: 7},
	}
	reversed := []model.Donor{in[2], in[1], in[0]}

	a, err := Allocate(100, in)
	require.NoError(t, err)
	b, err := Allocate(100, reversed)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a, 3)
	assert.Equal(t, "alice", a[0].DonorAddress)
	assert.Equal(t, "bob", a[1].DonorAddress)
	assert.Equal(t, "carol", a[2].DonorAddress)
	for i, alloc := range a {
		assert.Equal(t, i, alloc.Position)
		assert.Equal(t, model.AllocationStatusPending, alloc.Status)
	}
}

func TestAllocate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		pool   int64
		donors []model.Donor
		want   error
	}{
		{name: "no donors", pool: 10, donors: nil, want: ErrNoEligibleDonors},
		{
			name:   "all totals zero",
			pool:   10,
			donors: []model.Donor{{DonorAddress: "a"}, {DonorAddress: "b"}},
			want:   ErrNoEligibleDonors,
		},
		{
			name: "totals overflow",
			pool: 10,
			donors: []model.Donor{
				{DonorAddress: "a", TotalDonated: math.MaxInt64},
				{DonorAddress: "b", TotalDonated: 1},
			},
			want: ErrInvalidDonorTotals,
		},
		{name: "zero pool", pool: 0, donors: []model.Donor{{DonorAddress: "a", TotalDonated: 1}}, want: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate(tt.pool, tt.donors)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAllocate_LargeValuesDoNotOverflow(t *testing.T) {
	half := int64(math.MaxInt64 / 2)
	plan, err := Allocate(math.MaxInt64, []model.Donor{
		{DonorAddress: "a", TotalDonated: half},
		{DonorAddress: "b", TotalDonated: half},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), sum(plan))
	assert.Equal(t, half, byDonor(plan)["b"])
}

func TestAllocate_SumAlwaysEqualsPool(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 500; i++ {
		n := 1 + rng.IntN(20)
		in := make([]model.Donor, n)
		var total int64
		for j := range in {
			in[j] = model.Donor{DonorAddress: string(rune('a' + j)), TotalDonated: rng.Int64N(1_000_000_000)}
			total += in[j].TotalDonated
		}
		pool := 1 + rng.Int64N(1_000_000_000_000)

		plan, err := Allocate(pool, in)
		if total == 0 {
			assert.ErrorIs(t, err, ErrNoEligibleDonors)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, pool, sum(plan), "iteration %d", i)

		first := plan[0]
		for _, d := range in {
			if d.DonorAddress != first.DonorAddress {
				continue
			}
			extra := first.Amount - floorShare(pool, d.TotalDonated, total)
			assert.GreaterOrEqual(t, extra, int64(0))
			assert.Less(t, extra, int64(n), "remainder must be below the donor count")
		}
	}
}
