package service

import (
	"fmt"
	"math"
	"math/bits"
	"slices"
	"strings"

	"github.com/mmeshcher/piggybag/internal/model"
)

// Allocate делит pool между донорами пропорционально их сумме взносов.
//
// Доли округляются вниз, остаток целиком получает первый донор в порядке
// убывания суммы взносов (при равенстве по возрастанию адреса). Сумма долей
// всегда равна pool. Нулевые доли в результат не попадают.
func Allocate(pool int64, donors []model.Donor) ([]model.Allocation, error) {
	if pool <= 0 {
		return nil, fmt.Errorf("%w: reward pool must be positive", ErrInvalidInput)
	}

	eligible := make([]model.Donor, 0, len(donors))
	for _, d := range donors {
		if d.TotalDonated > 0 {
			eligible = append(eligible, d)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleDonors
	}

	slices.SortFunc(eligible, func(a, b model.Donor) int {
		switch {
		case a.TotalDonated > b.TotalDonated:
			return -1
		case a.TotalDonated < b.TotalDonated:
			return 1
		}
		return strings.Compare(a.DonorAddress, b.DonorAddress)
	})

	var total int64
	for _, d := range eligible {
		if total > math.MaxInt64-d.TotalDonated {
			return nil, fmt.Errorf("%w: sum of donor totals overflows", ErrInvalidDonorTotals)
		}
		total += d.TotalDonated
	}
	if total <= 0 {
		return nil, ErrInvalidDonorTotals
	}

	shares := make([]int64, len(eligible))
	var allocated int64
	for i, d := range eligible {
		shares[i] = floorShare(pool, d.TotalDonated, total)
		allocated += shares[i]
	}
	shares[0] += pool - allocated

	plan := make([]model.Allocation, 0, len(eligible))
	for i, d := range eligible {
		if shares[i] == 0 {
			continue
		}
		plan = append(plan, model.Allocation{
			DonorAddress: d.DonorAddress,
			Amount:       shares[i],
			Position:     len(plan),
			Status:       model.AllocationStatusPending,
		})
	}
	if len(plan) == 0 {
		return nil, ErrNoPositivePayouts
	}

	return plan, nil
}

// floorShare возвращает floor(pool*part/total) без переполнения.
// Требует 0 < part <= total, поэтому частное не превышает pool.
func floorShare(pool, part, total int64) int64 {
	hi, lo := bits.Mul64(uint64(pool), uint64(part))
	q, _ := bits.Div64(hi, lo, uint64(total))
	return int64(q)
}
