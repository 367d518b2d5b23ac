package service

import (
	"errors"
	"fmt"
)

// Ошибки сервиса. Сопоставляются через errors.Is.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotCreator             = errors.New("caller is not the project creator")
	ErrDepositNotVerified     = errors.New("deposit not verified on chain")
	ErrPartialAccounting      = errors.New("partial accounting failure")
	ErrAlreadyDistributed     = errors.New("reward already distributed")
	ErrNoEligibleDonors       = errors.New("no donors with positive totals")
	ErrInvalidDonorTotals     = errors.New("invalid donor totals")
	ErrNoPositivePayouts      = errors.New("no positive payouts")
	ErrDistributionInProgress = errors.New("distribution already in progress")
	ErrLeaseLost              = errors.New("distribution lease lost")
	ErrPayoutUnresolved       = errors.New("payout with unknown outcome must be resolved first")
	ErrPayoutFailed           = errors.New("payout failed")
)

// PayoutError описывает неудачную выплату донору. Выплаты, сделанные до неё, остаются в силе.
type PayoutError struct {
	Donor  string
	Amount int64
	Err    error
}

func (e *PayoutError) Error() string {
	return fmt.Sprintf("payout of %d to %s failed: %v", e.Amount, e.Donor, e.Err)
}

func (e *PayoutError) Unwrap() error { return e.Err }

// Is сопоставляет ошибку с ErrPayoutFailed.
func (e *PayoutError) Is(target error) bool {
	return target == ErrPayoutFailed
}
