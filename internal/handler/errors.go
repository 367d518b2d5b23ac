package handler

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mmeshcher/piggybag/internal/payment"
	"github.com/mmeshcher/piggybag/internal/payment/signer"
	"github.com/mmeshcher/piggybag/internal/repository"
	"github.com/mmeshcher/piggybag/internal/service"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Donor   string `json:"donor_address,omitempty"`
}

// errorKinds сопоставляет ошибки с кодом ответа. Порядок важен: первая подходящая запись выигрывает.
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{service.ErrNotCreator, http.StatusForbidden, "not_creator"},
	{service.ErrDepositNotVerified, http.StatusUnprocessableEntity, "deposit_not_verified"},
	{service.ErrPartialAccounting, http.StatusInternalServerError, "partial_accounting"},
	{service.ErrAlreadyDistributed, http.StatusConflict, "already_distributed"},
	{service.ErrNoEligibleDonors, http.StatusUnprocessableEntity, "no_eligible_donors"},
	{service.ErrInvalidDonorTotals, http.StatusUnprocessableEntity, "invalid_donor_totals"},
	{service.ErrNoPositivePayouts, http.StatusUnprocessableEntity, "no_positive_payouts"},
	{service.ErrDistributionInProgress, http.StatusConflict, "distribution_in_progress"},
	{service.ErrPayoutUnresolved, http.StatusConflict, "payout_unresolved"},
	{service.ErrLeaseLost, http.StatusConflict, "lease_lost"},
	{service.ErrPayoutFailed, http.StatusBadGateway, "payout_failed"},
	{repository.ErrNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrProjectExists, http.StatusConflict, "project_exists"},
	{repository.ErrDuplicateTransaction, http.StatusConflict, "duplicate_transaction"},
	{repository.ErrRewardStateConflict, http.StatusConflict, "reward_state_conflict"},
	{repository.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
	{payment.ErrNetworkUnavailable, http.StatusServiceUnavailable, "network_unavailable"},
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: "internal", Message: http.StatusText(http.StatusInternalServerError)}
	status := http.StatusInternalServerError

	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			status, resp.Error, resp.Message = k.status, k.code, err.Error()
			break
		}
	}

	var pe *service.PayoutError
	if errors.As(err, &pe) {
		resp.Donor = pe.Donor
		if retryAfter, ok := signer.IsRateLimited(err); ok {
			status = http.StatusTooManyRequests
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			}
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	writeJSON(w, status, resp)
}
