package handler

import (
	"net/http"
	"time"

	"github.com/mmeshcher/piggybag/internal/model"
)

// writeList отдаёт 204 на пустой список, иначе JSON-массив.
func writeList[T, R any](w http.ResponseWriter, items []T, convert func(T) R) {
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]R, 0, len(items))
	for _, it := range items {
		resp = append(resp, convert(it))
	}
	writeJSON(w, http.StatusOK, resp)
}

type projectResponse struct {
	ID             string `json:"id"`
	AppID          int64  `json:"app_id"`
	AppAddress     string `json:"app_address"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	CreatorAddress string `json:"creator_address"`
	GoalAmount     int64  `json:"goal_amount"`
	TotalDeposited int64  `json:"total_deposited"`
	GoalReached    bool   `json:"is_goal_reached"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      string `json:"created_at"`
}

func newProjectResponse(p model.Project) projectResponse {
	return projectResponse{
		ID:             p.ID,
		AppID:          p.AppID,
		AppAddress:     p.AppAddress,
		Name:           p.Name,
		Description:    p.Description,
		CreatorAddress: p.CreatorAddress,
		GoalAmount:     p.GoalAmount,
		TotalDeposited: p.TotalDeposited,
		GoalReached:    p.GoalReached,
		IsActive:       p.IsActive,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
}

type depositResponse struct {
	ProjectID        string `json:"project_id"`
	AppID            int64  `json:"app_id"`
	DepositorAddress string `json:"depositor_address"`
	Amount           int64  `json:"amount"`
	TxnID            string `json:"txn_id"`
	RoundNumber      *int64 `json:"round_number,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func newDepositResponse(d model.Deposit) depositResponse {
	return depositResponse{
		ProjectID:        d.ProjectID,
		AppID:            d.AppID,
		DepositorAddress: d.DepositorAddress,
		Amount:           d.Amount,
		TxnID:            d.TxnID,
		RoundNumber:      d.RoundNumber,
		CreatedAt:        d.CreatedAt.Format(time.RFC3339),
	}
}

type withdrawalResponse struct {
	ProjectID         string `json:"project_id"`
	AppID             int64  `json:"app_id"`
	WithdrawerAddress string `json:"withdrawer_address"`
	Amount            int64  `json:"amount"`
	TxnID             string `json:"txn_id"`
	RoundNumber       *int64 `json:"round_number,omitempty"`
	CreatedAt         string `json:"created_at"`
}

func newWithdrawalResponse(w model.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ProjectID:         w.ProjectID,
		AppID:             w.AppID,
		WithdrawerAddress: w.WithdrawerAddress,
		Amount:            w.Amount,
		TxnID:             w.TxnID,
		RoundNumber:       w.RoundNumber,
		CreatedAt:         w.CreatedAt.Format(time.RFC3339),
	}
}

type donorResponse struct {
	DonorAddress  string `json:"donor_address"`
	TotalDonated  int64  `json:"total_donated"`
	DonationCount int64  `json:"donation_count"`
	LastDonatedAt string `json:"last_donated_at"`
}

func newDonorResponse(d model.Donor) donorResponse {
	return donorResponse{
		DonorAddress:  d.DonorAddress,
		TotalDonated:  d.TotalDonated,
		DonationCount: d.DonationCount,
		LastDonatedAt: d.LastDonatedAt.Format(time.RFC3339),
	}
}

type rewardResponse struct {
	ID                string  `json:"id"`
	ProjectID         string  `json:"project_id"`
	Title             string  `json:"title"`
	Description       *string `json:"description,omitempty"`
	PoolAmount        int64   `json:"reward_pool_amount"`
	DistributedAmount int64   `json:"distributed_amount"`
	Status            string  `json:"status"`
	IsDistributed     bool    `json:"is_distributed"`
	CreatedBy         string  `json:"created_by_address"`
	CreatedAt         string  `json:"created_at"`
	DistributedAt     string  `json:"distributed_at,omitempty"`
}

func newRewardResponse(rw model.Reward) rewardResponse {
	resp := rewardResponse{
		ID:                rw.ID,
		ProjectID:         rw.ProjectID,
		Title:             rw.Title,
		Description:       rw.Description,
		PoolAmount:        rw.PoolAmount,
		DistributedAmount: rw.DistributedAmount,
		Status:            string(rw.Status),
		IsDistributed:     rw.IsDistributed,
		CreatedBy:         rw.CreatedBy,
		CreatedAt:         rw.CreatedAt.Format(time.RFC3339),
	}
	if rw.DistributedAt != nil {
		resp.DistributedAt = rw.DistributedAt.Format(time.RFC3339)
	}
	return resp
}

type distributionResponse struct {
	RewardID     string `json:"reward_id"`
	DonorAddress string `json:"donor_address"`
	Amount       int64  `json:"amount"`
	TxnID        string `json:"txn_id"`
	CreatedAt    string `json:"created_at"`
}

func newDistributionResponse(d model.RewardDistribution) distributionResponse {
	return distributionResponse{
		RewardID:     d.RewardID,
		DonorAddress: d.DonorAddress,
		Amount:       d.Amount,
		TxnID:        d.TxnID,
		CreatedAt:    d.CreatedAt.Format(time.RFC3339),
	}
}
