// Package handler содержит HTTP-обработчики API сервиса PiggyBag.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/piggybag/internal/middleware"
	"github.com/mmeshcher/piggybag/internal/model"
	"github.com/mmeshcher/piggybag/internal/service"
	"github.com/mmeshcher/piggybag/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, appID int64) (*model.Project, error)
	ListProjects(ctx context.Context, creator string) ([]model.Project, error)
	TrendingProjects(ctx context.Context, limit int) ([]model.Project, error)
	SearchProjects(ctx context.Context, query string) ([]model.Project, error)
	NearGoalProjects(ctx context.Context, limit int) ([]model.Project, error)
	UpdateProject(ctx context.Context, in service.ProjectUpdate) (*model.Project, error)

	RecordConfirmedDeposit(ctx context.Context, in service.DepositInput) (*model.DepositResult, error)
	ListDeposits(ctx context.Context, appID int64) ([]model.Deposit, error)
	ListDonorDeposits(ctx context.Context, donor string) ([]model.Deposit, error)
	ListDonors(ctx context.Context, appID int64) ([]model.Donor, error)
	RecordWithdrawal(ctx context.Context, in service.WithdrawalInput) (*model.Withdrawal, error)
	ListWithdrawals(ctx context.Context, appID int64) ([]model.Withdrawal, error)

	CreateReward(ctx context.Context, in service.RewardInput) (*model.Reward, error)
	ListRewards(ctx context.Context, appID int64) ([]model.Reward, error)
	DistributeReward(ctx context.Context, rewardID, caller string) (*model.DistributionResult, error)
	ListDistributions(ctx context.Context, rewardID string) ([]model.RewardDistribution, error)
	ResolvePayout(ctx context.Context, rewardID, caller, donor, txnID string) error
}

// Handler реализует HTTP-обработчики API сервиса PiggyBag.
type Handler struct {
	service Service
	logger  *zap.Logger
	auth    *middleware.WalletAuth
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.WalletAuth) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
		auth:    auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func appIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "appID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	address, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "wallet address required"})
		return "", false
	}
	return address, true
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: message})
}

type createProjectRequest struct {
	AppID       int64  `json:"app_id"`
	AppAddress  string `json:"app_address"`
	Name        string `json:"name"`
	Description string `json:"description"`
	GoalAmount  int64  `json:"goal_amount"`
}

// CreateProject регистрирует проект от имени текущего кошелька.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	appAddress, ok := validation.NormalizeAddress(req.AppAddress)
	if !ok {
		badRequest(w, "app_address must be a hex wallet address")
		return
	}

	p := &model.Project{
		AppID:          req.AppID,
		AppAddress:     appAddress,
		Name:           req.Name,
		Description:    req.Description,
		CreatorAddress: caller,
		GoalAmount:     req.GoalAmount,
	}
	if err := h.service.CreateProject(r.Context(), p); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newProjectResponse(*p))
}

// GetProject возвращает проект по app id.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	appID, ok := appIDParam(r)
	if !ok {
		badRequest(w, "app id must be a positive integer")
		return
	}

	p, err := h.service.GetProject(r.Context(), appID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newProjectResponse(*p))
}

// ListProjects возвращает активные проекты, с параметром creator только проекты этого адреса.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	creator := r.URL.Query().Get("creator")
	if creator != "" {
		normalized, ok := validation.NormalizeAddress(creator)
		if !ok {
			badRequest(w, "creator must be a hex wallet address")
			return
		}
		creator = normalized
	}

	projects, err := h.service.ListProjects(r.Context(), creator)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, projects, newProjectResponse)
}

// limitParam читает необязательный параметр limit. Ноль означает значение по умолчанию.
func limitParam(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// TrendingProjects возвращает проекты с наибольшей суммой взносов.
func (h *Handler) TrendingProjects(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(r)
	if !ok {
		badRequest(w, "limit must be a positive integer")
		return
	}

	projects, err := h.service.TrendingProjects(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, projects, newProjectResponse)
}

// NearGoalProjects возвращает активные проекты, которым осталось меньше всего до цели.
func (h *Handler) NearGoalProjects(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(r)
	if !ok {
		badRequest(w, "limit must be a positive integer")
		return
	}

	projects, err := h.service.NearGoalProjects(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, projects, newProjectResponse)
}

type updateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	GoalAmount  *int64  `json:"goal_amount,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// UpdateProject меняет проект текущего кошелька, в том числе снимает его с публикации.
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	appID, ok := appIDParam(r)
	if !ok {
		badRequest(w, "app id must be a positive integer")
		return
	}

	var req updateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	p, err := h.service.UpdateProject(r.Context(), service.ProjectUpdate{
		AppID:       appID,
		Caller:      caller,
		Name:        req.Name,
		Description: req.Description,
		GoalAmount:  req.GoalAmount,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newProjectResponse(*p))
}

// SearchProjects ищет проекты по названию.
func (h *Handler) SearchProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.service.SearchProjects(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, projects, newProjectResponse)
}

type ledgerRequest struct {
	Amount      int64  `json:"amount"`
	TxnID       string `json:"txn_id"`
	RoundNumber *int64 `json:"round_number,omitempty"`
}

func decodeLedgerRequest(w http.ResponseWriter, r *http.Request) (*ledgerRequest, bool) {
	var req ledgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return nil, false
	}
	txnID, ok := validation.NormalizeTxnID(req.TxnID)
	if !ok {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid_txn_id", Message: "txn_id must be a transaction hash"})
		return nil, false
	}
	req.TxnID = txnID
	if req.Amount <= 0 {
		badRequest(w, "amount must be a positive integer")
		return nil, false
	}
	return &req, true
}

// RecordDeposit учитывает подтверждённый в сети взнос текущего кошелька.
func (h *Handler) RecordDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	appID, ok := appIDParam(r)
	if !ok {
		badRequest(w, "app id must be a positive integer")
		return
	}
	req, ok := decodeLedgerRequest(w, r)
	if !ok {
		return
	}

	res, err := h.service.RecordConfirmedDeposit(r.Context(), service.DepositInput{
		AppID:       appID,
		Donor:       caller,
		Amount:      req.Amount,
		TxnID:       req.TxnID,
		RoundNumber: req.RoundNumber,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// ListDeposits возвращает взносы проекта.
func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	appID, ok := appIDParam(r)
	if !ok {
		badRequest(w, "app id must be a positive integer")
		return
	}

	deposits, err := h.service.ListDeposits(r.Context(), appID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, deposits, newDepositResponse)
}

// ListDonorDeposits возвращает взносы адреса во все проекты.
func (h *Handler) ListDonorDeposits(w http.ResponseWriter, r *http.Request) {
	donor, ok := validation.NormalizeAddress(chi.URLParam(r, "address"))
	if !ok {
		badRequest(w, "address must be a hex wallet address")
		return
	}

	deposits, err := h.service.ListDonorDeposits(r.Context(), donor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, deposits, newDepositResponse)
}

// ListDonors возвращает агрегаты доноров проекта.
func (h *Handler) ListDonors(w http.ResponseWriter, r *http.Request) {
	appID, ok := appIDParam(r)
	if !ok {
		badRequest(w, "app id must be a positive integer")
		return
	}

	donors, err := h.service.ListDonors(r.Context(), appID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, donors, newDonorResponse)
}

// RecordWithdrawal записывает вывод средств создателем проекта.
func (h *Handler) RecordWithdrawal(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	appID, ok := appIDParam(r)
	if !ok {
		badRequest(w, "app id must be a positive integer")
		return
	}
	req, ok := decodeLedgerRequest(w, r)
	if !ok {
		return
	}

	wd, err := h.service.RecordWithdrawal(r.Context(), service.WithdrawalInput{
		AppID:       appID,
		Caller:      caller,
		Amount:      req.Amount,
		TxnID:       req.TxnID,
		RoundNumber: req.RoundNumber,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newWithdrawalResponse(*wd))
}

// ListWithdrawals возвращает выводы средств проекта.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	appID, ok := appIDParam(r)
	if !ok {
		badRequest(w, "app id must be a positive integer")
		return
	}

	withdrawals, err := h.service.ListWithdrawals(r.Context(), appID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, withdrawals, newWithdrawalResponse)
}

type createRewardRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	PoolAmount  int64   `json:"reward_pool_amount"`
}

// CreateReward создаёт награду проекта.
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	appID, ok := appIDParam(r)
	if !ok {
		badRequest(w, "app id must be a positive integer")
		return
	}

	var req createRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	rw, err := h.service.CreateReward(r.Context(), service.RewardInput{
		AppID:       appID,
		Caller:      caller,
		Title:       req.Title,
		Description: req.Description,
		PoolAmount:  req.PoolAmount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newRewardResponse(*rw))
}

// ListRewards возвращает награды проекта.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	appID, ok := appIDParam(r)
	if !ok {
		badRequest(w, "app id must be a positive integer")
		return
	}

	rewards, err := h.service.ListRewards(r.Context(), appID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, rewards, newRewardResponse)
}

// DistributeReward запускает или продолжает распределение награды.
func (h *Handler) DistributeReward(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	rewardID := chi.URLParam(r, "rewardID")
	res, err := h.service.DistributeReward(r.Context(), rewardID, caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ListDistributions возвращает выплаты по награде.
func (h *Handler) ListDistributions(w http.ResponseWriter, r *http.Request) {
	distributions, err := h.service.ListDistributions(r.Context(), chi.URLParam(r, "rewardID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, distributions, newDistributionResponse)
}

type resolvePayoutRequest struct {
	DonorAddress string `json:"donor_address"`
	TxnID        string `json:"txn_id"`
}

// ResolvePayout закрывает выплату с неизвестным исходом.
func (h *Handler) ResolvePayout(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req resolvePayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	donor, ok := validation.NormalizeAddress(req.DonorAddress)
	if !ok {
		badRequest(w, "donor_address must be a hex wallet address")
		return
	}
	if req.TxnID != "" {
		txnID, ok := validation.NormalizeTxnID(req.TxnID)
		if !ok {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid_txn_id", Message: "txn_id must be a transaction hash"})
			return
		}
		req.TxnID = txnID
	}

	if err := h.service.ResolvePayout(r.Context(), chi.URLParam(r, "rewardID"), caller, donor, req.TxnID); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
