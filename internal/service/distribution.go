package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/piggybag/internal/events"
	"github.com/mmeshcher/piggybag/internal/lease"
	"github.com/mmeshcher/piggybag/internal/model"
	"github.com/mmeshcher/piggybag/internal/payment"
)

// bookkeepingTimeout ограничивает запись результата выплаты после отмены запроса.
const bookkeepingTimeout = 10 * time.Second

// RewardInput описывает новую награду.
type RewardInput struct {
	AppID       int64
	Caller      string
	Title       string
	Description *string
	PoolAmount  int64
}

// CreateReward создаёт награду проекта в статусе pending. Доступно только создателю проекта.
func (s *Service) CreateReward(ctx context.Context, in RewardInput) (*model.Reward, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.PoolAmount <= 0 {
		return nil, fmt.Errorf("%w: reward pool must be positive", ErrInvalidInput)
	}

	project, err := s.repo.GetProjectByAppID(ctx, in.AppID)
	if err != nil {
		return nil, err
	}
	if !isCreator(project, in.Caller) {
		return nil, ErrNotCreator
	}

	rw := &model.Reward{
		ProjectID:   project.ID,
		Title:       title,
		Description: in.Description,
		PoolAmount:  in.PoolAmount,
		CreatedBy:   project.CreatorAddress,
	}
	if err := s.repo.CreateReward(ctx, rw); err != nil {
		return nil, err
	}
	return rw, nil
}

// DistributeReward выплачивает пул награды донорам проекта.
//
// Первый запуск сохраняет план выплат и переводит награду в distributing.
// Повторный запуск не пересчитывает план и платит только неоплаченным донорам.
// Выплаты идут строго последовательно, первая ошибка останавливает запуск.
func (s *Service) DistributeReward(ctx context.Context, rewardID, caller string) (*model.DistributionResult, error) {
	reward, err := s.repo.GetReward(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if reward.IsDistributed {
		return nil, ErrAlreadyDistributed
	}

	project, err := s.repo.GetProject(ctx, reward.ProjectID)
	if err != nil {
		return nil, err
	}
	if !isCreator(project, caller) {
		return nil, ErrNotCreator
	}

	held, err := s.acquire(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	defer s.release(held, rewardID)

	// Состояние могло измениться, пока аренду держал другой запуск.
	reward, err = s.repo.GetReward(ctx, rewardID)
	if err != nil {
		return nil, err
	}

	plan, err := s.loadPlan(ctx, reward)
	if err != nil {
		return nil, err
	}

	var unresolved []string
	for _, a := range plan {
		if a.Status == model.AllocationStatusUnknown {
			unresolved = append(unresolved, a.DonorAddress)
		}
	}
	if len(unresolved) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrPayoutUnresolved, strings.Join(unresolved, ", "))
	}

	result := &model.DistributionResult{RewardID: rewardID}
	for _, a := range plan {
		if a.Status == model.AllocationStatusPaid {
			result.DistributedAmount += a.Amount
			result.Payouts = append(result.Payouts, model.Payout{DonorAddress: a.DonorAddress, Amount: a.Amount, TxnID: a.TxnID})
			continue
		}

		if err := held.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLeaseLost, err)
		}

		txnID, err := s.pay(ctx, project, reward, a)
		if err != nil {
			return nil, err
		}

		result.DistributedAmount += a.Amount
		result.Payouts = append(result.Payouts, model.Payout{DonorAddress: a.DonorAddress, Amount: a.Amount, TxnID: txnID})
	}

	finalized, err := s.repo.FinalizeReward(ctx, rewardID, result.DistributedAmount)
	if err != nil {
		return nil, err
	}

	s.logger.Info("reward distributed",
		zap.String("reward_id", rewardID),
		zap.Int64("amount", finalized.DistributedAmount),
		zap.Int("payouts", len(result.Payouts)),
	)
	s.publish(ctx, events.Event{
		Type:      events.EventRewardDistributed,
		ProjectID: project.ID,
		AppID:     project.AppID,
		RewardID:  rewardID,
		Amount:    finalized.DistributedAmount,
	})

	return result, nil
}

func (s *Service) acquire(ctx context.Context, rewardID string) (lease.Lease, error) {
	held, err := s.locker.Acquire(ctx, "reward:"+rewardID)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return nil, fmt.Errorf("%w: %w", ErrDistributionInProgress, err)
		}
		return nil, err
	}
	return held, nil
}

func (s *Service) release(held lease.Lease, rewardID string) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	if err := held.Release(ctx); err != nil {
		s.logger.Warn("release distribution lease", zap.String("reward_id", rewardID), zap.Error(err))
	}
}

// loadPlan возвращает сохранённый план выплат или рассчитывает и сохраняет новый.
func (s *Service) loadPlan(ctx context.Context, reward *model.Reward) ([]model.Allocation, error) {
	switch {
	case reward.IsDistributed || reward.Status == model.RewardStatusDistributed:
		return nil, ErrAlreadyDistributed
	case reward.Status == model.RewardStatusDistributing:
		plan, err := s.repo.ListAllocations(ctx, reward.ID)
		if err != nil {
			return nil, err
		}
		if len(plan) == 0 {
			return nil, fmt.Errorf("%w: reward %s has no saved plan", ErrNoPositivePayouts, reward.ID)
		}
		return plan, nil
	}

	donors, err := s.repo.ListDonorAggregates(ctx, reward.ProjectID)
	if err != nil {
		return nil, err
	}

	plan, err := Allocate(reward.PoolAmount, donors)
	if err != nil {
		return nil, err
	}

	if err := s.repo.BeginDistribution(ctx, reward.ID, plan); err != nil {
		return nil, err
	}
	for i := range plan {
		plan[i].RewardID = reward.ID
	}
	return plan, nil
}

// pay выполняет одну выплату и фиксирует её результат.
func (s *Service) pay(ctx context.Context, project *model.Project, reward *model.Reward, a model.Allocation) (string, error) {
	receipt, err := s.payer.SendPayment(ctx, payment.Request{
		From:      project.CreatorAddress,
		To:        a.DonorAddress,
		Amount:    a.Amount,
		Reference: reward.ID + ":" + a.DonorAddress,
	})
	if err != nil {
		status := model.AllocationStatusUnknown
		if errors.Is(err, payment.ErrRejected) {
			status = model.AllocationStatusFailed
		}
		s.markFailed(ctx, project, reward, a, status, err.Error())
		return "", &PayoutError{Donor: a.DonorAddress, Amount: a.Amount, Err: err}
	}

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	err = s.repo.RecordPayout(bctx, &model.RewardDistribution{
		RewardID:     reward.ID,
		ProjectID:    project.ID,
		DonorAddress: a.DonorAddress,
		Amount:       a.Amount,
		TxnID:        receipt.TxnID,
	})
	if err != nil {
		// Перевод выполнен, но не записан: повторять его нельзя.
		s.markFailed(ctx, project, reward, a, model.AllocationStatusUnknown,
			fmt.Sprintf("sent as %s, record failed: %v", receipt.TxnID, err))
		return "", &PayoutError{Donor: a.DonorAddress, Amount: a.Amount, Err: fmt.Errorf("record payout %s: %w", receipt.TxnID, err)}
	}

	s.logger.Info("payout sent",
		zap.String("reward_id", reward.ID),
		zap.String("donor", a.DonorAddress),
		zap.Int64("amount", a.Amount),
		zap.String("txn_id", receipt.TxnID),
	)
	return receipt.TxnID, nil
}

func (s *Service) markFailed(ctx context.Context, project *model.Project, reward *model.Reward, a model.Allocation, status model.AllocationStatus, reason string) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if err := s.repo.MarkAllocation(bctx, reward.ID, a.DonorAddress, status, reason); err != nil {
		s.logger.Error("mark allocation failed",
			zap.String("reward_id", reward.ID),
			zap.String("donor", a.DonorAddress),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}

	s.logger.Warn("payout failed",
		zap.String("reward_id", reward.ID),
		zap.String("donor", a.DonorAddress),
		zap.String("status", string(status)),
		zap.String("reason", reason),
	)
	s.publish(bctx, events.Event{
		Type:      events.EventPayoutFailed,
		ProjectID: project.ID,
		AppID:     project.AppID,
		RewardID:  reward.ID,
		Address:   a.DonorAddress,
		Amount:    a.Amount,
		Reason:    reason,
	})
}

// ResolvePayout закрывает выплату с неизвестным исходом. Непустой txnID означает,
// что перевод дошёл: доля помечается оплаченной. Пустой означает, что перевод не
// отправлен: доля становится failed и будет выплачена следующим запуском.
func (s *Service) ResolvePayout(ctx context.Context, rewardID, caller, donor, txnID string) error {
	reward, err := s.repo.GetReward(ctx, rewardID)
	if err != nil {
		return err
	}
	if reward.IsDistributed {
		return ErrAlreadyDistributed
	}

	project, err := s.repo.GetProject(ctx, reward.ProjectID)
	if err != nil {
		return err
	}
	if !isCreator(project, caller) {
		return ErrNotCreator
	}

	held, err := s.acquire(ctx, rewardID)
	if err != nil {
		return err
	}
	defer s.release(held, rewardID)

	plan, err := s.repo.ListAllocations(ctx, rewardID)
	if err != nil {
		return err
	}

	var target *model.Allocation
	for i := range plan {
		if strings.EqualFold(plan[i].DonorAddress, donor) {
			target = &plan[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: no allocation for %s", ErrInvalidInput, donor)
	}
	if target.Status != model.AllocationStatusUnknown {
		return fmt.Errorf("%w: allocation for %s is %s, not unknown", ErrInvalidInput, donor, target.Status)
	}

	txnID = normalizeTxnID(txnID)
	if txnID == "" {
		s.logger.Info("payout resolved as not sent", zap.String("reward_id", rewardID), zap.String("donor", target.DonorAddress))
		return s.repo.MarkAllocation(ctx, rewardID, target.DonorAddress, model.AllocationStatusFailed, "resolved as not sent")
	}

	s.logger.Info("payout resolved as sent",
		zap.String("reward_id", rewardID),
		zap.String("donor", target.DonorAddress),
		zap.String("txn_id", txnID),
	)
	return s.repo.RecordPayout(ctx, &model.RewardDistribution{
		RewardID:     rewardID,
		ProjectID:    project.ID,
		DonorAddress: target.DonorAddress,
		Amount:       target.Amount,
		TxnID:        txnID,
	})
}

// ListRewards возвращает награды проекта.
func (s *Service) ListRewards(ctx context.Context, appID int64) ([]model.Reward, error) {
	project, err := s.repo.GetProjectByAppID(ctx, appID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRewards(ctx, project.ID)
}

// ListDistributions возвращает выплаты по награде.
func (s *Service) ListDistributions(ctx context.Context, rewardID string) ([]model.RewardDistribution, error) {
	if _, err := s.repo.GetReward(ctx, rewardID); err != nil {
		return nil, err
	}
	return s.repo.ListDistributions(ctx, rewardID)
}
