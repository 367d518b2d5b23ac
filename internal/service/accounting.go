package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/piggybag/internal/events"
	"github.com/mmeshcher/piggybag/internal/model"
	"github.com/mmeshcher/piggybag/internal/repository"
)

// DepositInput описывает подтверждённый в сети взнос.
type DepositInput struct {
	AppID       int64
	Donor       string
	Amount      int64
	TxnID       string
	RoundNumber *int64
}

// RecordConfirmedDeposit учитывает взнос: запись в журнал, агрегат донора, сумма проекта.
//
// Повторный вызов с тем же TxnID ничего не меняет и возвращает текущую сумму
// проекта с Replayed = true. Если запись в журнал уже сделана, а агрегат или
// сумма проекта не обновились, возвращается ошибка ErrPartialAccounting.
func (s *Service) RecordConfirmedDeposit(ctx context.Context, in DepositInput) (*model.DepositResult, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Donor) == "" || strings.TrimSpace(in.TxnID) == "" {
		return nil, fmt.Errorf("%w: donor and txn id are required", ErrInvalidInput)
	}
	in.TxnID = normalizeTxnID(in.TxnID)

	project, err := s.repo.GetProjectByAppID(ctx, in.AppID)
	if err != nil {
		return nil, err
	}

	if s.verifier != nil {
		if err := s.verifier.VerifyTransfer(ctx, in.TxnID, in.Donor, project.AppAddress, in.Amount); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDepositNotVerified, err)
		}
	}

	deposit := &model.Deposit{
		ProjectID:        project.ID,
		AppID:            project.AppID,
		DepositorAddress: in.Donor,
		Amount:           in.Amount,
		TxnID:            in.TxnID,
		RoundNumber:      in.RoundNumber,
	}
	if err := s.repo.AppendDeposit(ctx, deposit); err != nil {
		if errors.Is(err, repository.ErrDuplicateTransaction) {
			s.logger.Info("deposit replay ignored",
				zap.Int64("app_id", project.AppID),
				zap.String("txn_id", in.TxnID),
			)
			return &model.DepositResult{
				NewTotal:    project.TotalDeposited,
				GoalReached: project.GoalReached,
				Replayed:    true,
			}, nil
		}
		return nil, err
	}

	if _, err := s.repo.UpsertDonorAggregate(ctx, project.ID, in.Donor, in.Amount); err != nil {
		s.logger.Error("donor aggregate update failed after deposit was recorded",
			zap.String("project_id", project.ID),
			zap.String("txn_id", in.TxnID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: update donor aggregate for txn %s: %w", ErrPartialAccounting, in.TxnID, err)
	}

	total, reached, err := s.repo.IncrementProjectTotal(ctx, project.ID, in.Amount)
	if err != nil {
		s.logger.Error("project total update failed after deposit was recorded",
			zap.String("project_id", project.ID),
			zap.String("txn_id", in.TxnID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: update project total for txn %s: %w", ErrPartialAccounting, in.TxnID, err)
	}

	s.publish(ctx, events.Event{
		Type:      events.EventDepositRecorded,
		ProjectID: project.ID,
		AppID:     project.AppID,
		Address:   in.Donor,
		Amount:    in.Amount,
		TxnID:     in.TxnID,
	})

	return &model.DepositResult{NewTotal: total, GoalReached: reached}, nil
}

// WithdrawalInput описывает вывод средств создателем проекта.
type WithdrawalInput struct {
	AppID       int64
	Caller      string
	Amount      int64
	TxnID       string
	RoundNumber *int64
}

// RecordWithdrawal добавляет запись о выводе средств. Сумма взносов проекта не меняется.
func (s *Service) RecordWithdrawal(ctx context.Context, in WithdrawalInput) (*model.Withdrawal, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(in.TxnID) == "" {
		return nil, fmt.Errorf("%w: txn id is required", ErrInvalidInput)
	}
	in.TxnID = normalizeTxnID(in.TxnID)

	project, err := s.repo.GetProjectByAppID(ctx, in.AppID)
	if err != nil {
		return nil, err
	}
	if !isCreator(project, in.Caller) {
		return nil, ErrNotCreator
	}

	w := &model.Withdrawal{
		ProjectID:         project.ID,
		AppID:             project.AppID,
		WithdrawerAddress: in.Caller,
		Amount:            in.Amount,
		TxnID:             in.TxnID,
		RoundNumber:       in.RoundNumber,
	}
	if err := s.repo.AppendWithdrawal(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// normalizeTxnID приводит идентификатор транзакции к нижнему регистру:
// уникальность в журнале проверяется по точному совпадению строк.
func normalizeTxnID(txnID string) string {
	return strings.ToLower(strings.TrimSpace(txnID))
}

func isCreator(p *model.Project, caller string) bool {
	return caller != "" && strings.EqualFold(p.CreatorAddress, caller)
}
