package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/piggybag/internal/model"
)

const rewardColumns = `id, project_id, title, description, reward_pool_amount, distributed_amount,
	status, is_distributed, created_by_address, created_at, distributed_at`

func scanReward(row pgx.Row) (*model.Reward, error) {
	var (
		rw     model.Reward
		status string
	)
	err := row.Scan(
		&rw.ID, &rw.ProjectID, &rw.Title, &rw.Description, &rw.PoolAmount, &rw.DistributedAmount,
		&status, &rw.IsDistributed, &rw.CreatedBy, &rw.CreatedAt, &rw.DistributedAt,
	)
	if err != nil {
		return nil, err
	}
	rw.Status = model.RewardStatus(status)
	return &rw, nil
}

// CreateReward сохраняет новую награду в статусе pending.
func (r *PostgresRepository) CreateReward(ctx context.Context, rw *model.Reward) error {
	rw.ID = uuid.NewString()

	var status string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO project_rewards (id, project_id, title, description, reward_pool_amount, created_by_address)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING distributed_amount, status, is_distributed, created_at`,
		rw.ID, rw.ProjectID, rw.Title, rw.Description, rw.PoolAmount, rw.CreatedBy,
	).Scan(&rw.DistributedAmount, &status, &rw.IsDistributed, &rw.CreatedAt)
	if err != nil {
		return wrapErr("create reward", err)
	}

	rw.Status = model.RewardStatus(status)
	return nil
}

// GetReward возвращает награду по идентификатору.
func (r *PostgresRepository) GetReward(ctx context.Context, id string) (*model.Reward, error) {
	return withRetry(ctx, "get reward", func() (*model.Reward, error) {
		rw, err := scanReward(r.pool.QueryRow(ctx,
			`SELECT `+rewardColumns+` FROM project_rewards WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return rw, err
	})
}

// ListRewards возвращает награды проекта, новые первыми.
func (r *PostgresRepository) ListRewards(ctx context.Context, projectID string) ([]model.Reward, error) {
	return withRetry(ctx, "list rewards", func() ([]model.Reward, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT `+rewardColumns+` FROM project_rewards WHERE project_id = $1 ORDER BY created_at DESC`,
			projectID,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var res []model.Reward
		for rows.Next() {
			rw, err := scanReward(rows)
			if err != nil {
				return nil, fmt.Errorf("scan reward: %w", err)
			}
			res = append(res, *rw)
		}

		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}
		return res, nil
	})
}

// BeginDistribution переводит награду из pending в distributing и сохраняет план выплат
// в одной транзакции. Если награда уже не в pending, возвращает ErrRewardStateConflict.
func (r *PostgresRepository) BeginDistribution(ctx context.Context, rewardID string, plan []model.Allocation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE project_rewards SET status = $2
		 WHERE id = $1 AND status = $3 AND NOT is_distributed`,
		rewardID, string(model.RewardStatusDistributing), string(model.RewardStatusPending),
	)
	if err != nil {
		return wrapErr("claim reward", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: reward %s is not pending", ErrRewardStateConflict, rewardID)
	}

	batch := &pgx.Batch{}
	for _, a := range plan {
		batch.Queue(
			`INSERT INTO reward_allocations (reward_id, donor_address, amount, position, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			rewardID, a.DonorAddress, a.Amount, a.Position, string(model.AllocationStatusPending),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrapErr("insert allocations", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapErr("commit tx", err)
	}
	return nil
}

// ListAllocations возвращает сохранённый план выплат в порядке позиций.
func (r *PostgresRepository) ListAllocations(ctx context.Context, rewardID string) ([]model.Allocation, error) {
	return withRetry(ctx, "list allocations", func() ([]model.Allocation, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT donor_address, amount, position, status, txn_id, failure, updated_at
			 FROM reward_allocations
			 WHERE reward_id = $1
			 ORDER BY position`,
			rewardID,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var res []model.Allocation
		for rows.Next() {
			a := model.Allocation{RewardID: rewardID}
			var status string
			if err := rows.Scan(&a.DonorAddress, &a.Amount, &a.Position, &status, &a.TxnID, &a.Failure, &a.UpdatedAt); err != nil {
				return nil, fmt.Errorf("scan allocation: %w", err)
			}
			a.Status = model.AllocationStatus(status)
			res = append(res, a)
		}

		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}
		return res, nil
	})
}

// RecordPayout сохраняет запись о выплате и отмечает долю донора оплаченной.
func (r *PostgresRepository) RecordPayout(ctx context.Context, d *model.RewardDistribution) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE reward_allocations
		 SET status = $3, txn_id = $4, failure = '', updated_at = now()
		 WHERE reward_id = $1 AND donor_address = $2 AND status <> $3`,
		d.RewardID, d.DonorAddress, string(model.AllocationStatusPaid), d.TxnID,
	)
	if err != nil {
		return wrapErr("mark allocation paid", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: allocation for %s is already paid", ErrRewardStateConflict, d.DonorAddress)
	}

	d.ID = uuid.NewString()
	err = tx.QueryRow(ctx,
		`INSERT INTO reward_distributions (id, reward_id, project_id, donor_address, amount, txn_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		d.ID, d.RewardID, d.ProjectID, d.DonorAddress, d.Amount, d.TxnID,
	).Scan(&d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, d.TxnID)
		}
		return wrapErr("insert distribution", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapErr("commit tx", err)
	}
	return nil
}

// MarkAllocation меняет статус неоплаченной доли донора.
func (r *PostgresRepository) MarkAllocation(ctx context.Context, rewardID, donor string, status model.AllocationStatus, failure string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE reward_allocations
		 SET status = $3, failure = $4, updated_at = now()
		 WHERE reward_id = $1 AND donor_address = $2 AND status <> $5`,
		rewardID, donor, string(status), failure, string(model.AllocationStatusPaid),
	)
	if err != nil {
		return wrapErr("mark allocation", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: no unpaid allocation for %s", ErrRewardStateConflict, donor)
	}
	return nil
}

// FinalizeReward закрывает распределение. Условие на сумму пула не даёт
// выставить is_distributed с несовпадающей суммой.
func (r *PostgresRepository) FinalizeReward(ctx context.Context, rewardID string, distributed int64) (*model.Reward, error) {
	rw, err := scanReward(r.pool.QueryRow(ctx,
		`UPDATE project_rewards
		 SET is_distributed = TRUE, status = $3, distributed_amount = $2, distributed_at = now()
		 WHERE id = $1 AND status = $4 AND NOT is_distributed AND reward_pool_amount = $2
		 RETURNING `+rewardColumns,
		rewardID, distributed, string(model.RewardStatusDistributed), string(model.RewardStatusDistributing),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: reward %s cannot be finalized with %d", ErrRewardStateConflict, rewardID, distributed)
		}
		return nil, wrapErr("finalize reward", err)
	}
	return rw, nil
}

// ListDistributions возвращает выплаты по награде.
func (r *PostgresRepository) ListDistributions(ctx context.Context, rewardID string) ([]model.RewardDistribution, error) {
	return withRetry(ctx, "list distributions", func() ([]model.RewardDistribution, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT id, reward_id, project_id, donor_address, amount, txn_id, created_at
			 FROM reward_distributions
			 WHERE reward_id = $1
			 ORDER BY created_at`,
			rewardID,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var res []model.RewardDistribution
		for rows.Next() {
			var d model.RewardDistribution
			if err := rows.Scan(&d.ID, &d.RewardID, &d.ProjectID, &d.DonorAddress, &d.Amount, &d.TxnID, &d.CreatedAt); err != nil {
				return nil, fmt.Errorf("scan distribution: %w", err)
			}
			res = append(res, d)
		}

		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}
		return res, nil
	})
}
