package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/piggybag/internal/model"
)

// AppendDeposit добавляет запись о взносе. Повторная запись той же транзакции
// в рамках проекта возвращает ErrDuplicateTransaction.
func (r *PostgresRepository) AppendDeposit(ctx context.Context, d *model.Deposit) error {
	id := uuid.NewString()

	var createdAt time.Time
	err := r.pool.QueryRow(ctx,
		`INSERT INTO deposits (id, project_id, app_id, depositor_address, amount, txn_id, round_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (project_id, txn_id) DO NOTHING
		 RETURNING created_at`,
		id, d.ProjectID, d.AppID, d.DepositorAddress, d.Amount, d.TxnID, d.RoundNumber,
	).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, d.TxnID)
		}
		return wrapErr("insert deposit", err)
	}

	d.ID = id
	d.CreatedAt = createdAt
	return nil
}

// AppendWithdrawal добавляет запись о выводе средств. Баланс здесь не проверяется:
// его гарантирует контракт в сети.
func (r *PostgresRepository) AppendWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	id := uuid.NewString()

	var createdAt time.Time
	err := r.pool.QueryRow(ctx,
		`INSERT INTO withdrawals (id, project_id, app_id, withdrawer_address, amount, txn_id, round_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (project_id, txn_id) DO NOTHING
		 RETURNING created_at`,
		id, w.ProjectID, w.AppID, w.WithdrawerAddress, w.Amount, w.TxnID, w.RoundNumber,
	).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, w.TxnID)
		}
		return wrapErr("insert withdrawal", err)
	}

	w.ID = id
	w.CreatedAt = createdAt
	return nil
}

// UpsertDonorAggregate создаёт или атомарно увеличивает агрегат донора одним запросом.
func (r *PostgresRepository) UpsertDonorAggregate(ctx context.Context, projectID, donor string, delta int64) (*model.Donor, error) {
	d := model.Donor{ProjectID: projectID, DonorAddress: donor}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO project_donors (project_id, donor_address, total_donated, donation_count, last_donated_at)
		 VALUES ($1, $2, $3, 1, now())
		 ON CONFLICT (project_id, donor_address) DO UPDATE SET
		     total_donated = project_donors.total_donated + EXCLUDED.total_donated,
		     donation_count = project_donors.donation_count + 1,
		     last_donated_at = now()
		 RETURNING total_donated, donation_count, last_donated_at`,
		projectID, donor, delta,
	).Scan(&d.TotalDonated, &d.DonationCount, &d.LastDonatedAt)
	if err != nil {
		return nil, wrapErr("upsert donor", err)
	}
	return &d, nil
}

// ListDonorAggregates возвращает снимок агрегатов доноров проекта.
func (r *PostgresRepository) ListDonorAggregates(ctx context.Context, projectID string) ([]model.Donor, error) {
	return withRetry(ctx, "list donors", func() ([]model.Donor, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT donor_address, total_donated, donation_count, last_donated_at
			 FROM project_donors
			 WHERE project_id = $1
			 ORDER BY total_donated DESC, donor_address`,
			projectID,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var res []model.Donor
		for rows.Next() {
			d := model.Donor{ProjectID: projectID}
			if err := rows.Scan(&d.DonorAddress, &d.TotalDonated, &d.DonationCount, &d.LastDonatedAt); err != nil {
				return nil, fmt.Errorf("scan donor: %w", err)
			}
			res = append(res, d)
		}

		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}
		return res, nil
	})
}

const depositColumns = `id, project_id, app_id, depositor_address, amount, txn_id, round_number, created_at`

func collectDeposits(rows pgx.Rows) ([]model.Deposit, error) {
	defer rows.Close()

	var res []model.Deposit
	for rows.Next() {
		var d model.Deposit
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.AppID, &d.DepositorAddress, &d.Amount, &d.TxnID, &d.RoundNumber, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// ListDeposits возвращает взносы проекта, новые первыми.
func (r *PostgresRepository) ListDeposits(ctx context.Context, projectID string) ([]model.Deposit, error) {
	return withRetry(ctx, "list deposits", func() ([]model.Deposit, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT `+depositColumns+` FROM deposits WHERE project_id = $1 ORDER BY created_at DESC`,
			projectID,
		)
		if err != nil {
			return nil, err
		}
		return collectDeposits(rows)
	})
}

// ListDepositsByDonor возвращает взносы адреса во все проекты.
func (r *PostgresRepository) ListDepositsByDonor(ctx context.Context, donor string) ([]model.Deposit, error) {
	return withRetry(ctx, "list donor deposits", func() ([]model.Deposit, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT `+depositColumns+` FROM deposits WHERE depositor_address = $1 ORDER BY created_at DESC`,
			donor,
		)
		if err != nil {
			return nil, err
		}
		return collectDeposits(rows)
	})
}

// ListWithdrawals возвращает выводы средств проекта, новые первыми.
func (r *PostgresRepository) ListWithdrawals(ctx context.Context, projectID string) ([]model.Withdrawal, error) {
	return withRetry(ctx, "list withdrawals", func() ([]model.Withdrawal, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT id, project_id, app_id, withdrawer_address, amount, txn_id, round_number, created_at
			 FROM withdrawals
			 WHERE project_id = $1
			 ORDER BY created_at DESC`,
			projectID,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var res []model.Withdrawal
		for rows.Next() {
			var w model.Withdrawal
			if err := rows.Scan(&w.ID, &w.ProjectID, &w.AppID, &w.WithdrawerAddress, &w.Amount, &w.TxnID, &w.RoundNumber, &w.CreatedAt); err != nil {
				return nil, fmt.Errorf("scan withdrawal: %w", err)
			}
			res = append(res, w)
		}

		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}
		return res, nil
	})
}
