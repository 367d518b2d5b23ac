package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/piggybag/internal/model"
)

const projectColumns = `id, app_id, app_address, name, description, creator_address,
	goal_amount, total_deposited, is_goal_reached, is_active, created_at, updated_at`

func scanProject(row pgx.Row) (*model.Project, error) {
	var p model.Project
	err := row.Scan(
		&p.ID, &p.AppID, &p.AppAddress, &p.Name, &p.Description, &p.CreatorAddress,
		&p.GoalAmount, &p.TotalDeposited, &p.GoalReached, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProjects(rows pgx.Rows) ([]model.Project, error) {
	defer rows.Close()

	var res []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateProject регистрирует новый проект с нулевой суммой взносов.
func (r *PostgresRepository) CreateProject(ctx context.Context, p *model.Project) error {
	p.ID = uuid.NewString()

	err := r.pool.QueryRow(ctx,
		`INSERT INTO projects (id, app_id, app_address, name, description, creator_address, goal_amount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING total_deposited, is_goal_reached, is_active, created_at, updated_at`,
		p.ID, p.AppID, p.AppAddress, p.Name, p.Description, p.CreatorAddress, p.GoalAmount,
	).Scan(&p.TotalDeposited, &p.GoalReached, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: app %d", ErrProjectExists, p.AppID)
		}
		return wrapErr("create project", err)
	}

	return nil
}

// GetProjectByAppID возвращает проект по идентификатору приложения в сети.
func (r *PostgresRepository) GetProjectByAppID(ctx context.Context, appID int64) (*model.Project, error) {
	return withRetry(ctx, "get project", func() (*model.Project, error) {
		p, err := scanProject(r.pool.QueryRow(ctx,
			`SELECT `+projectColumns+` FROM projects WHERE app_id = $1`, appID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return p, err
	})
}

// GetProject возвращает проект по его идентификатору записи.
func (r *PostgresRepository) GetProject(ctx context.Context, id string) (*model.Project, error) {
	return withRetry(ctx, "get project", func() (*model.Project, error) {
		p, err := scanProject(r.pool.QueryRow(ctx,
			`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return p, err
	})
}

// ListProjects возвращает активные проекты, при непустом creator только его проекты.
func (r *PostgresRepository) ListProjects(ctx context.Context, creator string) ([]model.Project, error) {
	return withRetry(ctx, "list projects", func() ([]model.Project, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT `+projectColumns+`
			 FROM projects
			 WHERE is_active AND ($1::text = '' OR creator_address = $1)
			 ORDER BY created_at DESC`,
			creator,
		)
		if err != nil {
			return nil, err
		}
		return collectProjects(rows)
	})
}

// TrendingProjects возвращает активные проекты с наибольшей суммой взносов.
func (r *PostgresRepository) TrendingProjects(ctx context.Context, limit int) ([]model.Project, error) {
	return withRetry(ctx, "trending projects", func() ([]model.Project, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT `+projectColumns+`
			 FROM projects
			 WHERE is_active
			 ORDER BY total_deposited DESC, created_at DESC
			 LIMIT $1`,
			limit,
		)
		if err != nil {
			return nil, err
		}
		return collectProjects(rows)
	})
}

// NearGoalProjects возвращает активные проекты, ещё не достигшие цели, с наибольшей суммой взносов.
func (r *PostgresRepository) NearGoalProjects(ctx context.Context, limit int) ([]model.Project, error) {
	return withRetry(ctx, "near goal projects", func() ([]model.Project, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT `+projectColumns+`
			 FROM projects
			 WHERE is_active AND NOT is_goal_reached
			 ORDER BY total_deposited DESC, created_at DESC
			 LIMIT $1`,
			limit,
		)
		if err != nil {
			return nil, err
		}
		return collectProjects(rows)
	})
}

// UpdateProject сохраняет изменяемые поля проекта: название, описание, цель и активность.
// Признак достижения цели пересчитывается по новой цели.
func (r *PostgresRepository) UpdateProject(ctx context.Context, p *model.Project) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE projects
		 SET name = $2, description = $3, goal_amount = $4, is_active = $5,
		     is_goal_reached = total_deposited >= $4,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING total_deposited, is_goal_reached, updated_at`,
		p.ID, p.Name, p.Description, p.GoalAmount, p.IsActive,
	).Scan(&p.TotalDeposited, &p.GoalReached, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update project: %w", ErrNotFound)
		}
		return wrapErr("update project", err)
	}
	return nil
}

// SearchProjects ищет активные проекты по подстроке в названии.
func (r *PostgresRepository) SearchProjects(ctx context.Context, query string) ([]model.Project, error) {
	return withRetry(ctx, "search projects", func() ([]model.Project, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT `+projectColumns+`
			 FROM projects
			 WHERE is_active AND name ILIKE '%' || $1::text || '%'
			 ORDER BY created_at DESC`,
			query,
		)
		if err != nil {
			return nil, err
		}
		return collectProjects(rows)
	})
}

// IncrementProjectTotal атомарно увеличивает сумму взносов проекта и пересчитывает признак достижения цели.
func (r *PostgresRepository) IncrementProjectTotal(ctx context.Context, projectID string, delta int64) (int64, bool, error) {
	var (
		total   int64
		reached bool
	)
	err := r.pool.QueryRow(ctx,
		`UPDATE projects
		 SET total_deposited = total_deposited + $2,
		     is_goal_reached = total_deposited + $2 >= goal_amount,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING total_deposited, is_goal_reached`,
		projectID, delta,
	).Scan(&total, &reached)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, fmt.Errorf("increment project total: %w", ErrNotFound)
		}
		return 0, false, wrapErr("increment project total", err)
	}
	return total, reached, nil
}
