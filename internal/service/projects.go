package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/piggybag/internal/model"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// CreateProject регистрирует проект. Создателем становится вызывающий адрес.
func (s *Service) CreateProject(ctx context.Context, p *model.Project) error {
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: project name is required", ErrInvalidInput)
	case p.AppID <= 0:
		return fmt.Errorf("%w: app id must be positive", ErrInvalidInput)
	case p.GoalAmount <= 0:
		return fmt.Errorf("%w: goal amount must be positive", ErrInvalidInput)
	case p.CreatorAddress == "":
		return fmt.Errorf("%w: creator address is required", ErrInvalidInput)
	}
	return s.repo.CreateProject(ctx, p)
}

// GetProject возвращает проект по идентификатору приложения.
func (s *Service) GetProject(ctx context.Context, appID int64) (*model.Project, error) {
	return s.repo.GetProjectByAppID(ctx, appID)
}

// ListProjects возвращает активные проекты, при непустом creator только его.
func (s *Service) ListProjects(ctx context.Context, creator string) ([]model.Project, error) {
	return s.repo.ListProjects(ctx, creator)
}

// TrendingProjects возвращает проекты с наибольшей суммой взносов.
func (s *Service) TrendingProjects(ctx context.Context, limit int) ([]model.Project, error) {
	return s.repo.TrendingProjects(ctx, clampLimit(limit))
}

// NearGoalProjects возвращает активные проекты, ближе всего подошедшие к цели.
func (s *Service) NearGoalProjects(ctx context.Context, limit int) ([]model.Project, error) {
	return s.repo.NearGoalProjects(ctx, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

// ProjectUpdate описывает изменения проекта. Поля со значением nil не меняются.
type ProjectUpdate struct {
	AppID       int64
	Caller      string
	Name        *string
	Description *string
	GoalAmount  *int64
	IsActive    *bool
}

// UpdateProject меняет описание проекта или снимает его с публикации. Доступно только создателю.
// Неактивный проект пропадает из списков, но журнал и награды по нему сохраняются.
func (s *Service) UpdateProject(ctx context.Context, in ProjectUpdate) (*model.Project, error) {
	project, err := s.repo.GetProjectByAppID(ctx, in.AppID)
	if err != nil {
		return nil, err
	}
	if !isCreator(project, in.Caller) {
		return nil, ErrNotCreator
	}

	if in.Name != nil {
		project.Name = strings.TrimSpace(*in.Name)
		if project.Name == "" {
			return nil, fmt.Errorf("%w: project name is required", ErrInvalidInput)
		}
	}
	if in.Description != nil {
		project.Description = *in.Description
	}
	if in.GoalAmount != nil {
		if *in.GoalAmount <= 0 {
			return nil, fmt.Errorf("%w: goal amount must be positive", ErrInvalidInput)
		}
		project.GoalAmount = *in.GoalAmount
	}
	if in.IsActive != nil {
		project.IsActive = *in.IsActive
	}

	if err := s.repo.UpdateProject(ctx, project); err != nil {
		return nil, err
	}

	s.logger.Info("project updated",
		zap.Int64("app_id", project.AppID),
		zap.Bool("is_active", project.IsActive),
	)
	return project, nil
}

// SearchProjects ищет проекты по названию.
func (s *Service) SearchProjects(ctx context.Context, query string) ([]model.Project, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrInvalidInput)
	}
	return s.repo.SearchProjects(ctx, query)
}

// ListDeposits возвращает взносы проекта.
func (s *Service) ListDeposits(ctx context.Context, appID int64) ([]model.Deposit, error) {
	project, err := s.repo.GetProjectByAppID(ctx, appID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDeposits(ctx, project.ID)
}

// ListDonorDeposits возвращает взносы адреса во все проекты.
func (s *Service) ListDonorDeposits(ctx context.Context, donor string) ([]model.Deposit, error) {
	return s.repo.ListDepositsByDonor(ctx, donor)
}

// ListWithdrawals возвращает выводы средств проекта.
func (s *Service) ListWithdrawals(ctx context.Context, appID int64) ([]model.Withdrawal, error) {
	project, err := s.repo.GetProjectByAppID(ctx, appID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListWithdrawals(ctx, project.ID)
}

// ListDonors возвращает агрегаты доноров проекта.
func (s *Service) ListDonors(ctx context.Context, appID int64) ([]model.Donor, error) {
	project, err := s.repo.GetProjectByAppID(ctx, appID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDonorAggregates(ctx, project.ID)
}
