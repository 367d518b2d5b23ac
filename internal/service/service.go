// Package service реализует учёт взносов и распределение наград сервиса PiggyBag.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/piggybag/internal/events"
	"github.com/mmeshcher/piggybag/internal/lease"
	"github.com/mmeshcher/piggybag/internal/model"
	"github.com/mmeshcher/piggybag/internal/payment"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	GetProjectByAppID(ctx context.Context, appID int64) (*model.Project, error)
	ListProjects(ctx context.Context, creator string) ([]model.Project, error)
	TrendingProjects(ctx context.Context, limit int) ([]model.Project, error)
	SearchProjects(ctx context.Context, query string) ([]model.Project, error)
	NearGoalProjects(ctx context.Context, limit int) ([]model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) error
	IncrementProjectTotal(ctx context.Context, projectID string, delta int64) (int64, bool, error)

	AppendDeposit(ctx context.Context, d *model.Deposit) error
	AppendWithdrawal(ctx context.Context, w *model.Withdrawal) error
	UpsertDonorAggregate(ctx context.Context, projectID, donor string, delta int64) (*model.Donor, error)
	ListDonorAggregates(ctx context.Context, projectID string) ([]model.Donor, error)
	ListDeposits(ctx context.Context, projectID string) ([]model.Deposit, error)
	ListDepositsByDonor(ctx context.Context, donor string) ([]model.Deposit, error)
	ListWithdrawals(ctx context.Context, projectID string) ([]model.Withdrawal, error)

	CreateReward(ctx context.Context, rw *model.Reward) error
	GetReward(ctx context.Context, id string) (*model.Reward, error)
	ListRewards(ctx context.Context, projectID string) ([]model.Reward, error)
	BeginDistribution(ctx context.Context, rewardID string, plan []model.Allocation) error
	ListAllocations(ctx context.Context, rewardID string) ([]model.Allocation, error)
	RecordPayout(ctx context.Context, d *model.RewardDistribution) error
	MarkAllocation(ctx context.Context, rewardID, donor string, status model.AllocationStatus, failure string) error
	FinalizeReward(ctx context.Context, rewardID string, distributed int64) (*model.Reward, error)
	ListDistributions(ctx context.Context, rewardID string) ([]model.RewardDistribution, error)
}

// Payer отправляет перевод и возвращается только после его подтверждения в сети.
type Payer interface {
	SendPayment(ctx context.Context, req payment.Request) (*payment.Receipt, error)
}

// TransferVerifier проверяет перевод в сети перед учётом взноса.
type TransferVerifier interface {
	VerifyTransfer(ctx context.Context, txHash, from, to string, amount int64) error
}

// Service содержит бизнес-логику сервиса PiggyBag.
type Service struct {
	repo      Repository
	payer     Payer
	locker    lease.Locker
	publisher events.Publisher
	verifier  TransferVerifier
	logger    *zap.Logger
	now       func() time.Time
}

// Option настраивает необязательные зависимости сервиса.
type Option func(*Service)

// WithLocker задаёт хранилище аренд для распределений.
func WithLocker(l lease.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithPublisher задаёт публикатор событий.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithVerifier включает проверку переводов в сети перед учётом взноса.
func WithVerifier(v TransferVerifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService создаёт новый сервис с указанным репозиторием и исполнителем платежей.
func NewService(repo Repository, payer Payer, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		payer:     payer,
		locker:    lease.NewLocalLocker(time.Minute),
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	e.OccurredAt = s.now().UTC()
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("publish event failed", zap.String("type", e.Type), zap.Error(err))
	}
}
