package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/piggybag/internal/events"
	"github.com/mmeshcher/piggybag/internal/lease"
	"github.com/mmeshcher/piggybag/internal/model"
	"github.com/mmeshcher/piggybag/internal/payment"
	"github.com/mmeshcher/piggybag/internal/repository"
)

// memRepo хранит данные в памяти и повторяет семантику PostgresRepository.
type memRepo struct {
	mu sync.Mutex

	projects      map[string]*model.Project
	deposits      []model.Deposit
	withdrawals   []model.Withdrawal
	donors        map[string]map[string]*model.Donor
	rewards       map[string]*model.Reward
	allocations   map[string][]model.Allocation
	distributions []model.RewardDistribution
	seq           int

	upsertErr       error
	incrementErr    error
	recordPayoutErr error
	beginCalls      int
}

func newMemRepo() *memRepo {
	return &memRepo{
		projects:    make(map[string]*model.Project),
		donors:      make(map[string]map[string]*model.Donor),
		rewards:     make(map[string]*model.Reward),
		allocations: make(map[string][]model.Allocation),
	}
}

func (m *memRepo) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memRepo) Close() error { return nil }

func (m *memRepo) CreateProject(_ context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.projects {
		if existing.AppID == p.AppID {
			return repository.ErrProjectExists
		}
	}
	p.ID = m.nextID("project")
	p.IsActive = true
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *memRepo) GetProject(_ context.Context, id string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetProjectByAppID(_ context.Context, appID int64) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.projects {
		if p.AppID == appID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRepo) ListProjects(_ context.Context, creator string) ([]model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Project
	for _, p := range m.projects {
		if p.IsActive && (creator == "" || p.CreatorAddress == creator) {
			res = append(res, *p)
		}
	}
	return res, nil
}

func (m *memRepo) TrendingProjects(ctx context.Context, limit int) ([]model.Project, error) {
	res, _ := m.ListProjects(ctx, "")
	slices.SortFunc(res, func(a, b model.Project) int {
		switch {
		case a.TotalDeposited > b.TotalDeposited:
			return -1
		case a.TotalDeposited < b.TotalDeposited:
			return 1
		}
		return 0
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *memRepo) NearGoalProjects(ctx context.Context, limit int) ([]model.Project, error) {
	trending, _ := m.TrendingProjects(ctx, 1<<30)
	var res []model.Project
	for _, p := range trending {
		if !p.GoalReached {
			res = append(res, p)
		}
	}
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *memRepo) UpdateProject(_ context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.projects[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Name = p.Name
	stored.Description = p.Description
	stored.GoalAmount = p.GoalAmount
	stored.IsActive = p.IsActive
	stored.GoalReached = stored.TotalDeposited >= stored.GoalAmount
	stored.UpdatedAt = time.Now()

	p.TotalDeposited = stored.TotalDeposited
	p.GoalReached = stored.GoalReached
	p.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m *memRepo) SearchProjects(ctx context.Context, query string) ([]model.Project, error) {
	all, _ := m.ListProjects(ctx, "")
	var res []model.Project
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(query)) {
			res = append(res, p)
		}
	}
	return res, nil
}

func (m *memRepo) IncrementProjectTotal(_ context.Context, projectID string, delta int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.incrementErr != nil {
		return 0, false, m.incrementErr
	}
	p, ok := m.projects[projectID]
	if !ok {
		return 0, false, repository.ErrNotFound
	}
	p.TotalDeposited += delta
	p.GoalReached = p.TotalDeposited >= p.GoalAmount
	return p.TotalDeposited, p.GoalReached, nil
}

func (m *memRepo) AppendDeposit(_ context.Context, d *model.Deposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.deposits {
		if existing.ProjectID == d.ProjectID && existing.TxnID == d.TxnID {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateTransaction, d.TxnID)
		}
	}
	d.ID = m.nextID("deposit")
	d.CreatedAt = time.Now()
	m.deposits = append(m.deposits, *d)
	return nil
}

func (m *memRepo) AppendWithdrawal(_ context.Context, w *model.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.withdrawals {
		if existing.ProjectID == w.ProjectID && existing.TxnID == w.TxnID {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateTransaction, w.TxnID)
		}
	}
	w.ID = m.nextID("withdrawal")
	w.CreatedAt = time.Now()
	m.withdrawals = append(m.withdrawals, *w)
	return nil
}

func (m *memRepo) UpsertDonorAggregate(_ context.Context, projectID, donor string, delta int64) (*model.Donor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	byDonor, ok := m.donors[projectID]
	if !ok {
		byDonor = make(map[string]*model.Donor)
		m.donors[projectID] = byDonor
	}
	d, ok := byDonor[donor]
	if !ok {
		d = &model.Donor{ProjectID: projectID, DonorAddress: donor}
		byDonor[donor] = d
	}
	d.TotalDonated += delta
	d.DonationCount++
	d.LastDonatedAt = time.Now()
	cp := *d
	return &cp, nil
}

func (m *memRepo) ListDonorAggregates(_ context.Context, projectID string) ([]model.Donor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Donor
	for _, d := range m.donors[projectID] {
		res = append(res, *d)
	}
	return res, nil
}

func (m *memRepo) ListDeposits(_ context.Context, projectID string) ([]model.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Deposit
	for _, d := range m.deposits {
		if d.ProjectID == projectID {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *memRepo) ListDepositsByDonor(_ context.Context, donor string) ([]model.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Deposit
	for _, d := range m.deposits {
		if d.DepositorAddress == donor {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *memRepo) ListWithdrawals(_ context.Context, projectID string) ([]model.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Withdrawal
	for _, w := range m.withdrawals {
		if w.ProjectID == projectID {
			res = append(res, w)
		}
	}
	return res, nil
}

func (m *memRepo) CreateReward(_ context.Context, rw *model.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rw.ID = m.nextID("reward")
	rw.Status = model.RewardStatusPending
	rw.CreatedAt = time.Now()
	cp := *rw
	m.rewards[rw.ID] = &cp
	return nil
}

func (m *memRepo) GetReward(_ context.Context, id string) (*model.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rw, ok := m.rewards[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rw
	return &cp, nil
}

func (m *memRepo) ListRewards(_ context.Context, projectID string) ([]model.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Reward
	for _, rw := range m.rewards {
		if rw.ProjectID == projectID {
			res = append(res, *rw)
		}
	}
	return res, nil
}

func (m *memRepo) BeginDistribution(_ context.Context, rewardID string, plan []model.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.beginCalls++
	rw, ok := m.rewards[rewardID]
	if !ok || rw.Status != model.RewardStatusPending || rw.IsDistributed {
		return repository.ErrRewardStateConflict
	}
	rw.Status = model.RewardStatusDistributing

	saved := make([]model.Allocation, len(plan))
	for i, a := range plan {
		a.RewardID = rewardID
		a.Status = model.AllocationStatusPending
		saved[i] = a
	}
	m.allocations[rewardID] = saved
	return nil
}

func (m *memRepo) ListAllocations(_ context.Context, rewardID string) ([]model.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.allocations[rewardID]), nil
}

func (m *memRepo) allocation(rewardID, donor string) *model.Allocation {
	plan := m.allocations[rewardID]
	for i := range plan {
		if plan[i].DonorAddress == donor {
			return &plan[i]
		}
	}
	return nil
}

func (m *memRepo) RecordPayout(_ context.Context, d *model.RewardDistribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recordPayoutErr != nil {
		return m.recordPayoutErr
	}
	a := m.allocation(d.RewardID, d.DonorAddress)
	if a == nil || a.Status == model.AllocationStatusPaid {
		return repository.ErrRewardStateConflict
	}
	for _, existing := range m.distributions {
		if existing.TxnID == d.TxnID {
			return repository.ErrDuplicateTransaction
		}
	}
	a.Status = model.AllocationStatusPaid
	a.TxnID = d.TxnID
	a.Failure = ""

	d.ID = m.nextID("distribution")
	d.CreatedAt = time.Now()
	m.distributions = append(m.distributions, *d)
	return nil
}

func (m *memRepo) MarkAllocation(_ context.Context, rewardID, donor string, status model.AllocationStatus, failure string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.allocation(rewardID, donor)
	if a == nil || a.Status == model.AllocationStatusPaid {
		return repository.ErrRewardStateConflict
	}
	a.Status = status
	a.Failure = failure
	return nil
}

func (m *memRepo) FinalizeReward(_ context.Context, rewardID string, distributed int64) (*model.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rw, ok := m.rewards[rewardID]
	if !ok || rw.Status != model.RewardStatusDistributing || rw.IsDistributed || rw.PoolAmount != distributed {
		return nil, repository.ErrRewardStateConflict
	}
	now := time.Now()
	rw.Status = model.RewardStatusDistributed
	rw.IsDistributed = true
	rw.DistributedAmount = distributed
	rw.DistributedAt = &now
	cp := *rw
	return &cp, nil
}

func (m *memRepo) ListDistributions(_ context.Context, rewardID string) ([]model.RewardDistribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.RewardDistribution
	for _, d := range m.distributions {
		if d.RewardID == rewardID {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *memRepo) distributionCount(rewardID string) int {
	res, _ := m.ListDistributions(context.Background(), rewardID)
	return len(res)
}

// stubPayer записывает запросы и возвращает заданные ошибки по адресу получателя.
type stubPayer struct {
	mu      sync.Mutex
	calls   []payment.Request
	failFor map[string]error

	// entered и release позволяют задержать первую выплату.
	entered chan struct{}
	release chan struct{}
}

func (p *stubPayer) SendPayment(ctx context.Context, req payment.Request) (*payment.Receipt, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	n := len(p.calls)
	err := p.failFor[req.To]
	entered, release := p.entered, p.release
	p.mu.Unlock()

	if entered != nil && n == 1 {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	return &payment.Receipt{TxnID: fmt.Sprintf("tx-%d-%s", n, req.To)}, nil
}

func (p *stubPayer) setFailure(to string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor == nil {
		p.failFor = make(map[string]error)
	}
	if err == nil {
		delete(p.failFor, to)
		return
	}
	p.failFor[to] = err
}

func (p *stubPayer) paidTo(to string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.To == to {
			n++
		}
	}
	return n
}

func (p *stubPayer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]string, 0, len(p.events))
	for _, e := range p.events {
		res = append(res, e.Type)
	}
	return res
}

type stubVerifier struct {
	err   error
	calls int
}

func (v *stubVerifier) VerifyTransfer(context.Context, string, string, string, int64) error {
	v.calls++
	return v.err
}

// lostLocker выдаёт аренды, которые теряются при первом продлении.
type lostLocker struct{}

func (lostLocker) Acquire(context.Context, string) (lease.Lease, error) { return lostLease{}, nil }

type lostLease struct{}

func (lostLease) Refresh(context.Context) error { return lease.ErrLost }
func (lostLease) Release(context.Context) error { return lease.ErrLost }

const creator = "0xcreator"

func seedProject(t interface{ Fatalf(string, ...any) }, repo *memRepo, appID, goal int64) *model.Project {
	p := &model.Project{
		AppID:          appID,
		AppAddress:     fmt.Sprintf("0xapp%d", appID),
		Name:           fmt.Sprintf("project %d", appID),
		CreatorAddress: creator,
		GoalAmount:     goal,
	}
	if err := repo.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}
