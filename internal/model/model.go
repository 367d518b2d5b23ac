// Package model содержит доменные сущности сервиса PiggyBag.
//
// Все суммы хранятся в минимальных единицах валюты (micro-units) как int64.
package model

import "time"

// Project описывает проект сбора средств.
type Project struct {
	ID             string
	AppID          int64
	AppAddress     string
	Name           string
	Description    string
	CreatorAddress string
	GoalAmount     int64
	TotalDeposited int64
	GoalReached    bool
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Deposit описывает подтверждённый в сети взнос в проект.
type Deposit struct {
	ID               string
	ProjectID        string
	AppID            int64
	DepositorAddress string
	Amount           int64
	TxnID            string
	RoundNumber      *int64
	CreatedAt        time.Time
}

// Withdrawal описывает вывод средств создателем проекта.
type Withdrawal struct {
	ID                string
	ProjectID         string
	AppID             int64
	WithdrawerAddress string
	Amount            int64
	TxnID             string
	RoundNumber       *int64
	CreatedAt         time.Time
}

// Donor содержит накопленную сумму взносов одного адреса в проект.
type Donor struct {
	ProjectID     string
	DonorAddress  string
	TotalDonated  int64
	DonationCount int64
	LastDonatedAt time.Time
}

// RewardStatus описывает стадию распределения награды.
type RewardStatus string

const (
	RewardStatusPending      RewardStatus = "pending"
	RewardStatusDistributing RewardStatus = "distributing"
	RewardStatusDistributed  RewardStatus = "distributed"
)

// Reward описывает пул вознаграждения, который делится между донорами.
type Reward struct {
	ID                string
	ProjectID         string
	Title             string
	Description       *string
	PoolAmount        int64
	DistributedAmount int64
	Status            RewardStatus
	IsDistributed     bool
	CreatedBy         string
	CreatedAt         time.Time
	DistributedAt     *time.Time
}

// AllocationStatus описывает состояние выплаты одному донору.
type AllocationStatus string

const (
	AllocationStatusPending AllocationStatus = "pending"
	AllocationStatusPaid    AllocationStatus = "paid"
	AllocationStatusFailed  AllocationStatus = "failed"
	AllocationStatusUnknown AllocationStatus = "unknown"
)

// Allocation описывает долю пула, назначенную донору.
type Allocation struct {
	RewardID     string
	DonorAddress string
	Amount       int64
	Position     int
	Status       AllocationStatus
	TxnID        string
	Failure      string
	UpdatedAt    time.Time
}

// RewardDistribution фиксирует одну совершённую выплату награды.
type RewardDistribution struct {
	ID           string
	RewardID     string
	ProjectID    string
	DonorAddress string
	Amount       int64
	TxnID        string
	CreatedAt    time.Time
}

// DepositResult возвращается после учёта взноса.
type DepositResult struct {
	NewTotal    int64 `json:"new_total"`
	GoalReached bool  `json:"goal_reached"`
	Replayed    bool  `json:"replayed"`
}

// Payout описывает выплату, выполненную в рамках распределения.
type Payout struct {
	DonorAddress string `json:"donor_address"`
	Amount       int64  `json:"amount"`
	TxnID        string `json:"txn_id"`
}

// DistributionResult возвращается после полного распределения награды.
type DistributionResult struct {
	RewardID          string   `json:"reward_id"`
	DistributedAmount int64    `json:"distributed_amount"`
	Payouts           []Payout `json:"payouts"`
}
