// Package events публикует доменные события для внешних подписчиков.
package events

import (
	"context"
	"time"
)

// Channel канал Redis, в который публикуются события.
const Channel = "piggybag.events"

// Типы событий.
const (
	EventDepositRecorded   = "deposit_recorded"
	EventRewardDistributed = "reward_distributed"
	EventPayoutFailed      = "payout_failed"
)

// Event описывает одно событие. Суммы в минимальных единицах.
type Event struct {
	Type       string    `json:"type"`
	ProjectID  string    `json:"project_id"`
	AppID      int64     `json:"app_id,omitempty"`
	RewardID   string    `json:"reward_id,omitempty"`
	Address    string    `json:"address,omitempty"`
	Amount     int64     `json:"amount"`
	TxnID      string    `json:"txn_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher отправляет события подписчикам.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop отбрасывает события. Используется, когда Redis не настроен.
type Nop struct{}

// Publish ничего не делает.
func (Nop) Publish(context.Context, Event) error { return nil }
