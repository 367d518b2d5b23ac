// Package payment описывает контракт отправки платежей в нативной валюте сети.
package payment

import (
	"context"
	"errors"
	"fmt"
)

// ErrRejected возвращается, если платёж гарантированно не был отправлен.
var (
	ErrRejected = errors.New("payment rejected")
	// ErrNetworkUnavailable возвращается, если исход платежа неизвестен или сеть недоступна.
	ErrNetworkUnavailable = errors.New("network unavailable")
)

// Request описывает перевод amount минимальных единиц с адреса From на адрес To.
type Request struct {
	From   string
	To     string
	Amount int64
	// Reference позволяет исполнителю отклонить повторную отправку одного и того же перевода.
	Reference string
}

// Receipt подтверждает, что перевод необратимо выполнен.
type Receipt struct {
	TxnID string
}

// Unconfigured отклоняет любые платежи. Используется, когда ни сервис подписи, ни узел сети не настроены.
type Unconfigured struct{}

// SendPayment всегда возвращает ErrRejected.
func (Unconfigured) SendPayment(context.Context, Request) (*Receipt, error) {
	return nil, fmt.Errorf("%w: payment backend is not configured", ErrRejected)
}
