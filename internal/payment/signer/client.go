// Package signer предоставляет клиент внешнего сервиса подписи и отправки платежей.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/piggybag/internal/payment"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом подписи.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type paymentRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

type paymentResponse struct {
	TxnID  string `json:"txn_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RateLimitedError возвращается на ответ 429. Платёж при этом не отправлен.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("signer rate limited, retry after %s", e.RetryAfter)
}

// Is сопоставляет ошибку с payment.ErrRejected.
func (e *RateLimitedError) Is(target error) bool {
	return target == payment.ErrRejected
}

// NewClient создаёт клиент сервиса подписи по указанному адресу.
// Таймаут должен покрывать ожидание подтверждения перевода в сети.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendPayment отправляет перевод и возвращается только после его подтверждения.
// Ошибки, после которых исход неизвестен, помечаются payment.ErrNetworkUnavailable.
func (c *Client) SendPayment(ctx context.Context, req payment.Request) (*payment.Receipt, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("%w: signer client not configured", payment.ErrRejected)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(paymentRequest{
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", payment.ErrRejected, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", payment.ErrRejected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %w", payment.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	var result paymentResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusConflict:
		// 409 означает, что перевод с этим reference уже выполнен ранее.
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: decode response: %w", payment.ErrNetworkUnavailable, decodeErr)
		}
		if result.TxnID == "" {
			return nil, fmt.Errorf("%w: empty txn id in response", payment.ErrNetworkUnavailable)
		}
		return &payment.Receipt{TxnID: result.TxnID}, nil
	case resp.StatusCode == http.StatusAccepted:
		return nil, fmt.Errorf("%w: payment submitted but not confirmed", payment.ErrNetworkUnavailable)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: status %d: %s", payment.ErrRejected, resp.StatusCode, result.Error)
	default:
		return nil, fmt.Errorf("%w: unexpected status: %d", payment.ErrNetworkUnavailable, resp.StatusCode)
	}
}

// IsRateLimited сообщает, был ли запрос отклонён из-за ограничения частоты.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
