// Package evm отправляет и проверяет переводы нативной валюты в EVM-совместимой сети.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mmeshcher/piggybag/internal/payment"
	"github.com/mmeshcher/piggybag/internal/validation"
)

const transferGas = 21000

// ErrTransferNotFound возвращается, если транзакция не найдена в сети.
var (
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrTransferPending возвращается, если транзакция ещё не включена в блок.
	ErrTransferPending = errors.New("transfer pending")
	// ErrTransferMismatch возвращается, если транзакция не совпадает с заявленным переводом.
	ErrTransferMismatch = errors.New("transfer mismatch")
)

// chainClient подмножество методов ethclient.Client, которое использует пакет.
type chainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client подписывает переводы ключом горячего кошелька и ждёт их подтверждения.
type Client struct {
	client        chainClient
	chainID       *big.Int
	key           *ecdsa.PrivateKey
	from          common.Address
	confirmations uint64
	pollInterval  time.Duration
	waitTimeout   time.Duration

	// mu сериализует выбор nonce и отправку.
	mu sync.Mutex
}

// Dial подключается к узлу по RPC. Пустой hexKey создаёт клиент только для проверки переводов.
func Dial(ctx context.Context, rpcURL, hexKey string, confirmations uint64) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return New(ctx, ec, hexKey, confirmations)
}

// New создаёт клиент поверх готового подключения к узлу.
func New(ctx context.Context, cc chainClient, hexKey string, confirmations uint64) (*Client, error) {
	chainID, err := cc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	c := &Client{
		client:        cc,
		chainID:       chainID,
		confirmations: confirmations,
		pollInterval:  2 * time.Second,
		waitTimeout:   5 * time.Minute,
	}

	if hexKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// Address возвращает адрес горячего кошелька.
func (c *Client) Address() string {
	return c.from.Hex()
}

// SendPayment подписывает и отправляет перевод, затем ждёт квитанцию и нужное число подтверждений.
// Ошибки до отправки транзакции помечаются payment.ErrRejected, после отправки payment.ErrNetworkUnavailable.
func (c *Client) SendPayment(ctx context.Context, req payment.Request) (*payment.Receipt, error) {
	if c.key == nil {
		return nil, fmt.Errorf("%w: no signing key configured", payment.ErrRejected)
	}
	if !validation.IsValidAddress(req.To) {
		return nil, fmt.Errorf("%w: invalid recipient %q", payment.ErrRejected, req.To)
	}
	if req.From != "" && !strings.EqualFold(req.From, c.from.Hex()) {
		return nil, fmt.Errorf("%w: sender %s does not match wallet %s", payment.ErrRejected, req.From, c.from.Hex())
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", payment.ErrRejected)
	}

	signed, err := c.submit(ctx, common.HexToAddress(req.To), big.NewInt(req.Amount))
	if err != nil {
		return nil, err
	}

	receipt, err := c.waitConfirmed(ctx, signed.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: tx %s: %w", payment.ErrNetworkUnavailable, signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s reverted", payment.ErrRejected, signed.Hash().Hex())
	}

	return &payment.Receipt{TxnID: signed.Hash().Hex()}, nil
}

func (c *Client) submit(ctx context.Context, to common.Address, value *big.Int) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: pending nonce: %w", payment.ErrRejected, payment.ErrNetworkUnavailable, err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: gas price: %w", payment.ErrRejected, payment.ErrNetworkUnavailable, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      transferGas,
		GasPrice: gasPrice,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: sign tx: %w", payment.ErrRejected, err)
	}

	// После этой точки узел мог принять транзакцию даже при ошибке ответа.
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("%w: send tx %s: %w", payment.ErrNetworkUnavailable, signed.Hash().Hex(), err)
	}

	return signed, nil
}

func (c *Client) waitConfirmed(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return backoff.Retry(ctx, func() (*types.Receipt, error) {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if c.confirmations > 1 {
			head, err := c.client.BlockNumber(ctx)
			if err != nil {
				return nil, err
			}
			if head+1 < receipt.BlockNumber.Uint64()+c.confirmations {
				return nil, fmt.Errorf("tx %s has fewer than %d confirmations", hash.Hex(), c.confirmations)
			}
		}
		return receipt, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.pollInterval)),
		backoff.WithMaxElapsedTime(c.waitTimeout),
	)
}

// VerifyTransfer проверяет, что транзакция txHash успешно перевела amount с адреса from на адрес to.
func (c *Client) VerifyTransfer(ctx context.Context, txHash, from, to string, amount int64) error {
	if !validation.IsValidTxnID(txHash) {
		return fmt.Errorf("%w: malformed tx hash %q", ErrTransferMismatch, txHash)
	}
	hash := common.HexToHash(txHash)

	tx, pending, err := c.client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("%w: %s", ErrTransferNotFound, txHash)
		}
		return fmt.Errorf("get tx: %w", err)
	}
	if pending {
		return fmt.Errorf("%w: %s", ErrTransferPending, txHash)
	}

	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("%w: %s", ErrTransferPending, txHash)
		}
		return fmt.Errorf("get receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s reverted", ErrTransferMismatch, txHash)
	}

	sender, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return fmt.Errorf("recover sender: %w", err)
	}
	if !strings.EqualFold(sender.Hex(), from) {
		return fmt.Errorf("%w: sender %s, want %s", ErrTransferMismatch, sender.Hex(), from)
	}
	if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), to) {
		return fmt.Errorf("%w: recipient does not match %s", ErrTransferMismatch, to)
	}
	if tx.Value().Cmp(big.NewInt(amount)) != 0 {
		return fmt.Errorf("%w: value %s, want %d", ErrTransferMismatch, tx.Value(), amount)
	}

	return nil
}
