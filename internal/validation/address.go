// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsValidAddress проверяет, что строка является адресом кошелька EVM.
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress приводит адрес к виду с контрольной суммой EIP-55,
// чтобы один кошелёк не давал двух агрегатов доноров.
func NormalizeAddress(address string) (string, bool) {
	if !common.IsHexAddress(address) {
		return "", false
	}
	return common.HexToAddress(address).Hex(), true
}

// IsValidTxnID проверяет, что строка является хешем транзакции: 0x и 64 шестнадцатеричных символа.
func IsValidTxnID(txnID string) bool {
	if !strings.HasPrefix(txnID, "0x") && !strings.HasPrefix(txnID, "0X") {
		return false
	}

	hexPart := txnID[2:]
	if len(hexPart) != 2*common.HashLength {
		return false
	}

	for _, ch := range hexPart {
		switch {
		case ch >= '0' && ch <= '9', ch >= 'a' && ch <= 'f', ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}

	return true
}

// NormalizeTxnID приводит хеш транзакции к нижнему регистру, чтобы один перевод
// не учитывался дважды под разным написанием.
func NormalizeTxnID(txnID string) (string, bool) {
	if !IsValidTxnID(txnID) {
		return "", false
	}
	return "0x" + strings.ToLower(txnID[2:]), true
}
