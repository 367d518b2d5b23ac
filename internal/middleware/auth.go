// Package middleware содержит HTTP middleware сервиса PiggyBag.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mmeshcher/piggybag/internal/validation"
)

type contextKey string

const walletAddressKey contextKey = "walletAddress"

// Заголовки, которые выставляет шлюз кошельков.
const (
	HeaderWalletAddress   = "X-Wallet-Address"
	HeaderWalletSignature = "X-Wallet-Signature"
)

// WalletAuth проверяет адрес кошелька, подписанный шлюзом общим секретом.
type WalletAuth struct {
	secretKey []byte
}

// NewWalletAuth создаёт WalletAuth с указанным секретным ключом.
// При пустом секрете генерируется случайный ключ, и ни одна подпись не пройдёт проверку.
func NewWalletAuth(secret string) *WalletAuth {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &WalletAuth{
		secretKey: key,
	}
}

// Sign возвращает подпись адреса. Регистр адреса не влияет на подпись.
func (a *WalletAuth) Sign(address string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(strings.ToLower(address)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Middleware проверяет заголовки кошелька и добавляет адрес в контекст запроса.
func (a *WalletAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, ok := validation.NormalizeAddress(r.Header.Get(HeaderWalletAddress))
		if !ok {
			unauthorized(w, "missing or malformed wallet address")
			return
		}

		signature := r.Header.Get(HeaderWalletSignature)
		if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(a.Sign(address))) {
			unauthorized(w, "invalid wallet signature")
			return
		}

		ctx := context.WithValue(r.Context(), walletAddressKey, address)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}

// GetAddressFromContext извлекает адрес кошелька из контекста запроса.
func GetAddressFromContext(ctx context.Context) (string, bool) {
	address, ok := ctx.Value(walletAddressKey).(string)
	return address, ok
}
