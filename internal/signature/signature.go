// Package signature проверяет подписи подтверждений платёжного шлюза.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrEmptySecret возвращается при попытке создать Verifier без секрета.
var ErrEmptySecret = errors.New("gateway secret is empty")

// Verifier вычисляет HMAC-SHA256 от строки "orderRef|paymentRef" и сравнивает его с подписью шлюза.
type Verifier struct {
	secret []byte
}

// NewVerifier создаёт Verifier. Пустой секрет считается ошибкой конфигурации.
func NewVerifier(secret string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify сообщает, совпадает ли подпись с ожидаемой. Сравнение выполняется за постоянное время.
func (v *Verifier) Verify(orderRef, paymentRef, signature string) bool {
	if orderRef == "" || paymentRef == "" || signature == "" {
		return false
	}
	expected := v.Sign(orderRef, paymentRef)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// Sign возвращает подпись в шестнадцатеричном виде, как её формирует шлюз.
func (v *Verifier) Sign(orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}
