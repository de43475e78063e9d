package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerifier_EmptySecret(t *testing.T) {
	_, err := NewVerifier("   ")
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestVerify(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	valid := v.Sign("order_1", "pay_1")

	tests := []struct {
		name       string
		orderRef   string
		paymentRef string
		signature  string
		want       bool
	}{
		{name: "valid", orderRef: "order_1", paymentRef: "pay_1", signature: valid, want: true},
		{name: "upper case hex", orderRef: "order_1", paymentRef: "pay_1", signature: strings.ToUpper(valid), want: true},
		{name: "other payment", orderRef: "order_1", paymentRef: "pay_2", signature: valid, want: false},
		{name: "other order", orderRef: "order_2", paymentRef: "pay_1", signature: valid, want: false},
		{name: "truncated", orderRef: "order_1", paymentRef: "pay_1", signature: valid[:10], want: false},
		{name: "empty signature", orderRef: "order_1", paymentRef: "pay_1", signature: "", want: false},
		{name: "empty payment", orderRef: "order_1", paymentRef: "", signature: valid, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Verify(tt.orderRef, tt.paymentRef, tt.signature))
		})
	}
}

func TestVerifyDeterministic(t *testing.T) {
	a, err := NewVerifier("secret")
	require.NoError(t, err)
	b, err := NewVerifier("secret")
	require.NoError(t, err)
	other, err := NewVerifier("another")
	require.NoError(t, err)

	sig := a.Sign("order_x", "pay_x")
	for i := 0; i < 5; i++ {
		assert.True(t, a.Verify("order_x", "pay_x", sig))
		assert.True(t, b.Verify("order_x", "pay_x", sig))
	}
	assert.False(t, other.Verify("order_x", "pay_x", sig))
}

func TestSign_MatchesGatewayFormat(t *testing.T) {
	v, err := NewVerifier("key")
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("key"))
	mac.Write([]byte("order_abc|pay_def"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, v.Sign("order_abc", "pay_def"))
	assert.Len(t, want, 64)
}
