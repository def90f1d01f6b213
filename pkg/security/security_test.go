package security

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/users"
)

func TestPasswordService(t *testing.T) {
	svc := NewPasswordService(bcrypt.MinCost)

	hash, err := svc.Hash("Secret123")
	require.NoError(t, err)
	assert.NotEqual(t, "Secret123", hash)
	assert.True(t, svc.Verify(hash, "Secret123"))
	assert.False(t, svc.Verify(hash, "secret123"))
	assert.False(t, svc.Verify("!", "anything"))

	// longer than bcrypt's 72 byte input; differing only past byte 72 must still fail
	long := "Aa1" + strings.Repeat("x", 97)
	hash, err = svc.Hash(long)
	require.NoError(t, err)
	assert.True(t, svc.Verify(hash, long))
	assert.False(t, svc.Verify(hash, long[:99]+"y"))

	assert.False(t, svc.VerifyMissing("Secret123"))

	assert.Equal(t, bcrypt.DefaultCost, NewPasswordService(99).cost)
}

func TestEncryptor(t *testing.T) {
	enc, err := NewEncryptor("a-long-enough-root-key", "accounts/recovery-token")
	require.NoError(t, err)

	token, err := enc.Encrypt([]byte(`{"username":"alice"}`))
	require.NoError(t, err)
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "=")

	plain, err := enc.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, `{"username":"alice"}`, string(plain))

	other, _ := enc.Encrypt([]byte(`{"username":"alice"}`))
	assert.NotEqual(t, token, other)

	_, err = enc.Decrypt("not-base64!!")
	assert.ErrorIs(t, err, ErrMalformedCiphertext)
	_, err = enc.Decrypt("AAAA")
	assert.ErrorIs(t, err, ErrMalformedCiphertext)

	tampered := []byte(token)
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}
	_, err = enc.Decrypt(string(tampered))
	assert.Error(t, err)

	differentKey, err := NewEncryptor("another-root-key-value", "accounts/recovery-token")
	require.NoError(t, err)
	_, err = differentKey.Decrypt(token)
	assert.ErrorIs(t, err, ErrMalformedCiphertext)

	_, err = NewEncryptor("", "info")
	assert.Error(t, err)
}

func TestTokenService(t *testing.T) {
	svc := NewTokenService("0123456789abcdef", "http://api.test", "accounts-api", time.Hour)
	user := NewSessionUser(&users.User{ID: 3, Name: "Alice", Username: "alice", Email: "a@example.com", Active: true, OTPEnabled: true}, true)

	token, claims, err := svc.Issue(user)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, "alice", claims.Subject)

	parsed, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, user, parsed.User)
	assert.Equal(t, claims.ID, parsed.ID)
	assert.Equal(t, "http://api.test", parsed.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"accounts-api"}, parsed.Audience)
	assert.True(t, parsed.User.OTPValidated)
}

func TestTokenService_Rejects(t *testing.T) {
	svc := NewTokenService("0123456789abcdef", "http://api.test", "accounts-api", time.Hour)
	token, _, err := svc.Issue(SessionUser{Username: "alice"})
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenService("fedcba9876543210", "http://api.test", "accounts-api", time.Hour)
		_, err := other.Parse(token)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidToken))
	})

	t.Run("wrong audience", func(t *testing.T) {
		other := NewTokenService("0123456789abcdef", "http://api.test", "other", time.Hour)
		_, err := other.Parse(token)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewTokenService("0123456789abcdef", "http://elsewhere", "accounts-api", time.Hour)
		_, err := other.Parse(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewTokenService("0123456789abcdef", "http://api.test", "accounts-api", time.Hour)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Parse(token)
		require.Error(t, err)
		assert.Contains(t, apperrors.GetAppError(err).Message, "expired")
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Parse("a.b.c")
		assert.Error(t, err)
	})

	t.Run("no subject", func(t *testing.T) {
		anonymous, _, err := svc.Issue(SessionUser{})
		require.NoError(t, err)
		_, err = svc.Parse(anonymous)
		assert.Error(t, err)
	})
}

func TestOTPService(t *testing.T) {
	svc := NewOTPService("Accounts")

	secret, uri, err := svc.Generate("alice")
	require.NoError(t, err)
	assert.Len(t, secret, 24)
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/Accounts:alice?"))
	assert.Contains(t, uri, "issuer=Accounts")
	assert.Contains(t, uri, "period=30")

	code, err := svc.Code(secret)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.True(t, svc.Validate(code, secret))

	// a code from the previous step is still accepted
	fixed := time.Now()
	svc.now = func() time.Time { return fixed.Add(-30 * time.Second) }
	previous, err := svc.Code(secret)
	require.NoError(t, err)
	svc.now = func() time.Time { return fixed }
	assert.True(t, svc.Validate(previous, secret))

	// but not one from five minutes ago
	svc.now = func() time.Time { return fixed.Add(-5 * time.Minute) }
	stale, err := svc.Code(secret)
	require.NoError(t, err)
	svc.now = func() time.Time { return fixed }
	if stale != previous {
		assert.False(t, svc.Validate(stale, secret))
	}

	assert.False(t, svc.Validate("abcdef", secret))
	assert.False(t, svc.Validate("123456", "not base32 !!"))
}
