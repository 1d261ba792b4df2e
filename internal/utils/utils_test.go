package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAdminToken_RoundTrip(t *testing.T) {
	token, err := GenerateAdminToken("ops@party", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := VerifyAdminToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "ops@party", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestAdminToken_Rejections(t *testing.T) {
	expired, err := GenerateAdminToken("ops", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = VerifyAdminToken(expired, "secret")
	assert.ErrorIs(t, err, ErrExpiredToken)

	good, err := GenerateAdminToken("ops", "secret", time.Hour)
	require.NoError(t, err)
	_, err = VerifyAdminToken(good, "other")
	assert.ErrorIs(t, err, ErrInvalidToken)

	member := jwt.NewWithClaims(jwt.SigningMethodHS256, &AdminClaims{
		Role:             "member",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := member.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = VerifyAdminToken(signed, "secret")
	assert.ErrorIs(t, err, ErrNotAdmin)

	_, err = GenerateAdminToken("ops", "", time.Hour)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	tok, ok = BearerToken("bearer  xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "Basic abc", "Bearer", "Bearer  "} {
		_, ok := BearerToken(h)
		assert.False(t, ok, h)
	}
}

func TestRecover_LogsPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	log := zap.New(core)

	var got any
	func() {
		defer RecoverWithHandler(log, "unit", func(r any) { got = r })
		panic("boom")
	}()

	assert.Equal(t, "boom", got)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "unit", logs.All()[0].ContextMap()["scope"])
}
