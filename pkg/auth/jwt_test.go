package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	signed, err := tokens.Generate("user1")
	require.NoError(t, err)

	claims, err := tokens.Validate(signed)
	require.NoError(t, err)
	require.Equal(t, "user1", claims.UserID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	signed, err := NewTokens("secret-a", time.Hour).Generate("user1")
	require.NoError(t, err)

	_, err = NewTokens("secret-b", time.Hour).Validate(signed)
	require.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	tokens := NewTokens("secret", -time.Minute)

	signed, err := tokens.Generate("user1")
	require.NoError(t, err)

	_, err = tokens.Validate(signed)
	require.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	_, err := NewTokens("secret", time.Hour).Validate("not.a.token")
	require.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	require.Equal(t, "abc123", BearerToken("Bearer abc123"))
	require.Equal(t, "abc123", BearerToken("abc123"))
	require.Equal(t, "", BearerToken(""))
}
