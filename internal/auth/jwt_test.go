package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	req := require.New(t)
	svc := NewJWTService("test-secret", 1)
	userID := uuid.New()

	token, err := svc.Generate(userID, "amel@example.com", "Amel", "teacher")
	req.NoError(err)
	req.NotEmpty(token)

	claims, err := svc.Validate(token)
	req.NoError(err)
	req.Equal(userID, claims.UserID)
	req.Equal("amel@example.com", claims.Email)
	req.Equal("Amel", claims.Name)
	req.Equal("teacher", claims.Role)
}

func TestJWTWrongSecret(t *testing.T) {
	req := require.New(t)
	token, err := NewJWTService("secret-a", 1).Generate(uuid.New(), "x@example.com", "X", "student")
	req.NoError(err)

	_, err = NewJWTService("secret-b", 1).Validate(token)
	req.ErrorIs(err, ErrInvalidToken)
}

func TestJWTGarbage(t *testing.T) {
	_, err := NewJWTService("secret", 1).Validate("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
