package utils

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStreamKey(t *testing.T) {
	req := require.New(t)
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		key, err := NewStreamKey()
		req.NoError(err)
		req.Len(key, 32)
		_, dup := seen[key]
		req.False(dup, "stream keys must not repeat")
		seen[key] = struct{}{}
	}
}

func TestNewTicket(t *testing.T) {
	ticket, err := NewTicket()
	require.NoError(t, err)
	require.Len(t, ticket, 48)
}

func TestNewOTP(t *testing.T) {
	req := require.New(t)
	for i := 0; i < 100; i++ {
		code, err := NewOTP()
		req.NoError(err)
		req.Len(code, 6)
		n, err := strconv.Atoi(code)
		req.NoError(err)
		req.GreaterOrEqual(n, 100000)
		req.LessOrEqual(n, 999999)
	}
}
