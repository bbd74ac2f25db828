package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// OTP purposes map to separate Redis keys so a login code cannot be replayed
// as a password-reset code.
const (
	OTPPurposeVerify = "verify"
	OTPPurposeReset  = "reset"
)

const otpTTL = 10 * time.Minute

var ErrOTPInvalid = errors.New("invalid or expired code")

// OTPStore keeps one-time codes in Redis with a fixed TTL.
type OTPStore struct {
	client *redis.Client
}

// NewOTPStore creates an OTP store.
func NewOTPStore(client *redis.Client) *OTPStore {
	return &OTPStore{client: client}
}

func otpKey(purpose, email string) string {
	return "auth:otp:" + purpose + ":" + email
}

// Save stores a code for email, replacing any previous one.
func (s *OTPStore) Save(ctx context.Context, purpose, email, code string) error {
	return s.client.Set(ctx, otpKey(purpose, email), code, otpTTL).Err()
}

// Verify checks a code and deletes it on success. A wrong code leaves the
// stored one intact until it expires.
func (s *OTPStore) Verify(ctx context.Context, purpose, email, code string) error {
	stored, err := s.client.Get(ctx, otpKey(purpose, email)).Result()
	if err == redis.Nil {
		return ErrOTPInvalid
	}
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return ErrOTPInvalid
	}
	return s.client.Del(ctx, otpKey(purpose, email)).Err()
}
