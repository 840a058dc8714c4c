// Package verify issues and checks one-time phone verification codes.
package verify

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/pliu/securedm/internal/apperr"
	"go.uber.org/zap"
)

const DefaultCodeTTL = 5 * time.Minute

// A verified phone stays usable for signup this long.
const verifiedTTL = time.Hour

// After this many wrong guesses the pending code is discarded.
const maxAttempts = 5

type Service struct {
	Codes   CodeStore
	Sender  Sender
	CodeTTL time.Duration
	Log     *zap.Logger
}

func codeKey(phone string) string     { return "code:" + phone }
func verifiedKey(phone string) string { return "verified:" + phone }
func attemptsKey(phone string) string { return "attempts:" + phone }

func (s *Service) ttl() time.Duration {
	if s.CodeTTL <= 0 {
		return DefaultCodeTTL
	}
	return s.CodeTTL
}

// Request generates a fresh 6-digit code for phone, replacing any earlier
// one, and hands it to the Sender.
func (s *Service) Request(ctx context.Context, phone string) error {
	code, err := newCode()
	if err != nil {
		return err
	}
	if err := s.Codes.Save(ctx, codeKey(phone), code, s.ttl()); err != nil {
		return apperr.Storage(err)
	}
	if _, _, err := s.Codes.Take(ctx, attemptsKey(phone)); err != nil {
		return apperr.Storage(err)
	}
	if err := s.Sender.Send(ctx, phone, "Your SecureDM verification code is "+code); err != nil {
		if s.Log != nil {
			s.Log.Error("failed to deliver verification code", zap.Error(err))
		}
		return err
	}
	return nil
}

// Check consumes the code on success and marks phone verified.
func (s *Service) Check(ctx context.Context, phone, code string) error {
	want, ok, err := s.Codes.Get(ctx, codeKey(phone))
	if err != nil {
		return apperr.Storage(err)
	}
	if !ok {
		return apperr.InvalidInput("invalid or expired code")
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(code)) != 1 {
		return s.failedAttempt(ctx, phone)
	}
	if _, ok, err := s.Codes.Take(ctx, codeKey(phone)); err != nil {
		return apperr.Storage(err)
	} else if !ok {
		// raced with another check of the same code
		return apperr.InvalidInput("invalid or expired code")
	}
	if _, _, err := s.Codes.Take(ctx, attemptsKey(phone)); err != nil {
		return apperr.Storage(err)
	}
	if err := s.Codes.Save(ctx, verifiedKey(phone), "1", verifiedTTL); err != nil {
		return apperr.Storage(err)
	}
	return nil
}

// failedAttempt counts a wrong guess. The counter lives as long as a code
// does, and reaching maxAttempts burns the pending code.
func (s *Service) failedAttempt(ctx context.Context, phone string) error {
	n, err := s.Codes.Incr(ctx, attemptsKey(phone), s.ttl())
	if err != nil {
		return apperr.Storage(err)
	}
	if n >= maxAttempts {
		if _, _, err := s.Codes.Take(ctx, codeKey(phone)); err != nil {
			return apperr.Storage(err)
		}
		if _, _, err := s.Codes.Take(ctx, attemptsKey(phone)); err != nil {
			return apperr.Storage(err)
		}
		if s.Log != nil {
			s.Log.Warn("verification code discarded after too many attempts")
		}
	}
	return apperr.InvalidInput("invalid or expired code")
}

func (s *Service) Verified(ctx context.Context, phone string) (bool, error) {
	_, ok, err := s.Codes.Get(ctx, verifiedKey(phone))
	return ok, err
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
