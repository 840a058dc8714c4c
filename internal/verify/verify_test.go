package verify

import (
	"context"
	"strings"
	"testing"

	"github.com/pliu/securedm/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	phone, message string
}

func (c *captureSender) Send(_ context.Context, phone, message string) error {
	c.phone, c.message = phone, message
	return nil
}

func (c *captureSender) code() string {
	return c.message[strings.LastIndex(c.message, " ")+1:]
}

func TestRequestAndCheck(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	svc := &Service{Codes: NewMemoryStore(), Sender: sender}

	require.NoError(t, svc.Request(ctx, "5551234"))
	assert.Equal(t, "5551234", sender.phone)
	code := sender.code()
	assert.Len(t, code, 6)

	ok, err := svc.Verified(ctx, "5551234")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, svc.Check(ctx, "5551234", "not-it"), apperr.ErrInvalidInput)
	require.NoError(t, svc.Check(ctx, "5551234", code))

	ok, err = svc.Verified(ctx, "5551234")
	require.NoError(t, err)
	assert.True(t, ok)

	// Codes are single use.
	assert.ErrorIs(t, svc.Check(ctx, "5551234", code), apperr.ErrInvalidInput)
}

func TestCheckGivesUpAfterRepeatedGuesses(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	svc := &Service{Codes: NewMemoryStore(), Sender: sender}

	require.NoError(t, svc.Request(ctx, "5551234"))
	code := sender.code()
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	for i := 0; i < maxAttempts; i++ {
		assert.ErrorIs(t, svc.Check(ctx, "5551234", wrong), apperr.ErrInvalidInput)
	}

	assert.ErrorIs(t, svc.Check(ctx, "5551234", code), apperr.ErrInvalidInput)
	ok, err := svc.Verified(ctx, "5551234")
	require.NoError(t, err)
	assert.False(t, ok)

	// A new code starts a fresh count.
	require.NoError(t, svc.Request(ctx, "5551234"))
	code = sender.code()
	wrong = "000000"
	if code == wrong {
		wrong = "111111"
	}
	for i := 0; i < maxAttempts-1; i++ {
		assert.ErrorIs(t, svc.Check(ctx, "5551234", wrong), apperr.ErrInvalidInput)
	}
	require.NoError(t, svc.Check(ctx, "5551234", code))
}

func TestCheckWithoutRequest(t *testing.T) {
	svc := &Service{Codes: NewMemoryStore(), Sender: &captureSender{}}
	assert.ErrorIs(t, svc.Check(context.Background(), "5551234", "000000"), apperr.ErrInvalidInput)
}

func TestSMTPGatewaySenderMock(t *testing.T) {
	s := &SMTPGatewaySender{Gateway: "sms.example"}
	assert.NoError(t, s.Send(context.Background(), "5551234", "hi"))
}
