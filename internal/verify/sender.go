package verify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// Sender delivers a verification code to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// SMTPGatewaySender delivers SMS through a carrier email-to-SMS gateway,
// addressing mail to <phone>@<Gateway>. With no Host configured it only logs
// the message.
type SMTPGatewaySender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	Gateway  string
	Log      *zap.Logger
}

func (s *SMTPGatewaySender) Send(_ context.Context, phone, message string) error {
	to := phone + "@" + s.Gateway

	if s.Host == "" {
		if s.Log != nil {
			s.Log.Info("mock sms", zap.String("to", to), zap.String("body", message))
		}
		return nil
	}

	headers := [][2]string{
		{"From", s.From},
		{"To", to},
		{"Subject", "Verification code"},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=\"UTF-8\""},
	}
	var b strings.Builder
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("\r\n")
	b.WriteString(message)

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)
	if err := smtp.SendMail(addr, auth, s.From, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("failed to send sms to %s: %w", to, err)
	}
	return nil
}
