package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/config"
)

// Sender delivers a fully formatted message (headers and body).
type Sender interface {
	Send(ctx context.Context, to []string, subject string, rawMessage []byte) error
}

// SMTPSender implements Sender with net/smtp.
type SMTPSender struct {
	cfg  *config.Config
	auth smtp.Auth
	addr string
}

// NewSMTPSender returns an SMTP sender, or a LoggingSender when no host is configured.
func NewSMTPSender(cfg *config.Config) Sender {
	if cfg.SmtpHost == "" {
		logrus.Info("SMTP host not configured, using logging email sender")
		return &LoggingSender{cfg: cfg}
	}
	var auth smtp.Auth
	if cfg.SmtpUsername != "" {
		auth = smtp.PlainAuth("", cfg.SmtpUsername, cfg.SmtpPassword, cfg.SmtpHost)
	}
	return &SMTPSender{
		cfg:  cfg,
		auth: auth,
		addr: fmt.Sprintf("%s:%d", cfg.SmtpHost, cfg.SmtpPort),
	}
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if err := smtp.SendMail(s.addr, s.auth, s.cfg.SmtpFromAddress, to, rawMessage); err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	logrus.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("Email sent via SMTP")
	return nil
}

// LoggingSender only logs the message. Used in development.
type LoggingSender struct {
	cfg *config.Config
}

func (s *LoggingSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	logrus.WithFields(logrus.Fields{
		"to":      to,
		"from":    s.cfg.SmtpFromAddress,
		"subject": subject,
	}).Info("Email logged, not sent")
	logrus.Debug(string(rawMessage))
	return nil
}

// NewSender assembles the sender chain for the configuration: the Redis mock
// inbox when MOCK_SERVICES is set, SMTP (or logging) otherwise, plus a file
// copy when LOG_EMAILS is set.
func NewSender(cfg *config.Config, rdb redis.UniversalClient) (Sender, error) {
	composite := NewCompositeEmailSender()
	if cfg.MockServices && rdb != nil {
		composite.AddSender(NewRedisSender(rdb, cfg))
	} else {
		composite.AddSender(NewSMTPSender(cfg))
	}
	if cfg.LogEmailsPath != "" {
		fileSender, err := NewFileEmailSender(cfg.LogEmailsPath)
		if err != nil {
			return nil, err
		}
		composite.AddSender(fileSender)
	}
	return composite, nil
}
