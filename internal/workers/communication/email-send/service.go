package emailsend

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/common/validation"
)

// SMTPSender delivers mail through an SMTP relay, upgrading with STARTTLS
// when UseTLS is set.
type SMTPSender struct {
	config *Config
	logger logger.Logger
}

func NewSMTPSender(config *Config, log logger.Logger) *SMTPSender {
	return &SMTPSender{
		config: config,
		logger: log.WithFields(map[string]interface{}{"component": "smtp"}),
	}
}

func (s *SMTPSender) SendEmail(ctx context.Context, e Email) (string, error) {
	if err := checkAddresses(e); err != nil {
		return "", err
	}
	messageID := generateMessageID(e.To, s.config.SMTPHost)
	msg, err := BuildMessage(e, messageID)
	if err != nil {
		return "", apperrors.NewFatal(apperrors.ErrCodeEmailSendFailed, "build message", err)
	}

	if err := s.send(ctx, e.From, []string{e.To}, msg); err != nil {
		return "", apperrors.NewRetryable(apperrors.ErrCodeEmailSendFailed, "smtp delivery failed", err)
	}

	s.logger.Info("email sent", map[string]interface{}{
		"to":        e.To,
		"messageId": messageID,
		"bytes":     len(msg),
	})
	return messageID, nil
}

func (s *SMTPSender) addr() string {
	return net.JoinHostPort(s.config.SMTPHost, strconv.Itoa(s.config.SMTPPort))
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	d := net.Dialer{Timeout: s.config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", s.addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	return client, nil
}

func (s *SMTPSender) send(ctx context.Context, from string, to []string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before sending email: %w", err)
	}

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.config.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.config.SMTPHost}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if s.config.SMTPUsername != "" && s.config.SMTPPassword != "" {
		auth := smtp.PlainAuth("", s.config.SMTPUsername, s.config.SMTPPassword, s.config.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", addr, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}

// TestConnection is used by the readiness probe.
func (s *SMTPSender) TestConnection(ctx context.Context) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.config.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.config.SMTPHost}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	return client.Quit()
}

// RawSender is satisfied by aws.SESClient.
type RawSender interface {
	SendRaw(ctx context.Context, from string, to []string, raw []byte) (string, error)
}

// SESSender hands the built MIME message to SES.
type SESSender struct {
	client RawSender
	logger logger.Logger
}

func NewSESSender(client RawSender, log logger.Logger) *SESSender {
	return &SESSender{
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "ses"}),
	}
}

func (s *SESSender) SendEmail(ctx context.Context, e Email) (string, error) {
	if err := checkAddresses(e); err != nil {
		return "", err
	}
	msg, err := BuildMessage(e, "")
	if err != nil {
		return "", apperrors.NewFatal(apperrors.ErrCodeEmailSendFailed, "build message", err)
	}

	id, err := s.client.SendRaw(ctx, e.From, []string{e.To}, msg)
	if err != nil {
		return "", apperrors.NewRetryable(apperrors.ErrCodeEmailSendFailed, "ses delivery failed", err)
	}
	s.logger.Info("email sent", map[string]interface{}{
		"to":        e.To,
		"messageId": id,
		"bytes":     len(msg),
	})
	return id, nil
}

func checkAddresses(e Email) error {
	if !validation.ValidateEmail(e.From) {
		return apperrors.NewFatal(apperrors.ErrCodeEmailSendFailed, "invalid sender address",
			fmt.Errorf("from %q", e.From))
	}
	if !validation.ValidateEmail(e.To) {
		return apperrors.NewInvalid(apperrors.ErrCodeNoRecipient, "invalid recipient address", e.To)
	}
	if e.ReplyTo != "" && !validation.ValidateEmail(e.ReplyTo) {
		return apperrors.NewInvalid(apperrors.ErrCodeNoRecipient, "invalid reply-to address", e.ReplyTo)
	}
	return nil
}
