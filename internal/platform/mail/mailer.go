package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"
)

// Message is a plain-text email ready for delivery.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages to a mailbox.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config carries SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers mail over an authenticated SMTP connection.
type SMTPSender struct {
	cfg Config
}

// NewSMTPSender validates the configuration and constructs a sender.
func NewSMTPSender(cfg Config) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mail: host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mail: from address is required")
	}
	return &SMTPSender{cfg: cfg}, nil
}

// Send delivers a single plain-text message.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s == nil {
		return errors.New("mail: sender not initialised")
	}
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return errors.New("mail: recipient is required")
	}

	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("mail: set from: %w", err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("mail: set recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if strings.TrimSpace(s.cfg.Username) != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}

	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("mail: dial: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	return nil
}

// PasswordResetMessage renders the reset email for the given recipient.
func PasswordResetMessage(to, name, resetURL string) Message {
	display := strings.TrimSpace(name)
	if display == "" {
		display = "there"
	}
	body := fmt.Sprintf(
		"Hi %s,\n\nWe received a request to reset your password. Use the link below to choose a new one. The link expires in 20 minutes.\n\n%s\n\nIf you did not request a reset you can ignore this email.\n",
		display, resetURL,
	)
	return Message{
		To:      to,
		Subject: "Reset your password",
		Body:    body,
	}
}
