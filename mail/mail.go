// Package mail delivers contact form submissions over SMTP.
package mail

import (
	"bytes"
	"context"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	gomail "github.com/wneessen/go-mail"
	"github.com/yuin/goldmark"
)

type Message struct {
	ReplyTo string
	Subject string
	// Body is markdown. It is sent as plain text, with an HTML alternative.
	Body string
}

// Sender delivers messages to the site owner.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// SSL uses implicit TLS instead of STARTTLS.
	SSL  bool
	From string
	To   string
}

func NewSMTP(config SMTPConfig) *SMTP {
	return &SMTP{
		config: config,
		policy: bluemonday.UGCPolicy(),
	}
}

type SMTP struct {
	config SMTPConfig
	policy *bluemonday.Policy
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	m, err := s.message(msg)
	if err != nil {
		return err
	}
	opts := []gomail.Option{
		gomail.WithPort(s.config.Port),
	}
	if s.config.SSL {
		opts = append(opts, gomail.WithSSL())
	}
	if s.config.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.config.Username),
			gomail.WithPassword(s.config.Password),
		)
	}
	c, err := gomail.NewClient(s.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("mail: failed to create client: %w", err)
	}
	if err = c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("mail: failed to send: %w", err)
	}
	return nil
}

func (s *SMTP) message(msg Message) (m *gomail.Msg, err error) {
	m = gomail.NewMsg()
	if err = m.From(s.config.From); err != nil {
		return nil, fmt.Errorf("mail: invalid from address: %w", err)
	}
	if err = m.To(s.config.To); err != nil {
		return nil, fmt.Errorf("mail: invalid to address: %w", err)
	}
	if msg.ReplyTo != "" {
		if err = m.ReplyTo(msg.ReplyTo); err != nil {
			return nil, fmt.Errorf("mail: invalid reply-to address: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	html, err := s.HTML(msg.Body)
	if err != nil {
		return nil, err
	}
	m.AddAlternativeString(gomail.TypeTextHTML, html)
	return m, nil
}

// HTML renders markdown, removing anything unsafe.
func (s *SMTP) HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.New().Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("mail: failed to render markdown: %w", err)
	}
	return string(s.policy.SanitizeBytes(buf.Bytes())), nil
}
