// Package mailer delivers login codes and invite links.
//
// Neither implementation writes the code or the link to a log.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Log records deliveries without their secrets. It is meant for local
// development where no relay exists.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l Log) SendLoginCode(ctx context.Context, email, _ string, expiresAt time.Time) error {
	l.logger().InfoContext(ctx, "mailer: login code queued",
		"to", email,
		"expires_at", expiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}

func (l Log) SendInvite(ctx context.Context, email, _ string, expiresAt time.Time) error {
	l.logger().InfoContext(ctx, "mailer: invite queued",
		"to", email,
		"expires_at", expiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}

// SMTPConfig addresses a mail relay. Username empty disables AUTH.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends plain-text mail through a relay.
type SMTP struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

// NewSMTP validates cfg and returns a relay mailer.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if !strings.Contains(cfg.From, "@") {
		return nil, fmt.Errorf("smtp from address %q is invalid", cfg.From)
	}
	return &SMTP{cfg: cfg, send: smtp.SendMail, now: time.Now}, nil
}

func (s *SMTP) SendLoginCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	body := fmt.Sprintf("Your sign-in code is %s.\r\n\r\nIt expires at %s UTC. If you did not ask for it, ignore this message.\r\n",
		code, expiresAt.UTC().Format("15:04"))
	return s.deliver(ctx, email, "Your sign-in code", body)
}

func (s *SMTP) SendInvite(ctx context.Context, email, link string, expiresAt time.Time) error {
	body := fmt.Sprintf("You have been invited to join a marketplace business.\r\n\r\nSet your password here:\r\n%s\r\n\r\nThe link expires on %s UTC.\r\n",
		link, expiresAt.UTC().Format("2006-01-02 15:04"))
	return s.deliver(ctx, email, "You're invited", body)
}

func (s *SMTP) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient")
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.send(addr, auth, s.cfg.From, []string{to}, s.message(to, subject, body)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTP) message(to, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.Bytes()
}
