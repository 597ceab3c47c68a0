package mailer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

type sent struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func newTestSMTP(t *testing.T, cfg SMTPConfig) (*SMTP, *[]sent) {
	t.Helper()
	m, err := NewSMTP(cfg)
	if err != nil {
		t.Fatalf("NewSMTP failed: %v", err)
	}
	var out []sent
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		out = append(out, sent{addr: addr, auth: a, from: from, to: to, msg: string(msg)})
		return nil
	}
	m.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return m, &out
}

func TestLogMailerOmitsSecrets(t *testing.T) {
	var buf bytes.Buffer
	m := Log{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	expires := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

	if err := m.SendLoginCode(context.Background(), "a@x.com", "493817", expires); err != nil {
		t.Fatalf("SendLoginCode failed: %v", err)
	}
	if err := m.SendInvite(context.Background(), "a@x.com", "https://m.example/invite/accept?token=s3cr3t", expires); err != nil {
		t.Fatalf("SendInvite failed: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "493817") || strings.Contains(out, "s3cr3t") {
		t.Fatalf("log leaked a secret: %s", out)
	}
	if strings.Count(out, `"to":"a@x.com"`) != 2 {
		t.Fatalf("expected both deliveries logged, got %s", out)
	}
}

func TestNewSMTPValidates(t *testing.T) {
	if _, err := NewSMTP(SMTPConfig{From: "a@x.com"}); err == nil {
		t.Fatal("expected missing host to fail")
	}
	if _, err := NewSMTP(SMTPConfig{Host: "smtp.example", From: "nobody"}); err == nil {
		t.Fatal("expected invalid from to fail")
	}
	m, err := NewSMTP(SMTPConfig{Host: "smtp.example", From: "auth@m.example"})
	if err != nil {
		t.Fatalf("NewSMTP failed: %v", err)
	}
	if m.cfg.Port != 587 {
		t.Fatalf("expected default port 587, got %d", m.cfg.Port)
	}
}

func TestSMTPSendsCodeAndInvite(t *testing.T) {
	m, out := newTestSMTP(t, SMTPConfig{Host: "smtp.example", Port: 2525, From: "auth@m.example"})
	expires := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

	if err := m.SendLoginCode(context.Background(), "a@x.com", "493817", expires); err != nil {
		t.Fatalf("SendLoginCode failed: %v", err)
	}
	if err := m.SendInvite(context.Background(), "b@x.com", "https://m.example/invite/accept?token=abc", expires); err != nil {
		t.Fatalf("SendInvite failed: %v", err)
	}

	if len(*out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(*out))
	}
	code := (*out)[0]
	if code.addr != "smtp.example:2525" || code.from != "auth@m.example" || code.to[0] != "a@x.com" {
		t.Fatalf("unexpected envelope: %+v", code)
	}
	if code.auth != nil {
		t.Fatal("expected no AUTH without username")
	}
	if !strings.Contains(code.msg, "493817") || !strings.Contains(code.msg, "To: a@x.com\r\n") {
		t.Fatalf("unexpected code message: %q", code.msg)
	}
	if !strings.Contains((*out)[1].msg, "token=abc") {
		t.Fatalf("expected invite link in body: %q", (*out)[1].msg)
	}
}

func TestSMTPRejectsHeaderInjection(t *testing.T) {
	m, out := newTestSMTP(t, SMTPConfig{Host: "smtp.example", From: "auth@m.example"})
	err := m.SendLoginCode(context.Background(), "a@x.com\r\nBcc: evil@x.com", "1", time.Now())
	if err == nil || len(*out) != 0 {
		t.Fatalf("expected injected recipient to be refused, err=%v sent=%d", err, len(*out))
	}
}

func TestSMTPPropagatesRelayErrors(t *testing.T) {
	m, _ := newTestSMTP(t, SMTPConfig{Host: "smtp.example", From: "auth@m.example", Username: "u", Password: "p"})
	relay := errors.New("relay down")
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return relay }

	if err := m.SendInvite(context.Background(), "a@x.com", "l", time.Now()); !errors.Is(err, relay) {
		t.Fatalf("expected relay error, got %v", err)
	}
}
