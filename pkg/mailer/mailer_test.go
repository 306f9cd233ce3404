package mailer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRenderer_OTP(t *testing.T) {
	r, err := NewRenderer("AI Website Generator")
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	msg, err := r.OTP("ada@example.com", "Ada", "042917", 10*time.Minute)
	if err != nil {
		t.Fatalf("OTP() error = %v", err)
	}
	if msg.Subject != "Your AI Website Generator Verification Code" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	for _, body := range []string{msg.Text, msg.HTML} {
		if !strings.Contains(body, "042917") {
			t.Error("body is missing the code")
		}
		if !strings.Contains(body, "10 minutes") {
			t.Error("body is missing the validity window")
		}
	}
	if !strings.Contains(msg.HTML, "Hi Ada,") {
		t.Error("html body is missing the greeting")
	}
}

func TestRenderer_EscapesHTML(t *testing.T) {
	r, err := NewRenderer("Site")
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	msg, err := r.PasswordReset("x@example.com", "<b>bob</b>", "https://example.com/reset/abc/def", 72*time.Hour)
	if err != nil {
		t.Fatalf("PasswordReset() error = %v", err)
	}
	if strings.Contains(msg.HTML, "<b>bob</b>") {
		t.Error("name should be escaped in the html body")
	}
	if !strings.Contains(msg.Text, "<b>bob</b>") {
		t.Error("text body should carry the raw name")
	}
	if !strings.Contains(msg.Text, "72 hours") {
		t.Errorf("text body = %q", msg.Text)
	}
}

func TestRenderer_Verification(t *testing.T) {
	r, _ := NewRenderer("Site")
	msg, err := r.Verification("x@example.com", "bob", "https://example.com/v/1/2", 24*time.Hour)
	if err != nil {
		t.Fatalf("Verification() error = %v", err)
	}
	if !strings.Contains(msg.HTML, `href="https://example.com/v/1/2"`) {
		t.Errorf("html body missing link: %s", msg.HTML)
	}
}

func TestMemoryMailer(t *testing.T) {
	m := &MemoryMailer{}
	if _, ok := m.Last(); ok {
		t.Fatal("Last() on empty mailer should report false")
	}
	_ = m.Send(context.Background(), Message{To: "a@example.com"})
	_ = m.Send(context.Background(), Message{To: "b@example.com"})
	if got := len(m.Sent()); got != 2 {
		t.Errorf("len(Sent()) = %d, want 2", got)
	}
	if last, _ := m.Last(); last.To != "b@example.com" {
		t.Errorf("Last().To = %q", last.To)
	}

	m.Err = errors.New("boom")
	if err := m.Send(context.Background(), Message{}); err == nil {
		t.Error("expected configured error")
	}
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(slog.New(slog.NewTextHandler(&buf, nil)))
	if err := m.Send(context.Background(), Message{To: "a@example.com", Subject: "hi", Text: "code 123456"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.Contains(buf.String(), "123456") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestNewSMTPMailer_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if _, err := NewSMTPMailer(SMTPConfig{From: "a@example.com"}, logger); err == nil {
		t.Error("missing host should fail")
	}
	if _, err := NewSMTPMailer(SMTPConfig{Host: "localhost"}, logger); err == nil {
		t.Error("missing from should fail")
	}
	m, err := NewSMTPMailer(SMTPConfig{Host: "localhost", From: "a@example.com"}, logger)
	if err != nil {
		t.Fatalf("NewSMTPMailer() error = %v", err)
	}
	if m.config.Port != 587 {
		t.Errorf("default port = %d", m.config.Port)
	}
}
