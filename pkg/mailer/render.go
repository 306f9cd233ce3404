package mailer

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Renderer builds the account emails from the embedded templates.
type Renderer struct {
	siteName string
	html     *htmltemplate.Template
	text     *texttemplate.Template
	now      func() time.Time
}

func NewRenderer(siteName string) (*Renderer, error) {
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse html email templates: %w", err)
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse text email templates: %w", err)
	}
	return &Renderer{siteName: siteName, html: html, text: text, now: time.Now}, nil
}

type otpData struct {
	SiteName     string
	Name         string
	Code         string
	ValidMinutes int
	Year         int
}

type linkData struct {
	SiteName   string
	Name       string
	URL        string
	ValidHours int
}

// OTP renders the verification code email.
func (r *Renderer) OTP(to, name, code string, valid time.Duration) (Message, error) {
	data := otpData{
		SiteName:     r.siteName,
		Name:         name,
		Code:         code,
		ValidMinutes: int(valid.Minutes()),
		Year:         r.now().Year(),
	}
	return r.render(to, fmt.Sprintf("Your %s Verification Code", r.siteName), "otp", data)
}

// PasswordReset renders the reset link email.
func (r *Renderer) PasswordReset(to, name, url string, valid time.Duration) (Message, error) {
	data := linkData{SiteName: r.siteName, Name: name, URL: url, ValidHours: int(valid.Hours())}
	return r.render(to, fmt.Sprintf("Reset your %s password", r.siteName), "password_reset", data)
}

// Verification renders the activation link email.
func (r *Renderer) Verification(to, name, url string, valid time.Duration) (Message, error) {
	data := linkData{SiteName: r.siteName, Name: name, URL: url, ValidHours: int(valid.Hours())}
	return r.render(to, fmt.Sprintf("Verify your %s account", r.siteName), "verify_email", data)
}

func (r *Renderer) render(to, subject, name string, data any) (Message, error) {
	var text, html bytes.Buffer
	if err := r.text.ExecuteTemplate(&text, name+".txt.tmpl", data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s text: %w", name, err)
	}
	if err := r.html.ExecuteTemplate(&html, name+".html.tmpl", data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s html: %w", name, err)
	}
	return Message{To: to, Subject: subject, Text: text.String(), HTML: html.String()}, nil
}
