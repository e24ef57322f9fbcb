package services

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/studiobase/backend/pkg/logger"
)

// Mailer is the outbound email collaborator. Invitation and reset secrets
// pass through it exactly once and must never be persisted by an
// implementation.
type Mailer interface {
	SendInvitation(to string, name string, temporaryPassword string, verificationURL string) error
	SendPasswordReset(to string, resetURL string) error
}

// SMTPMailer delivers over a plain SMTP relay.
type SMTPMailer struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
	Host     string
}

func NewSMTPMailer(addr, from, username, password string) *SMTPMailer {
	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	return &SMTPMailer{Addr: addr, From: from, Username: username, Password: password, Host: host}
}

func (m *SMTPMailer) SendInvitation(to, name, temporaryPassword, verificationURL string) error {
	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}
	body := fmt.Sprintf(
		"%s,\r\n\r\nYou have been invited to Studiobase.\r\n\r\n"+
			"Temporary password: %s\r\n\r\n"+
			"Verify your email address to activate the account:\r\n%s\r\n",
		greeting, temporaryPassword, verificationURL,
	)
	return m.send(to, "You have been invited to Studiobase", body)
}

func (m *SMTPMailer) SendPasswordReset(to, resetURL string) error {
	body := fmt.Sprintf(
		"Hello,\r\n\r\nA password reset was requested for this address.\r\n\r\n"+
			"Reset your password within the next hour:\r\n%s\r\n\r\n"+
			"If you did not request this, you can ignore this email.\r\n",
		resetURL,
	)
	return m.send(to, "Reset your Studiobase password", body)
}

func (m *SMTPMailer) send(to, subject, body string) error {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		m.From, to, subject, body,
	)

	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	return smtp.SendMail(m.Addr, auth, m.From, []string{to}, []byte(msg))
}

// LogMailer is the development fallback when no SMTP relay is configured.
// It records that a mail would have gone out but never logs the secrets.
type LogMailer struct{}

func (LogMailer) SendInvitation(to, name, temporaryPassword, verificationURL string) error {
	logger.Info("mail_invitation_skipped", map[string]interface{}{
		"to":     to,
		"reason": "smtp not configured",
	})
	return nil
}

func (LogMailer) SendPasswordReset(to, resetURL string) error {
	logger.Info("mail_password_reset_skipped", map[string]interface{}{
		"to":     to,
		"reason": "smtp not configured",
	})
	return nil
}
