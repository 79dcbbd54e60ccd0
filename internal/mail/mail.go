// Package mail sends transactional email. The SMTP dialer carries a 15 s
// deadline so a stalled relay cannot wedge signup or alerting paths.
package mail

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/flowline/backend/internal/config"
)

const sendTimeout = 15 * time.Second

// Mailer delivers a single message. Implementations must be safe for
// concurrent use.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer sends through a configured relay with PLAIN auth over STARTTLS.
type SMTPMailer struct {
	cfg    config.SMTPConfig
	logger *log.Logger
}

// NewSMTPMailer builds a mailer from SMTP config. Returns a no-op mailer when
// the host is unset so development environments work without a relay.
func NewSMTPMailer(cfg config.SMTPConfig) Mailer {
	logger := log.New(log.Writer(), "[MAIL] ", log.LstdFlags)
	if cfg.Host == "" {
		logger.Println("SMTP_HOST not set, email delivery disabled")
		return &logMailer{logger: logger}
	}
	return &SMTPMailer{cfg: cfg, logger: logger}
}

// Send delivers one plain-text message.
func (m *SMTPMailer) Send(to, subject, body string) error {
	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)

	conn, err := net.DialTimeout("tcp", addr, sendTimeout)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	conn.SetDeadline(time.Now().Add(sendTimeout))

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	msg := buildMessage(m.cfg.From, to, subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func buildMessage(from, to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.String()
}

// logMailer stands in when no relay is configured. It logs the subject only,
// never the body, so verification codes stay out of logs.
type logMailer struct {
	logger *log.Logger
}

func (m *logMailer) Send(to, subject, body string) error {
	m.logger.Printf("dropping email to %s: %q", to, subject)
	return nil
}

// VerificationBody renders the signup code email.
func VerificationBody(code string) string {
	return fmt.Sprintf("Your Flowline verification code is %s.\n\nIt expires in 24 hours. If you did not request this, ignore this email.\n", code)
}

// PasswordResetBody renders the reset link email.
func PasswordResetBody(link string) string {
	return fmt.Sprintf("A password reset was requested for your Flowline account.\n\nReset it here: %s\n\nThe link expires in 1 hour. If you did not request this, ignore this email.\n", link)
}
