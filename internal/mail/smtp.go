// smtp.go
//
// Mailer interface and the SMTP and no-op implementations.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
)

// Mailer sends transactional emails rendered from the template catalog.
type Mailer interface {
	// SendTemplate renders templateID with data and delivers it to toEmail.
	// subject overrides the template's subject when non-empty.
	// data holds %%key%% replacements; toEmail is always injected under "toEmail".
	// A nil error means the message was handed off (sent, or queued for sending).
	SendTemplate(ctx context.Context, toEmail, subject, templateID string, data map[string]string) error
}

// SMTPConfig holds all configuration for SMTPMailer.
type SMTPConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	FromAddress string
}

// SMTPMailer sends transactional email via SMTP.
// Compatible with any SMTP provider: SES, Mailgun, Mailpit (local dev), etc.
type SMTPMailer struct {
	cfg     SMTPConfig
	catalog *Catalog
}

// NewSMTPMailer creates an SMTPMailer. A nil catalog uses DefaultCatalog.
func NewSMTPMailer(cfg SMTPConfig, catalog *Catalog) *SMTPMailer {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &SMTPMailer{cfg: cfg, catalog: catalog}
}

// NopMailer discards all outbound email. Used when SMTP is not configured.
type NopMailer struct{}

func (n *NopMailer) SendTemplate(ctx context.Context, toEmail, _, templateID string, _ map[string]string) error {
	slog.DebugContext(ctx, "mail suppressed, smtp not configured", "template", templateID, "to", toEmail)
	return nil
}

// SendTemplate renders and delivers one message.
func (m *SMTPMailer) SendTemplate(ctx context.Context, toEmail, subject, templateID string, data map[string]string) error {
	msg, err := m.compose(toEmail, subject, templateID, data)
	if err != nil {
		return err
	}
	if err := m.sendMail(ctx, toEmail, msg); err != nil {
		return fmt.Errorf("sending %s email: %w", templateID, err)
	}
	return nil
}

// compose renders the template and prepends RFC 5322 headers.
func (m *SMTPMailer) compose(toEmail, subject, templateID string, data map[string]string) (string, error) {
	merged := make(map[string]string, len(data)+1)
	for k, v := range data {
		merged[k] = v
	}
	merged["toEmail"] = toEmail

	subj, body, err := m.catalog.Render(templateID, subject, merged)
	if err != nil {
		return "", err
	}

	return "From: " + headerSafe(m.cfg.FromAddress) + "\r\n" +
		"To: " + headerSafe(toEmail) + "\r\n" +
		"Subject: " + headerSafe(subj) + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body, nil
}

// headerSafe drops CR and LF so caller data cannot inject extra headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// sendMail dials the SMTP server, enforces STARTTLS (rejects plaintext sessions),
// authenticates, and delivers msg. The connection respects ctx cancellation.
func (m *SMTPMailer) sendMail(ctx context.Context, toEmail, msg string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", net.JoinHostPort(m.cfg.Host, m.cfg.Port))
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not advertise STARTTLS: refusing plaintext session")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}

	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	return c.Quit()
}
