package services

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/incidentflow/api/internal/config"
)

// EmailService delivers notification emails through a plain SMTP relay.
type EmailService struct {
	cfg config.SMTPConfig
}

func NewEmailService(cfg config.SMTPConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

// Enabled reports whether an SMTP relay is configured. Without one, email
// delivery is skipped and only push notifications go out.
func (s *EmailService) Enabled() bool {
	return s.cfg.Host != "" && s.cfg.From != ""
}

// SendNotificationEmail renders and sends one notification.
func (s *EmailService) SendNotificationEmail(n Notification) error {
	if !s.Enabled() {
		return nil
	}

	subject, body := renderNotification(n)
	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + n.Recipient,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{n.Recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", n.Recipient, err)
	}
	return nil
}

func renderNotification(n Notification) (subject, body string) {
	switch n.Kind {
	case NotificationKindSLABreach:
		subject = fmt.Sprintf("[%s] SLA breached: %s", n.Severity, n.IncidentTitle)
		body = fmt.Sprintf(
			"Incident %s (%s) has exceeded its acknowledgement SLA and is still unacknowledged.\n\nTitle: %s\n\nPlease investigate immediately.",
			n.IncidentID, n.Severity, n.IncidentTitle)
	default:
		subject = fmt.Sprintf("[%s] Incident declared: %s", n.Severity, n.IncidentTitle)
		body = fmt.Sprintf(
			"A new incident has been declared and assigned to you.\n\nIncident: %s\nSeverity: %s\nTitle: %s",
			n.IncidentID, n.Severity, n.IncidentTitle)
	}
	return subject, body
}
