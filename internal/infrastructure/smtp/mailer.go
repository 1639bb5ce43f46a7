package smtp

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"

	"github.com/kinkyharbor/harbor-api/internal/config"
	"github.com/kinkyharbor/harbor-api/internal/domain"
)

// Mailer delivers outbound messages directly over SMTP. Used for dev and
// single-node deployments where no broker sits between the API and the MTA.
type Mailer struct {
	host      string
	port      string
	fromName  string
	fromEmail string
	username  string
	password  string
}

func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		host:      cfg.SMTPHost,
		port:      cfg.SMTPPort,
		fromName:  cfg.MailFromName,
		fromEmail: cfg.MailFromEmail,
		username:  cfg.SMTPUsername,
		password:  cfg.SMTPPassword,
	}
}

// Enqueue sends the message to the MTA. The MTA queues actual delivery, so
// the call returns as soon as the message is handed off.
func (m *Mailer) Enqueue(_ context.Context, msg domain.EmailMessage) error {
	from := fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", m.fromName), m.fromEmail)
	to := fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.ToName), msg.ToEmail)
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		from, to, mime.QEncoding.Encode("utf-8", msg.Subject), msg.Text)
	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return smtp.SendMail(addr, auth, m.fromEmail, []string{msg.ToEmail}, []byte(body))
}
