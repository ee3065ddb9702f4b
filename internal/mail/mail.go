package mail

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// Mailer sends transactional mail over plain SMTP. A nil Mailer is valid and
// drops messages with a log line, so the app runs without mail configured.
type Mailer struct {
	host string
	port string
	user string
	pass string
	from string
}

func New(host, port, user, pass, from string) *Mailer {
	if host == "" || from == "" {
		log.Println("SMTP not configured, outgoing mail disabled")
		return nil
	}
	return &Mailer{host: host, port: port, user: user, pass: pass, from: from}
}

// SendPasswordReset mails the reset link for the token.
func (m *Mailer) SendPasswordReset(to, resetURL string) error {
	subject := "Reset your password"
	body := fmt.Sprintf(
		"Someone requested a password reset for this address.\r\n\r\n"+
			"Open the link below within one hour to choose a new password:\r\n\r\n%s\r\n\r\n"+
			"If this wasn't you, ignore this email.\r\n",
		resetURL,
	)
	return m.send(to, subject, body)
}

func (m *Mailer) send(to, subject, body string) error {
	if m == nil {
		log.Printf("Mail disabled, dropping %q to %s", subject, to)
		return nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := m.host + ":" + m.port
	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	if err := smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}
