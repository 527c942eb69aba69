// Package mail is the outbound email collaborator: a narrow Sender interface
// plus the one message this service sends.
package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers over plain SMTP. Auth is skipped when no username is
// configured (local relay).
type SMTPSender struct {
	addr     string
	username string
	password string
	from     string
}

func NewSMTPSender(addr, username, password, from string) *SMTPSender {
	return &SMTPSender{addr: addr, username: username, password: password, from: from}
}

func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	host, _, err := net.SplitHostPort(s.addr)
	if err != nil {
		return fmt.Errorf("invalid smtp address %q: %w", s.addr, err)
	}

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	if err := smtp.SendMail(s.addr, auth, s.from, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func ResetMessage(to, link string) Message {
	return Message{
		To:      to,
		Subject: "Reset your password",
		Body:    "Hello!\nUse the link below to reset your password\nlink: " + link + "\n",
	}
}
