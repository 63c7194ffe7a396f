package notifier

import (
	"context"
	"fmt"

	"github.com/go-mail/mail"
)

// Email sends notifications over SMTP.
type Email struct {
	from string
	to   string
	send func(m *mail.Message) error
}

func NewEmail(host string, port int, username, password, from, to string) *Email {
	d := mail.NewDialer(host, port, username, password)
	return &Email{from: from, to: to, send: func(m *mail.Message) error { return d.DialAndSend(m) }}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := mail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.to)
	m.SetHeader("Subject", n.Title)
	m.SetBody("text/plain", n.Body)
	if err := e.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
