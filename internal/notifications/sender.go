package notifications

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Sender delivers one notification over its channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n Notification) error

func (f SenderFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

type SMTPSender struct {
	Addr string
	From string
	Auth smtp.Auth
}

func NewSMTPSender(host string, port int, user, password, from string) *SMTPSender {
	s := &SMTPSender{Addr: net.JoinHostPort(host, strconv.Itoa(port)), From: from}
	if user != "" {
		s.Auth = smtp.PlainAuth("", user, password, host)
	}
	return s
}

func (s *SMTPSender) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", n.Recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", n.Subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(n.Body)
	return smtp.SendMail(s.Addr, s.Auth, s.From, []string{n.Recipient}, []byte(msg.String()))
}

// LogSender only logs the message. Used when no transport is configured.
type LogSender struct{ Log *zap.Logger }

func (s LogSender) Send(_ context.Context, n Notification) error {
	s.Log.Info("notification delivered to log",
		zap.String("notification_id", n.ID),
		zap.String("channel", string(n.Channel)),
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject),
	)
	return nil
}
