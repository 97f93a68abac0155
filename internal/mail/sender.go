// Package mail delivers invitation emails over SMTP.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

var inviteTemplate = template.Must(template.New("invite").Parse(`<p>{{.Inviter}} invited you to chat on ConvoHub.</p>
<p><a href="{{.Link}}">Accept the invitation</a></p>
<p>The link can be used once.</p>`))

// Dialer is the part of *gomail.Dialer the sender uses.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Sender struct {
	dialer Dialer
	from   string
	log    *zap.Logger
}

func NewSMTPSender(host string, port int, username, password, from string, log *zap.Logger) *Sender {
	return NewSender(gomail.NewDialer(host, port, username, password), from, log)
}

func NewSender(dialer Dialer, from string, log *zap.Logger) *Sender {
	return &Sender{dialer: dialer, from: from, log: log}
}

func (s *Sender) SendInvite(ctx context.Context, to, link, inviterName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := renderInvite(inviterName, link)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", fmt.Sprintf("%s invited you to ConvoHub", inviterName))
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send invite to %s: %w", to, err)
	}
	s.log.Info("invite email sent", zap.String("to", to))
	return nil
}

func renderInvite(inviter, link string) (string, error) {
	var buf bytes.Buffer
	if err := inviteTemplate.Execute(&buf, map[string]string{"Inviter": inviter, "Link": link}); err != nil {
		return "", fmt.Errorf("render invite email: %w", err)
	}
	return buf.String(), nil
}

// LogSender is used when SMTP is not configured; the link is logged so local
// setups can still redeem invites.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendInvite(_ context.Context, to, link, inviterName string) error {
	s.log.Info("smtp disabled, invite not emailed", zap.String("to", to), zap.String("inviter", inviterName), zap.String("link", link))
	return nil
}
