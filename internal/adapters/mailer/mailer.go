// Package mailer delivers account emails over SMTP, or to the log in dev.
package mailer

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"

	"stayhub/internal/domain"
	"stayhub/internal/shared"
)

const defaultTimeout = 10 * time.Second

type SMTP struct {
	host    string
	port    int
	user    string
	pass    string
	from    string
	timeout time.Duration

	// send delivers one message; swapped in tests.
	send func(ctx context.Context, msg *mail.Msg) error
}

func NewSMTP(addr, user, pass, from string, timeout time.Duration) (*SMTP, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("smtp addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("smtp port %q: %w", portStr, err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	m := &SMTP{host: host, port: port, user: user, pass: pass, from: from, timeout: timeout}
	m.send = m.dialAndSend
	return m, nil
}

// dial bounds every read and write on the connection by the earlier of the
// client timeout and the caller's deadline.
func (m *SMTP) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(m.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (m *SMTP) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(m.port),
		mail.WithTimeout(m.timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithDialContextFunc(m.dial),
	}
	if m.user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.user),
			mail.WithPassword(m.pass),
		)
	}
	c, err := mail.NewClient(m.host, opts...)
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, msg)
}

func (m *SMTP) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return &domain.ValidationError{Field: "to", Message: "header injection"}
	}
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return &domain.ValidationError{Field: "to", Message: "must be a valid address"}
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, body)

	start := time.Now()
	if err := m.send(ctx, msg); err != nil {
		log.Error().Err(err).Str("to", to).Str("subject", subject).Msg("smtp send failed")
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Info().Str("to", to).Str("subject", subject).Dur("took", time.Since(start)).Msg("mail sent")
	return nil
}

var tokenParam = regexp.MustCompile(`(token=)[^\s&]+`)

// Log writes mails to the structured log instead of sending them. Link tokens
// are masked unless Reveal is set.
type Log struct {
	Reveal bool
}

func (l Log) Send(_ context.Context, to, subject, body string) error {
	if !l.Reveal {
		body = tokenParam.ReplaceAllString(body, "${1}[redacted]")
	}
	log.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("mail (not sent)")
	return nil
}

// FromConfig picks SMTP when SMTP_ADDR is set. Without it, dev gets the log
// mailer with working links; any other env gets redacted links and a warning.
func FromConfig(cfg shared.Config) (domain.Mailer, error) {
	if cfg.SMTPAddr != "" {
		m, err := NewSMTP(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom, cfg.SMTPTimeout)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	if cfg.AppEnv == "dev" || cfg.AppEnv == "development" {
		return Log{Reveal: true}, nil
	}
	log.Warn().Str("env", cfg.AppEnv).Msg("SMTP_ADDR is empty; account and booking mails are only logged, with links redacted")
	return Log{}, nil
}
