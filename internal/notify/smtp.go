package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPProvider sends mail through an SMTP relay with STARTTLS and PLAIN auth.
type SMTPProvider struct {
	addr     string
	host     string
	username string
	password string
	fromAddr string
	fromName string
	log      *slog.Logger
	policy   deliveryPolicy
	sendMail sendMailFunc
	now      func() time.Time
}

// SMTPConfig holds the relay settings of an SMTPProvider.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	FromAddr string
	FromName string
}

// NewSMTPProvider creates an SMTP provider.
func NewSMTPProvider(cfg SMTPConfig, log *slog.Logger) *SMTPProvider {
	username := cfg.Username
	if username == "" {
		username = cfg.FromAddr
	}
	return &SMTPProvider{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		username: username,
		password: cfg.Password,
		fromAddr: cfg.FromAddr,
		fromName: cfg.FromName,
		log:      log,
		policy:   defaultPolicy(),
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Send delivers one HTML message.
func (p *SMTPProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	to = sanitizeHeader(to)
	msg := p.message(to, sanitizeHeader(subject), htmlBody)

	var auth smtp.Auth
	if p.password != "" {
		auth = smtp.PlainAuth("", p.username, p.password, p.host)
	}

	return p.policy.do(ctx, p.log, "smtp send", func() error {
		start := time.Now()
		if err := p.sendMail(p.addr, auth, p.fromAddr, []string{to}, msg); err != nil {
			p.log.Warn("smtp send failed", "to", to, "duration_ms", time.Since(start).Milliseconds(), "error", err)
			err = fmt.Errorf("smtp send: %w", err)
			if permanentReply(err) {
				return retry.Unrecoverable(err)
			}
			return err
		}
		p.log.Info("email sent", "to", to, "duration_ms", time.Since(start).Milliseconds())
		return nil
	})
}

// permanentReply reports whether the server answered with a 5xx reply code.
func permanentReply(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}

func (p *SMTPProvider) message(to, subject, htmlBody string) []byte {
	from := p.fromAddr
	if p.fromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", sanitizeHeader(p.fromName)), p.fromAddr)
	}

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + p.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}
