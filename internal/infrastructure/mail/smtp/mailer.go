package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	netsmtp "net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
)

const sendOperation = "smtp.send"

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	UseTLS   bool
}

type Mailer struct {
	cfg      Config
	executor *resilience.Executor
	dialer   net.Dialer
	now      func() time.Time
}

func New(cfg Config, executor *resilience.Executor) (*Mailer, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.From = strings.TrimSpace(cfg.From)
	recipients := make([]string, 0, len(cfg.To))
	for _, to := range cfg.To {
		for _, addr := range strings.Split(to, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				recipients = append(recipients, addr)
			}
		}
	}
	cfg.To = recipients
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("smtp host, sender and recipient are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Mailer{
		cfg:      cfg,
		executor: executor,
		dialer:   net.Dialer{Timeout: 15 * time.Second},
		now:      time.Now,
	}, nil
}

func (m *Mailer) Send(ctx context.Context, msg domain.MailMessage) error {
	payload, err := m.buildMessage(msg)
	if err != nil {
		return err
	}
	err = m.executor.Execute(ctx, sendOperation, func(callCtx context.Context) error {
		return m.deliver(callCtx, payload)
	}, classifySMTPError)
	if err != nil {
		return resilience.WrapTemporary("smtp send", err, classifySMTPError)
	}
	slog.Info("mail_sent", "recipients", len(m.cfg.To), "subject", msg.Subject, "bytes", len(payload))
	return nil
}

func (m *Mailer) deliver(ctx context.Context, payload []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	conn, err := m.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := netsmtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if m.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return errStartTLSUnsupported
		}
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		auth := netsmtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range m.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp finish body: %w", err)
	}
	return client.Quit()
}

func (m *Mailer) buildMessage(msg domain.MailMessage) ([]byte, error) {
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "build mail", fmt.Errorf("subject is required"))
	}
	body, contentType := msg.HTMLBody, "text/html"
	if strings.TrimSpace(body) == "" {
		body, contentType = msg.TextBody, "text/plain"
	}
	if strings.TrimSpace(body) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "build mail", fmt.Errorf("body is required"))
	}

	var b bytes.Buffer
	writeHeader := func(key, value string) {
		fmt.Fprintf(&b, "%s: %s\r\n", key, value)
	}
	writeHeader("From", m.cfg.From)
	writeHeader("To", strings.Join(m.cfg.To, ", "))
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", subject))
	writeHeader("Date", m.now().UTC().Format(time.RFC1123Z))
	writeHeader("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), m.cfg.Host))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", contentType+"; charset=UTF-8")
	writeHeader("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(normalizeNewlines(body))
	return b.Bytes(), nil
}

func normalizeNewlines(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\n", "\r\n")
	if !strings.HasSuffix(body, "\r\n") {
		body += "\r\n"
	}
	return body
}

var errStartTLSUnsupported = errors.New("smtp server does not support STARTTLS")

// classifySMTPError retries network failures and 4xx replies; 5xx replies
// are permanent.
func classifySMTPError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
