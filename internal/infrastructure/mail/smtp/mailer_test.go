package smtp

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
)

// fakeSMTPServer accepts one session per connection and records DATA bodies.
type fakeSMTPServer struct {
	listener net.Listener
	rcptCode int

	mu       sync.Mutex
	messages []string
	rcpts    []string
}

func startFakeSMTPServer(t *testing.T, rcptCode int) *fakeSMTPServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &fakeSMTPServer{listener: listener, rcptCode: rcptCode}
	go srv.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return srv
}

func (s *fakeSMTPServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTPServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.session(conn)
	}
}

func (s *fakeSMTPServer) session(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP ready")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			_ = tp.PrintfLine("250-localhost")
			_ = tp.PrintfLine("250 8BITMIME")
		case "MAIL":
			_ = tp.PrintfLine("250 OK")
		case "RCPT":
			if s.rcptCode != 250 {
				_ = tp.PrintfLine("%d mailbox unavailable", s.rcptCode)
				continue
			}
			s.mu.Lock()
			s.rcpts = append(s.rcpts, line)
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			body, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, strings.Join(body, "\n"))
			s.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
	}
}

func (s *fakeSMTPServer) snapshot() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...), append([]string(nil), s.rcpts...)
}

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
	})
}

func TestSendDeliversHTMLNewsletter(t *testing.T) {
	srv := startFakeSMTPServer(t, 250)
	mailer, err := New(Config{
		Host: "127.0.0.1",
		Port: srv.port(),
		From: "assistant@example.org",
		To:   []string{"me@example.org, team@example.org"},
	}, testExecutor())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = mailer.Send(context.Background(), domain.MailMessage{
		Subject:  "AI Research Digest - January 10, 2026",
		HTMLBody: "<html><body><h1>Digest</h1></body></html>",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	messages, rcpts := srv.snapshot()
	if len(messages) != 1 || len(rcpts) != 2 {
		t.Fatalf("expected one message for two recipients, got %d messages %v", len(messages), rcpts)
	}
	msg := messages[0]
	for _, want := range []string{
		"Subject: AI Research Digest - January 10, 2026",
		"Content-Type: text/html; charset=UTF-8",
		"To: me@example.org, team@example.org",
		"<h1>Digest</h1>",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in message:\n%s", want, msg)
		}
	}
}

func TestSendRequiresStartTLSWhenEnabled(t *testing.T) {
	srv := startFakeSMTPServer(t, 250)
	mailer, err := New(Config{Host: "127.0.0.1", Port: srv.port(), From: "a@example.org", To: []string{"b@example.org"}, UseTLS: true}, testExecutor())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = mailer.Send(context.Background(), domain.MailMessage{Subject: "s", TextBody: "body"})
	if err == nil || !strings.Contains(err.Error(), "STARTTLS") {
		t.Fatalf("expected STARTTLS error, got %v", err)
	}
	if messages, _ := srv.snapshot(); len(messages) != 0 {
		t.Fatalf("nothing must be sent over plaintext")
	}
}

func TestSendDoesNotRetryPermanentRejection(t *testing.T) {
	srv := startFakeSMTPServer(t, 550)
	mailer, err := New(Config{Host: "127.0.0.1", Port: srv.port(), From: "a@example.org", To: []string{"b@example.org"}}, testExecutor())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = mailer.Send(context.Background(), domain.MailMessage{Subject: "s", TextBody: "body"})
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestBuildMessageFallsBackToPlainText(t *testing.T) {
	mailer, err := New(Config{Host: "smtp.example.org", From: "a@example.org", To: []string{"b@example.org"}}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	mailer.now = func() time.Time { return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC) }

	raw, err := mailer.buildMessage(domain.MailMessage{Subject: "Ünïcode digest", TextBody: "line one\nline two"})
	if err != nil {
		t.Fatalf("buildMessage() error = %v", err)
	}
	msg := string(raw)
	if !strings.Contains(msg, "Content-Type: text/plain; charset=UTF-8\r\n") {
		t.Fatalf("expected plain text content type:\n%s", msg)
	}
	if !strings.Contains(msg, "Subject: =?utf-8?q?") {
		t.Fatalf("expected encoded subject:\n%s", msg)
	}
	if !strings.Contains(msg, "Date: Sat, 10 Jan 2026 12:00:00 +0000") {
		t.Fatalf("expected fixed date header:\n%s", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\nline one\r\nline two\r\n") {
		t.Fatalf("expected CRLF body:\n%q", msg)
	}

	if _, err := mailer.buildMessage(domain.MailMessage{Subject: "s"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty body, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Host: "h", From: "f"}, nil); err == nil {
		t.Fatalf("expected error without recipients")
	}
	m, err := New(Config{Host: "h", From: "f", To: []string{"x@y"}}, nil)
	if err != nil || m.cfg.Port != 587 {
		t.Fatalf("expected default port 587, got %+v, %v", m, err)
	}
}

func TestClassifySMTPError(t *testing.T) {
	if !classifySMTPError(&textproto.Error{Code: 451, Msg: "try later"}).Retryable {
		t.Fatalf("expected 4xx to be retryable")
	}
	if classifySMTPError(&textproto.Error{Code: 550, Msg: "no"}).Retryable {
		t.Fatalf("expected 5xx to be permanent")
	}
	if classifySMTPError(context.Canceled).RecordFailure {
		t.Fatalf("cancellation must not trip the breaker")
	}
}
