package smtp

import (
	"bufio"
	"context"
	"net"
	"net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asascience/matos/internal/config"
)

func TestBuildMessage(t *testing.T) {
	date := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	msg := buildMessage(mail.Address{Name: "MATOS", Address: "no-reply@matos.local"},
		[]string{"a@example.org", "b@example.org"}, "Tag report\r\nBcc: evil@example.org", "line one\nline two", date)

	for _, want := range []string{
		"From: \"MATOS\" <no-reply@matos.local>\r\n",
		"To: a@example.org, b@example.org\r\n",
		"Subject: Tag reportBcc: evil@example.org\r\n",
		"Date: Fri, 01 Mar 2024 09:30:00 +0000\r\n",
		"\r\n\r\nline one\r\nline two",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestCleanRecipients(t *testing.T) {
	got := cleanRecipients([]string{" a@example.org", "", "A@example.org", "b@example.org"})
	if len(got) != 2 || got[0] != "a@example.org" || got[1] != "b@example.org" {
		t.Errorf("cleanRecipients = %v", got)
	}
}

func TestSendMail_LogTransport(t *testing.T) {
	svc := NewSMTPService(config.SMTPConfig{})
	if svc.IsConfigured() {
		t.Fatal("empty host should not be configured")
	}
	if err := svc.SendMail(context.Background(), Mail{To: []string{"a@example.org"}, Subject: "hi", Body: "x"}); err != nil {
		t.Fatalf("log transport should not fail: %v", err)
	}
}

func TestSendMail_NoRecipients(t *testing.T) {
	svc := NewSMTPService(config.SMTPConfig{})
	if err := svc.SendMail(context.Background(), Mail{Subject: "hi"}); err == nil {
		t.Fatal("expected error for a message without recipients")
	}
}

func TestSettings_RedactsPassword(t *testing.T) {
	s := NewSMTPService(config.SMTPConfig{Host: "mail.example.org", Password: "secret"}).Settings()
	if !s.HasPassword || !s.Enabled {
		t.Errorf("unexpected settings %+v", s)
	}
	if s.Port != 587 || s.Encryption != EncryptionStartTLS {
		t.Errorf("defaults not applied: %+v", s)
	}
}

// fakeSMTP accepts one session and records the commands and data.
type fakeSMTP struct {
	ln       net.Listener
	mu       sync.Mutex
	commands []string
	data     string
	done     chan struct{}
}

func newFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeSMTP{ln: ln, done: make(chan struct{})}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeSMTP) port() int { return f.ln.Addr().(*net.TCPAddr).Port }

func (f *fakeSMTP) serve() {
	defer close(f.done)
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		f.mu.Unlock()

		switch verb := strings.ToUpper(strings.SplitN(cmd, " ", 2)[0]); verb {
		case "EHLO", "HELO":
			reply("250 localhost")
		case "MAIL", "RCPT":
			reply("250 OK")
		case "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			f.mu.Lock()
			f.data = body.String()
			f.mu.Unlock()
			reply("250 queued")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func TestSendMail_PlainDelivery(t *testing.T) {
	srv := newFakeSMTP(t)
	svc := NewSMTPService(config.SMTPConfig{
		Host:        "127.0.0.1",
		Port:        srv.port(),
		FromAddress: "no-reply@matos.local",
		FromName:    "MATOS",
		Encryption:  EncryptionNone,
	})

	err := svc.SendMail(context.Background(), Mail{
		To:      []string{"owner@example.org", "admin@example.org"},
		Subject: "Matched tag report",
		Body:    "A report matched your deployment.",
	})
	if err != nil {
		t.Fatalf("SendMail: %v", err)
	}

	select {
	case <-srv.done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not finish")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	joined := strings.Join(srv.commands, "\n")
	for _, want := range []string{
		"MAIL FROM:<no-reply@matos.local>",
		"RCPT TO:<owner@example.org>",
		"RCPT TO:<admin@example.org>",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("commands missing %q:\n%s", want, joined)
		}
	}
	if !strings.Contains(srv.data, "Subject: Matched tag report") {
		t.Errorf("data missing subject:\n%s", srv.data)
	}
}

func TestSendMail_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	svc := NewSMTPService(config.SMTPConfig{Host: "127.0.0.1", Port: port, Encryption: EncryptionNone})
	if err := svc.SendMail(context.Background(), Mail{To: []string{"a@example.org"}}); err == nil {
		t.Fatal("expected connection error")
	}
}
