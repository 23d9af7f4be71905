package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	gosmtp "net/smtp"
	"strings"
	"time"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/config"
)

// MailService is the contract other plugins use to send email.
type MailService interface {
	SendMail(ctx context.Context, m Mail) error
	// IsConfigured reports whether a real SMTP host is set. When false,
	// SendMail logs the message instead.
	IsConfigured() bool
}

// SMTPService adds the admin diagnostics.
type SMTPService interface {
	MailService
	Settings() Settings
	TestConnection(ctx context.Context) error
}

type smtpService struct {
	cfg config.SMTPConfig
}

// NewSMTPService creates the service from configuration.
func NewSMTPService(cfg config.SMTPConfig) SMTPService {
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Encryption == "" {
		cfg.Encryption = EncryptionStartTLS
	}
	return &smtpService{cfg: cfg}
}

func (s *smtpService) IsConfigured() bool { return s.cfg.Host != "" }

func (s *smtpService) Settings() Settings {
	return Settings{
		Host:        s.cfg.Host,
		Port:        s.cfg.Port,
		Username:    s.cfg.Username,
		HasPassword: s.cfg.Password != "",
		FromAddress: s.cfg.FromAddress,
		FromName:    s.cfg.FromName,
		Encryption:  s.cfg.Encryption,
		Enabled:     s.IsConfigured(),
	}
}

// SendMail delivers m synchronously. Errors are returned as internal
// errors; there is no retry.
func (s *smtpService) SendMail(ctx context.Context, m Mail) error {
	to := cleanRecipients(m.To)
	if len(to) == 0 {
		return apperror.NewInternal(errors.New("mail has no recipients"))
	}

	if !s.IsConfigured() {
		slog.Info("mail (log transport)",
			slog.String("to", strings.Join(to, ", ")),
			slog.String("subject", m.Subject),
		)
		slog.Debug("mail body", slog.String("body", m.Body))
		return nil
	}

	from := mail.Address{Name: s.cfg.FromName, Address: s.cfg.FromAddress}
	msg := buildMessage(from, to, m.Subject, m.Body, time.Now().UTC())
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))

	var err error
	switch s.cfg.Encryption {
	case EncryptionSSL:
		err = s.sendSSL(ctx, addr, from.Address, to, msg)
	case EncryptionNone:
		err = s.sendPlain(ctx, addr, from.Address, to, msg)
	default:
		err = s.sendStartTLS(ctx, addr, from.Address, to, msg)
	}
	if err != nil {
		slog.Error("mail delivery failed",
			slog.String("subject", m.Subject),
			slog.Any("error", err),
		)
		return apperror.NewInternal(err)
	}
	return nil
}

func cleanRecipients(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, addr := range in {
		addr = strings.TrimSpace(addr)
		key := strings.ToLower(addr)
		if addr == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, addr)
	}
	return out
}

// buildMessage renders an RFC 5322 plain-text message.
func buildMessage(from mail.Address, to []string, subject, body string, date time.Time) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from.String())
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", strings.NewReplacer("\r", "", "\n", "").Replace(subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", date.Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return msg.String()
}

func (s *smtpService) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn, nil
}

func (s *smtpService) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
}

func (s *smtpService) auth(client *gosmtp.Client) error {
	if s.cfg.Username == "" {
		return nil
	}
	if err := client.Auth(gosmtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	return nil
}

// sendStartTLS upgrades a plain connection (port 587).
func (s *smtpService) sendStartTLS(ctx context.Context, addr, from string, to []string, msg string) error {
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(s.tlsConfig()); err != nil {
		return fmt.Errorf("starting TLS: %w", err)
	}
	if err := s.auth(client); err != nil {
		return err
	}
	return sendMessage(client, from, to, msg)
}

// sendSSL uses implicit TLS (port 465).
func (s *smtpService) sendSSL(ctx context.Context, addr, from string, to []string, msg string) error {
	raw, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	conn := tls.Client(raw, s.tlsConfig())
	defer conn.Close()
	if err := conn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("TLS handshake with %s: %w", addr, err)
	}

	client, err := gosmtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if err := s.auth(client); err != nil {
		return err
	}
	return sendMessage(client, from, to, msg)
}

// sendPlain sends without encryption; only for local relays.
func (s *smtpService) sendPlain(ctx context.Context, addr, from string, to []string, msg string) error {
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if err := s.auth(client); err != nil {
		return err
	}
	return sendMessage(client, from, to, msg)
}

func sendMessage(client *gosmtp.Client, from string, to []string, msg string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", recipient, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

// TestConnection performs the handshake and authentication without
// sending anything.
func (s *smtpService) TestConnection(ctx context.Context) error {
	if !s.IsConfigured() {
		return apperror.NewBadRequest("SMTP host is not configured")
	}
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))

	var conn net.Conn
	raw, err := s.dial(ctx, addr)
	if err != nil {
		return apperror.NewBadRequest(fmt.Sprintf("could not connect: %v", err))
	}
	conn = raw
	if s.cfg.Encryption == EncryptionSSL {
		tc := tls.Client(raw, s.tlsConfig())
		if err := tc.HandshakeContext(ctx); err != nil {
			raw.Close()
			return apperror.NewBadRequest(fmt.Sprintf("TLS handshake failed: %v", err))
		}
		conn = tc
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return apperror.NewBadRequest(fmt.Sprintf("SMTP handshake failed: %v", err))
	}
	defer client.Close()

	if s.cfg.Encryption == EncryptionStartTLS {
		if err := client.StartTLS(s.tlsConfig()); err != nil {
			return apperror.NewBadRequest(fmt.Sprintf("STARTTLS failed: %v", err))
		}
	}
	if err := s.auth(client); err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	return client.Quit()
}
