package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"volaiops/internal/config"
)

// MailerConfig holds SMTP settings
type MailerConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	From        string
	To          []string
	ImplicitTLS bool
	SkipVerify  bool
	// CABundle is a PEM file of extra trusted roots
	CABundle string
	Timeout  time.Duration
	// AllowPlaintext permits relays that do not offer STARTTLS, such as a
	// local mail catcher
	AllowPlaintext bool
}

// MailerConfigFrom maps the config section onto MailerConfig
func MailerConfigFrom(c config.SMTPConfig) MailerConfig {
	return MailerConfig{
		Host:        c.Host,
		Port:        c.Port,
		User:        c.User,
		Password:    c.Password,
		From:        c.From,
		To:          ParseRecipients(c.To),
		ImplicitTLS: c.SSL,
		SkipVerify:  c.SkipVerify,
		CABundle:    c.CABundle,
		Timeout:     time.Duration(c.Timeout) * time.Second,
	}
}

// Mailer sends plain-text UTF-8 mail
type Mailer struct {
	cfg MailerConfig
	now func() time.Time
}

// NewMailer creates a mailer
func NewMailer(cfg MailerConfig) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &Mailer{cfg: cfg, now: time.Now}
}

// Name implements Notifier
func (m *Mailer) Name() string { return "email" }

// Configured reports whether host, credentials and recipients are present
func (m *Mailer) Configured() bool {
	return m.cfg.Host != "" && m.cfg.User != "" && m.cfg.Password != "" && len(m.cfg.To) > 0
}

// Notify implements Notifier
func (m *Mailer) Notify(ctx context.Context, subject, body string) error {
	if !m.Configured() {
		return fmt.Errorf("email: %w", ErrNotConfigured)
	}
	msg := BuildMessage(m.cfg.From, m.cfg.To, subject, body, m.now())
	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("email via %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}
	return nil
}

func (m *Mailer) send(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName:         m.cfg.Host,
		InsecureSkipVerify: m.cfg.SkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if m.cfg.CABundle != "" && !m.cfg.SkipVerify {
		pool, err := loadCABundle(m.cfg.CABundle)
		if err != nil {
			return err
		}
		tlsConfig.RootCAs = pool
	}

	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	var conn net.Conn
	var err error
	if m.cfg.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	_ = conn.SetDeadline(time.Now().Add(m.cfg.Timeout))

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("greeting: %w", err)
	}
	defer c.Close()

	if !m.cfg.ImplicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		} else if !m.cfg.AllowPlaintext {
			return fmt.Errorf("server does not offer STARTTLS")
		}
	}

	if err := c.Auth(smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range m.cfg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish body: %w", err)
	}
	return c.Quit()
}

func loadCABundle(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA bundle %s holds no certificates", path)
	}
	return pool, nil
}

// BuildMessage renders an RFC 5322 message with a base64 UTF-8 body
func BuildMessage(from string, to []string, subject, body string, date time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(body))
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	b.WriteString("\r\n")
	return b.Bytes()
}
