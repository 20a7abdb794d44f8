package email

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
)

// Message is one outbound email. Text is optional; when present the message is
// sent as multipart/alternative so older clients render something readable.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// Transport is a single SMTP connection configuration. The retrying dispatcher
// builds a fresh one per attempt.
type Transport interface {
	Send(msg *Message) error
	Verify() error
}

type smtpTransport struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
}

func newSMTPTransport(host string, port int, username, password string, useTLS bool) Transport {
	return &smtpTransport{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
	}
}

func (t *smtpTransport) Send(msg *Message) error {
	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	payload := buildPayload(msg)

	var auth smtp.Auth
	if t.username != "" && t.password != "" {
		auth = smtp.PlainAuth("", t.username, t.password, t.host)
	}

	if t.useTLS {
		return t.sendWithTLS(addr, auth, msg.From, []string{msg.To}, payload)
	}
	return smtp.SendMail(addr, auth, msg.From, []string{msg.To}, payload)
}

func (t *smtpTransport) sendWithTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{
		ServerName: t.host,
	}
	if err = client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err = client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range to {
		if err = client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

// Verify checks the server and credentials without sending mail.
func (t *smtpTransport) Verify() error {
	addr := fmt.Sprintf("%s:%d", t.host, t.port)

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if t.useTLS {
		tlsConfig := &tls.Config{
			ServerName: t.host,
		}
		if err = client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if t.username != "" && t.password != "" {
		auth := smtp.PlainAuth("", t.username, t.password, t.host)
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	return client.Quit()
}

func buildPayload(msg *Message) []byte {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	builder.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	builder.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	builder.WriteString("MIME-Version: 1.0\r\n")

	if msg.Text == "" {
		builder.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
		builder.WriteString("\r\n")
		builder.WriteString(msg.HTML)
		return []byte(builder.String())
	}

	const boundary = "policypal-alt-boundary"
	builder.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", boundary))
	builder.WriteString("\r\n")

	builder.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	builder.WriteString(msg.Text)
	builder.WriteString("\r\n")

	builder.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	builder.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	builder.WriteString(msg.HTML)
	builder.WriteString("\r\n")

	builder.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return []byte(builder.String())
}
