package services

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"github.com/huangang/capstrack/internal/config"
	"github.com/huangang/capstrack/pkg/logger"
)

// Mailer sends one HTML message to a set of recipients.
type Mailer interface {
	Send(to []string, subject, body string) error
}

type EmailService struct {
	config *config.EmailConfig
}

func NewEmailService(cfg *config.EmailConfig) *EmailService {
	return &EmailService{config: cfg}
}

func (s *EmailService) Enabled() bool {
	return s.config != nil && s.config.Enabled && s.config.Host != ""
}

func (s *EmailService) Send(to []string, subject, body string) error {
	if !s.Enabled() || len(to) == 0 {
		return nil
	}

	from := s.config.From
	if from == "" {
		from = s.config.Username
	}

	message := buildMessage(from, to, subject, body)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	var err error
	if s.config.UseTLS {
		err = s.sendTLS(addr, auth, from, to, message)
	} else {
		err = smtp.SendMail(addr, auth, from, to, []byte(message))
	}

	if err != nil {
		logger.Warnf("[Email] Failed to send %q: %v", subject, err)
		return err
	}

	logger.Infof("[Email] Sent %q to %d recipients", subject, len(to))
	return nil
}

func buildMessage(from string, to []string, subject, body string) string {
	headers := map[string]string{
		"From":         from,
		"To":           strings.Join(to, ","),
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=UTF-8",
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var message strings.Builder
	for _, k := range keys {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", k, headers[k]))
	}
	message.WriteString("\r\n")
	message.WriteString(body)
	return message.String()
}

func (s *EmailService) sendTLS(addr string, auth smtp.Auth, from string, to []string, message string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.config.Host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(message)); err != nil {
		return err
	}
	return w.Close()
}
