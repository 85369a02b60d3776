package mail

import (
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/emx-mail/mail2news/pkgs/config"
)

// RelayClient sends plain-text mail through the configured outbound
// relay. Each Send opens its own connection; failure replies are rare
// enough that keeping a connection alive is not worth it.
type RelayClient struct {
	settings config.RelaySettings
}

// NewRelayClient creates a relay client from the relay settings.
func NewRelayClient(settings config.RelaySettings) *RelayClient {
	return &RelayClient{settings: settings}
}

// Send delivers a plain-text message from the relay's configured sender
// to a single recipient.
func (c *RelayClient) Send(to, subject, body string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	msg, err := c.buildMessage(to, subject, body)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	if err := client.SendMail(c.settings.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (c *RelayClient) connect() (*smtp.Client, error) {
	var dialFn func(addr string, tlsConfig *tls.Config) (*smtp.Client, error)

	tlsCfg := &tls.Config{ServerName: c.settings.Host}

	if c.settings.SSL {
		dialFn = smtp.DialTLS
	} else if c.settings.StartTLS {
		dialFn = smtp.DialStartTLS
	} else {
		dialFn = func(addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
			return smtp.Dial(addr)
		}
	}

	port := c.settings.Port
	if port == 0 {
		port = 25
	}
	addr := fmt.Sprintf("%s:%d", c.settings.Host, port)
	client, err := dialFn(addr, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	if c.settings.Password != "" {
		auth := sasl.NewPlainClient("", c.settings.Username, c.settings.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	return client, nil
}

func (c *RelayClient) buildMessage(to, subject, body string) (*bytes.Buffer, error) {
	var buf bytes.Buffer

	var header gomail.Header
	header.SetDate(time.Now())
	header.SetSubject(subject)
	header.SetAddressList("From", []*gomail.Address{{Address: c.settings.From}})
	header.SetAddressList("To", []*gomail.Address{{Address: to}})
	header.Set("Message-ID", generateMessageID(c.settings.From))

	iw, err := gomail.CreateInlineWriter(&buf, header)
	if err != nil {
		return nil, err
	}

	var h gomail.InlineHeader
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return nil, err
	}
	w.Close()

	if err := iw.Close(); err != nil {
		return nil, err
	}

	return &buf, nil
}

// generateMessageID produces an RFC 5322 compliant Message-ID using the
// domain extracted from the sender's email address.
// Format: <timestamp.random@domain>
func generateMessageID(fromEmail string) string {
	domain := "localhost"
	if idx := strings.Index(fromEmail, "@"); idx >= 0 {
		domain = fromEmail[idx+1:]
	}

	b := make([]byte, 8)
	_, _ = rand.Read(b)
	randomPart := hex.EncodeToString(b)

	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), randomPart, domain)
}
