package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/emx-mail/mail2news/pkgs/config"
)

// connectTimeout applies to the mailbox connection only; subsequent
// commands block until the server answers.
const connectTimeout = 10 * time.Second

// ConnectionError is a run-level failure: the mailbox could not be
// connected, authenticated, or its folders could not be opened.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "mailbox connection failed: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func connectionErrorf(format string, args ...interface{}) error {
	return &ConnectionError{Err: fmt.Errorf(format, args...)}
}

// Session is one open mailbox connection with its folders. A session is
// exclusively owned by a single run and must not be shared.
type Session interface {
	// Messages enumerates all messages currently in the inbox.
	Messages(ctx context.Context) ([]*RawMessage, error)

	// Transition applies the terminal state transition for one message.
	// IMAP relocates the message to the processed or invalid folder;
	// POP3 flags it deleted. Sub-message failures are absorbed; a
	// returned error means the protocol operation itself failed.
	Transition(ctx context.Context, m *RawMessage, outcome Outcome) error

	// Close commits pending deletions and releases the connection.
	// Called exactly once per run, also after run-level errors.
	Close() error
}

// Open connects to the mailbox described by settings and prepares the
// folders required by its protocol. Failures are ConnectionErrors.
func Open(ctx context.Context, settings config.MailboxSettings, logger *log.Logger) (Session, error) {
	switch strings.ToLower(settings.Protocol) {
	case config.ProtocolIMAP:
		return openIMAP(ctx, settings, logger)
	case config.ProtocolPOP3:
		return openPOP3(ctx, settings, logger)
	default:
		return nil, connectionErrorf("unknown protocol: %s", settings.Protocol)
	}
}

// effectiveProtocol is the protocol name including the secure-transport
// suffix, e.g. "imaps" for IMAP over implicit TLS.
func effectiveProtocol(settings config.MailboxSettings) string {
	name := strings.ToLower(settings.Protocol)
	if settings.Secure {
		name += "s"
	}
	return name
}

// mailboxPort resolves port 0 to the default port of the effective
// protocol.
func mailboxPort(settings config.MailboxSettings) int {
	if settings.Port != 0 {
		return settings.Port
	}
	switch effectiveProtocol(settings) {
	case "imap":
		return 143
	case "imaps":
		return 993
	case "pop3":
		return 110
	case "pop3s":
		return 995
	}
	return 0
}
