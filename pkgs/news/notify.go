package news

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/emx-mail/mail2news/pkgs/mail"
)

// Relay delivers a plain-text message to a single recipient.
type Relay interface {
	Send(to, subject, body string) error
}

// Notifier sends best-effort failure replies to message senders. Nothing
// it does can fail a run: every problem is logged and swallowed.
type Notifier struct {
	relay  Relay
	logger *log.Logger
}

// NewNotifier creates a notifier. A nil relay disables it; failures are
// then only logged.
func NewNotifier(relay Relay, logger *log.Logger) *Notifier {
	return &Notifier{relay: relay, logger: logger}
}

// NotifyFailure replies to the sender of m with the failure reason.
func (n *Notifier) NotifyFailure(m *mail.RawMessage, reason string) {
	if n.relay == nil {
		n.logger.Info("no outbound relay configured, skipping failure reply", "subject", m.Subject)
		return
	}

	sender := m.SenderEmail()
	if sender == "" {
		n.logger.Error("message has no sender address, cannot send failure reply", "subject", m.Subject)
		return
	}

	subject := fmt.Sprintf("[mail2news] Error while handling message (%s)", m.Subject)
	body := fmt.Sprintf("An error occurred while handling your message:\n\n  %s\n\nPlease contact the administrator to solve the problem.\n", reason)

	if err := n.relay.Send(sender, subject, body); err != nil {
		n.logger.Error("could not deliver failure reply", "to", sender, "error", err)
	}
}
