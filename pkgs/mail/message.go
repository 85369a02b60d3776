// Package mail implements the mailbox side of the ingestion pipeline:
// protocol sessions (IMAP, POP3), the raw message model, MIME content
// extraction and the outbound relay client used for failure replies.
package mail

import (
	"bytes"
	"fmt"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
)

// Address represents an email address.
type Address struct {
	Name  string
	Email string
}

// RawMessage is a handle into the mail store for one message. It is owned
// by the session that produced it and is only ever referenced, not copied.
type RawMessage struct {
	// UID is the IMAP UID or the POP3 message number.
	UID uint32

	Subject string
	From    []Address
	To      []Address
	Cc      []Address

	// ToHeader holds the raw values of the To header fields, kept for
	// routing-failure diagnostics.
	ToHeader []string

	// Seen is set when the message already carried the \Seen flag at
	// enumeration time (IMAP only).
	Seen bool

	// Raw is the full RFC 5322 message.
	Raw []byte
}

// SenderEmail returns the plain email address of the first sender, or ""
// when the message has no usable From address.
func (m *RawMessage) SenderEmail() string {
	if len(m.From) == 0 {
		return ""
	}
	return m.From[0].Email
}

// Recipients returns the To addresses followed by the Cc addresses.
// Missing headers contribute nothing.
func (m *RawMessage) Recipients() []Address {
	out := make([]Address, 0, len(m.To)+len(m.Cc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return out
}

// Outcome is the terminal disposition of one message.
type Outcome struct {
	Published bool
	Reason    string
}

// Published marks a message as successfully turned into a post.
var Published = Outcome{Published: true}

// Failed marks a message as failed with the given reason.
func Failed(reason string) Outcome {
	return Outcome{Reason: reason}
}

// parseRawMessage parses the header of a raw RFC 5322 message into a
// RawMessage. Unknown charsets in the header are tolerated.
func parseRawMessage(raw []byte) (*RawMessage, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	m := &RawMessage{Raw: raw}

	h := gomail.Header{Header: entity.Header}
	m.Subject, _ = h.Subject()
	if from, err := h.AddressList("From"); err == nil {
		m.From = convertMailAddresses(from)
	}
	if to, err := h.AddressList("To"); err == nil {
		m.To = convertMailAddresses(to)
	}
	if cc, err := h.AddressList("Cc"); err == nil {
		m.Cc = convertMailAddresses(cc)
	}

	fields := entity.Header.FieldsByKey("To")
	for fields.Next() {
		m.ToHeader = append(m.ToHeader, fields.Value())
	}

	return m, nil
}

func convertMailAddresses(addrs []*gomail.Address) []Address {
	out := make([]Address, len(addrs))
	for i, a := range addrs {
		out[i] = Address{Name: a.Name, Email: a.Address}
	}
	return out
}
