package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/emx-mail/mail2news/pkgs/config"
)

const (
	inboxFolder     = "INBOX"
	processedFolder = "Processed"
	invalidFolder   = "Invalid"
)

// imapSession holds one IMAP connection with INBOX selected read-write and
// the processed/invalid folders resolved under the store's root folder.
type imapSession struct {
	client *imapclient.Client
	logger *log.Logger

	processed string
	invalid   string
}

func openIMAP(ctx context.Context, settings config.MailboxSettings, logger *log.Logger) (*imapSession, error) {
	addr := net.JoinHostPort(settings.Host, strconv.Itoa(mailboxPort(settings)))

	dialer := &net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, connectionErrorf("failed to connect to %s server %s: %w", effectiveProtocol(settings), addr, err)
	}
	if settings.Secure {
		conn = tls.Client(conn, &tls.Config{ServerName: settings.Host})
	}

	client := imapclient.New(conn, &imapclient.Options{})
	if err := client.Login(settings.Username, settings.Password).Wait(); err != nil {
		client.Close()
		return nil, connectionErrorf("authentication failed: %w", err)
	}

	s := &imapSession{client: client, logger: logger}

	// Open READ_WRITE: handled messages are relocated out of the inbox.
	if _, err := client.Select(inboxFolder, nil).Wait(); err != nil {
		client.Close()
		return nil, connectionErrorf("could not open %s folder: %w", inboxFolder, err)
	}

	prefix := s.resolveRootPrefix()
	s.processed = prefix + processedFolder
	s.invalid = prefix + invalidFolder

	for _, name := range []string{s.processed, s.invalid} {
		if err := s.ensureFolder(name); err != nil {
			client.Close()
			return nil, err
		}
	}

	return s, nil
}

// resolveRootPrefix determines where the processed/invalid folders live.
// When the store reports no named personal namespace, the folders are
// created under INBOX itself.
func (s *imapSession) resolveRootPrefix() string {
	if data, err := s.client.Namespace().Wait(); err == nil {
		for _, ns := range data.Personal {
			if ns.Prefix != "" {
				return ns.Prefix
			}
		}
	}

	s.logger.Warn("mail store has no named root folder, using INBOX as root")
	delim := s.inboxDelim()
	if delim == 0 {
		return ""
	}
	return inboxFolder + string(delim)
}

func (s *imapSession) inboxDelim() rune {
	mailboxes, err := s.client.List("", inboxFolder, nil).Collect()
	if err != nil {
		return 0
	}
	for _, mb := range mailboxes {
		if mb.Delim != 0 {
			return mb.Delim
		}
	}
	return 0
}

// ensureFolder creates a folder unless it already exists.
func (s *imapSession) ensureFolder(name string) error {
	mailboxes, err := s.client.List("", name, nil).Collect()
	if err == nil && len(mailboxes) > 0 {
		return nil
	}
	if err := s.client.Create(name, nil).Wait(); err != nil {
		return connectionErrorf("could not create %q folder: %w", name, err)
	}
	return nil
}

// Messages fetches every message in INBOX. By construction only unseen
// ones should be present, since handled messages were relocated on a
// previous run; messages that do carry \Seen are reported as such for the
// pipeline's anomaly handling.
func (s *imapSession) Messages(ctx context.Context) ([]*RawMessage, error) {
	selectData, err := s.client.Select(inboxFolder, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("could not select %s folder: %w", inboxFolder, err)
	}
	if selectData.NumMessages == 0 {
		return nil, nil
	}

	seqSet := imap.SeqSet{}
	seqSet.AddRange(1, selectData.NumMessages)

	// Peek so that fetching does not flag messages as seen.
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	msgs, err := s.client.Fetch(seqSet, fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	messages := make([]*RawMessage, 0, len(msgs))
	for _, buf := range msgs {
		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			s.logger.Warn("message without body section, skipping", "seq", buf.SeqNum)
			continue
		}
		m, err := parseRawMessage(raw)
		if err != nil {
			s.logger.Error("unparseable message left in inbox", "seq", buf.SeqNum, "error", err)
			continue
		}
		m.UID = uint32(buf.UID)
		for _, f := range buf.Flags {
			if f == imap.FlagSeen {
				m.Seen = true
			}
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// Transition copies the message to the processed or invalid folder and
// flags the inbox copy deleted. If the copy fails the message is flagged
// seen instead, so it is never considered again; that fallback does not
// surface an error to the caller.
func (s *imapSession) Transition(ctx context.Context, m *RawMessage, outcome Outcome) error {
	dest := s.processed
	if !outcome.Published {
		dest = s.invalid
	}

	uidSet := imap.UIDSetNum(imap.UID(m.UID))
	if err := s.moveMessage(uidSet, dest); err != nil {
		s.logger.Error("could not move message, flagging it seen instead",
			"uid", m.UID, "folder", dest, "error", err)
		if _, err := s.client.Store(uidSet, &imap.StoreFlags{
			Op:    imap.StoreFlagsAdd,
			Flags: []imap.Flag{imap.FlagSeen},
		}, nil).Collect(); err != nil {
			s.logger.Error("could not flag message seen", "uid", m.UID, "error", err)
		}
	}
	return nil
}

func (s *imapSession) moveMessage(uidSet imap.UIDSet, dest string) error {
	if _, err := s.client.Copy(uidSet, dest).Wait(); err != nil {
		return fmt.Errorf("copy to %q failed: %w", dest, err)
	}
	// The deleted flag takes effect on expunge at session close.
	if _, err := s.client.Store(uidSet, &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagDeleted},
	}, nil).Collect(); err != nil {
		return fmt.Errorf("flagging deleted failed: %w", err)
	}
	return nil
}

// Close expunges the flagged messages and releases the connection.
func (s *imapSession) Close() error {
	if s.client == nil {
		return nil
	}
	client := s.client
	s.client = nil
	defer client.Close()

	if _, err := client.Expunge().Collect(); err != nil {
		return fmt.Errorf("expunge failed: %w", err)
	}
	if err := client.Logout().Wait(); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}
