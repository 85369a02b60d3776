package mail

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/emx-mail/mail2news/pkgs/config"
)

// pop3Session holds one POP3 connection for the duration of a run. POP3
// has no folders: every message present is by definition unprocessed, and
// the only terminal transition is DELE, committed by QUIT on close.
type pop3Session struct {
	conn   *pop3Conn
	logger *log.Logger
}

func openPOP3(ctx context.Context, settings config.MailboxSettings, logger *log.Logger) (*pop3Session, error) {
	addr := net.JoinHostPort(settings.Host, strconv.Itoa(mailboxPort(settings)))

	dialer := &net.Dialer{Timeout: connectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, connectionErrorf("failed to connect to %s server %s: %w", effectiveProtocol(settings), addr, err)
	}
	if settings.Secure {
		netConn = tls.Client(netConn, &tls.Config{ServerName: settings.Host})
	}

	conn := &pop3Conn{
		conn: netConn,
		r:    bufio.NewReader(netConn),
		w:    bufio.NewWriter(netConn),
	}

	// Read the server greeting.
	if _, err := conn.readOne(); err != nil {
		netConn.Close()
		return nil, connectionErrorf("POP3 greeting failed: %w", err)
	}

	if err := conn.auth(settings.Username, settings.Password); err != nil {
		netConn.Close()
		return nil, connectionErrorf("authentication failed: %w", err)
	}

	return &pop3Session{conn: conn, logger: logger}, nil
}

// Messages downloads every message in the mailbox.
func (s *pop3Session) Messages(ctx context.Context) ([]*RawMessage, error) {
	count, _, err := s.conn.stat()
	if err != nil {
		return nil, fmt.Errorf("POP3 STAT failed: %w", err)
	}

	messages := make([]*RawMessage, 0, count)
	for id := 1; id <= count; id++ {
		buf, err := s.conn.retr(id)
		if err != nil {
			s.logger.Error("could not retrieve message, leaving it on the server", "id", id, "error", err)
			continue
		}
		m, err := parseRawMessage(buf.Bytes())
		if err != nil {
			s.logger.Error("unparseable message left on the server", "id", id, "error", err)
			continue
		}
		m.UID = uint32(id)
		messages = append(messages, m)
	}

	return messages, nil
}

// Transition flags the message deleted regardless of outcome; POP3 has no
// move operation. Actual deletion happens when the session closes.
func (s *pop3Session) Transition(ctx context.Context, m *RawMessage, outcome Outcome) error {
	if err := s.conn.dele(int(m.UID)); err != nil {
		return fmt.Errorf("POP3 DELE %d failed: %w", m.UID, err)
	}
	return nil
}

// Close sends QUIT, committing the pending deletions, and releases the
// connection.
func (s *pop3Session) Close() error {
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	return conn.quit()
}

// ---------- low-level POP3 protocol ----------

var (
	pop3LineBreak   = []byte("\r\n")
	pop3RespOK      = []byte("+OK")
	pop3RespOKInfo  = []byte("+OK ")
	pop3RespErr     = []byte("-ERR")
	pop3RespErrInfo = []byte("-ERR ")
)

// pop3Conn is a raw POP3 connection.
type pop3Conn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// send writes a POP3 command line.
func (c *pop3Conn) send(s string) error {
	if _, err := c.w.WriteString(s + "\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

// cmd sends a command and reads the response.
// If isMulti is true, it reads until the "." terminator.
func (c *pop3Conn) cmd(cmd string, isMulti bool, args ...interface{}) (*bytes.Buffer, error) {
	cmdLine := cmd
	if len(args) > 0 {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprintf("%v", a)
		}
		cmdLine = cmd + " " + strings.Join(parts, " ")
	}

	if err := c.send(cmdLine); err != nil {
		return nil, err
	}

	b, err := c.readOne()
	if err != nil {
		return nil, err
	}

	if !isMulti {
		return bytes.NewBuffer(b), nil
	}

	return c.readAll()
}

// readOne reads a single-line response and checks +OK/-ERR.
func (c *pop3Conn) readOne() ([]byte, error) {
	b, _, err := c.r.ReadLine()
	if err != nil {
		return nil, err
	}
	return parsePOP3Resp(b)
}

// readAll reads lines until the POP3 multiline terminator ".".
func (c *pop3Conn) readAll() (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	for {
		b, _, err := c.r.ReadLine()
		if err != nil {
			return nil, err
		}
		if bytes.Equal(b, []byte(".")) {
			break
		}
		// Byte-stuff: lines starting with "." have the leading dot removed
		if bytes.HasPrefix(b, []byte("..")) {
			b = b[1:]
		}
		buf.Write(b)
		buf.Write(pop3LineBreak)
	}
	return buf, nil
}

// auth authenticates with USER/PASS.
func (c *pop3Conn) auth(user, password string) error {
	if _, err := c.cmd("USER", false, user); err != nil {
		return err
	}
	if _, err := c.cmd("PASS", false, password); err != nil {
		return err
	}
	// NOOP to confirm auth succeeded
	_, err := c.cmd("NOOP", false)
	return err
}

// stat returns message count and total size.
func (c *pop3Conn) stat() (count, size int, err error) {
	b, err := c.cmd("STAT", false)
	if err != nil {
		return 0, 0, err
	}
	f := bytes.Fields(b.Bytes())
	if len(f) < 2 {
		return 0, 0, nil
	}
	count, _ = strconv.Atoi(string(f[0]))
	size, _ = strconv.Atoi(string(f[1]))
	return count, size, nil
}

// retr downloads a message as raw RFC 5322 bytes.
func (c *pop3Conn) retr(msgID int) (*bytes.Buffer, error) {
	return c.cmd("RETR", true, msgID)
}

// dele marks a message for deletion.
func (c *pop3Conn) dele(msgID int) error {
	_, err := c.cmd("DELE", false, msgID)
	return err
}

// quit sends QUIT and closes the connection.
func (c *pop3Conn) quit() error {
	_, _ = c.cmd("QUIT", false)
	return c.conn.Close()
}

// ---------- response parsing ----------

func parsePOP3Resp(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if bytes.Equal(b, pop3RespOK) {
		return nil, nil
	}
	if bytes.HasPrefix(b, pop3RespOKInfo) {
		return bytes.TrimPrefix(b, pop3RespOKInfo), nil
	}
	if bytes.Equal(b, pop3RespErr) {
		return nil, errors.New("POP3: unknown error")
	}
	if bytes.HasPrefix(b, pop3RespErrInfo) {
		return nil, fmt.Errorf("POP3: %s", bytes.TrimPrefix(b, pop3RespErrInfo))
	}
	return nil, fmt.Errorf("POP3: unexpected response: %s", string(b))
}
