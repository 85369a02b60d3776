package mail

import (
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/charmbracelet/log"
	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"

	"github.com/emx-mail/mail2news/pkgs/config"
)

const (
	imapTestUser = "testuser"
	imapTestPass = "testpass"
)

// testLogger returns a logger that swallows all output.
func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// splitHostPort splits "host:port" into (host, int port).
func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

// imapTestSettings builds mailbox settings pointed at a test server.
func imapTestSettings(t *testing.T, addr string) config.MailboxSettings {
	t.Helper()
	host, port := splitHostPort(t, addr)
	return config.MailboxSettings{
		Protocol: config.ProtocolIMAP,
		Host:     host,
		Port:     port,
		Username: imapTestUser,
		Password: imapTestPass,
	}
}

// newTestIMAPServer starts an in-memory IMAP server and returns the listen
// address.  Caller must eventually call srv.Close() (done via t.Cleanup).
func newTestIMAPServer(t *testing.T) (addr string, memSrv *imapmemserver.Server) {
	t.Helper()

	memSrv = imapmemserver.New()
	user := imapmemserver.NewUser(imapTestUser, imapTestPass)
	user.Create("INBOX", nil)
	memSrv.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(_ *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memSrv.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps: goimap.CapSet{
			goimap.CapIMAP4rev1: {},
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().String(), memSrv
}

// appendTestMail appends a raw RFC 5322 message to the given mailbox via
// a direct IMAP client (not through our session).
func appendTestMail(t *testing.T, addr, mailbox, rawMsg string) {
	t.Helper()

	c := dialTestIMAP(t, addr)
	defer c.Close()

	appendCmd := c.Append(mailbox, int64(len(rawMsg)), nil)
	if _, err := appendCmd.Write([]byte(rawMsg)); err != nil {
		t.Fatal(err)
	}
	if err := appendCmd.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		t.Fatal(err)
	}
}

// flagTestMailSeen flags every message in the mailbox seen via a direct
// IMAP client.
func flagTestMailSeen(t *testing.T, addr, mailbox string) {
	t.Helper()

	c := dialTestIMAP(t, addr)
	defer c.Close()

	data, err := c.Select(mailbox, nil).Wait()
	if err != nil {
		t.Fatal(err)
	}
	if data.NumMessages == 0 {
		t.Fatalf("no messages in %s to flag", mailbox)
	}
	seqSet := goimap.SeqSet{}
	seqSet.AddRange(1, data.NumMessages)
	if _, err := c.Store(seqSet, &goimap.StoreFlags{
		Op:    goimap.StoreFlagsAdd,
		Flags: []goimap.Flag{goimap.FlagSeen},
	}, nil).Collect(); err != nil {
		t.Fatal(err)
	}
}

// countTestMail counts the messages in a mailbox via a direct IMAP client.
func countTestMail(t *testing.T, addr, mailbox string) int {
	t.Helper()

	c := dialTestIMAP(t, addr)
	defer c.Close()

	data, err := c.Select(mailbox, nil).Wait()
	if err != nil {
		t.Fatalf("select %s: %v", mailbox, err)
	}
	return int(data.NumMessages)
}

// findTestFolder returns the full name of the mailbox whose name ends in
// suffix, or "" when absent. The session creates its folders under a
// server-dependent root, so tests match by suffix.
func findTestFolder(t *testing.T, addr, suffix string) string {
	t.Helper()

	c := dialTestIMAP(t, addr)
	defer c.Close()

	mailboxes, err := c.List("", "*", nil).Collect()
	if err != nil {
		t.Fatal(err)
	}
	for _, mb := range mailboxes {
		if len(mb.Mailbox) >= len(suffix) && mb.Mailbox[len(mb.Mailbox)-len(suffix):] == suffix {
			return mb.Mailbox
		}
	}
	return ""
}

func dialTestIMAP(t *testing.T, addr string) *imapclient.Client {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	c := imapclient.New(conn, nil)
	if err := c.Login(imapTestUser, imapTestPass).Wait(); err != nil {
		t.Fatal(err)
	}
	return c
}

// ---------------------------------------------------------------------------
// Raw RFC 5322 fixtures
// ---------------------------------------------------------------------------

// testMailDirect targets space "eng" through the +key convention.
const testMailDirect = "MIME-Version: 1.0\r\n" +
	"From: John Doe <jdoe@example.com>\r\n" +
	"To: team+eng@example.com\r\n" +
	"Subject: Status update\r\n" +
	"Date: Mon, 10 Feb 2026 08:00:00 +0000\r\n" +
	"Message-Id: <test-direct@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"All services are running normally."

// testMailUnresolvable targets no known space.
const testMailUnresolvable = "MIME-Version: 1.0\r\n" +
	"From: jdoe@example.com\r\n" +
	"To: nobody@example.com\r\n" +
	"Cc: alias@example.com\r\n" +
	"Subject: Lost message\r\n" +
	"Date: Mon, 10 Feb 2026 08:00:00 +0000\r\n" +
	"Message-Id: <test-lost@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Nobody will read this."

// testMailMultipart carries a text body, an image attachment and a part
// without a filename.
const testMailMultipart = "MIME-Version: 1.0\r\n" +
	"From: jdoe@example.com\r\n" +
	"To: team+eng@example.com\r\n" +
	"Subject: Release photos\r\n" +
	"Date: Mon, 10 Feb 2026 08:00:00 +0000\r\n" +
	"Message-Id: <test-multi@example.com>\r\n" +
	"Content-Type: multipart/mixed; boundary=\"TESTBOUNDARY\"\r\n" +
	"\r\n" +
	"--TESTBOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Photos from the release party.\r\n" +
	"--TESTBOUNDARY\r\n" +
	"Content-Type: image/png; name=\"party.png\"\r\n" +
	"Content-Disposition: attachment; filename=\"party.png\"\r\n" +
	"\r\n" +
	"PNG-DATA\r\n" +
	"--TESTBOUNDARY\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"\r\n" +
	"NAMELESS-DATA\r\n" +
	"--TESTBOUNDARY--\r\n"

// testMailTwoTextParts has two text/plain leaves; only the first may
// become the body.
const testMailTwoTextParts = "MIME-Version: 1.0\r\n" +
	"From: jdoe@example.com\r\n" +
	"To: team+eng@example.com\r\n" +
	"Subject: Two bodies\r\n" +
	"Date: Mon, 10 Feb 2026 08:00:00 +0000\r\n" +
	"Message-Id: <test-two@example.com>\r\n" +
	"Content-Type: multipart/mixed; boundary=\"TESTBOUNDARY\"\r\n" +
	"\r\n" +
	"--TESTBOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"First part\r\n" +
	"--TESTBOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Disposition: attachment; filename=\"second.txt\"\r\n" +
	"\r\n" +
	"Second part\r\n" +
	"--TESTBOUNDARY--\r\n"

// testMailNested wraps the text body inside a multipart/alternative.
const testMailNested = "MIME-Version: 1.0\r\n" +
	"From: jdoe@example.com\r\n" +
	"To: team+eng@example.com\r\n" +
	"Subject: Nested\r\n" +
	"Date: Mon, 10 Feb 2026 08:00:00 +0000\r\n" +
	"Message-Id: <test-nested@example.com>\r\n" +
	"Content-Type: multipart/mixed; boundary=\"OUTER\"\r\n" +
	"\r\n" +
	"--OUTER\r\n" +
	"Content-Type: multipart/alternative; boundary=\"INNER\"\r\n" +
	"\r\n" +
	"--INNER\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Plain version\r\n" +
	"--INNER\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"Content-Disposition: attachment; filename=\"body.html\"\r\n" +
	"\r\n" +
	"<p>HTML version</p>\r\n" +
	"--INNER--\r\n" +
	"--OUTER\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"\r\n" +
	"PDF-DATA\r\n" +
	"--OUTER--\r\n"
