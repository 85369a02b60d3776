package mail

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"

	// Registers decoders for the common non-UTF-8 charsets.
	_ "github.com/emersion/go-message/charset"
)

// Attachment is one file carried by a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Content is the extracted content of a message: at most one text body
// plus the attachments worth keeping.
type Content struct {
	// Body is the text of the first text/plain part, with lines
	// normalized to CRLF. Meaningful only when HasBody is set.
	Body    string
	HasBody bool

	Attachments []Attachment

	// ContainsImage is set when at least one attachment, kept or not,
	// declared an image content type.
	ContainsImage bool
}

// ExtractContent walks the MIME structure of a raw message. The first
// text/plain part becomes the body; every other leaf part is an
// attachment candidate. Candidates without a filename are dropped, and
// candidates whose data cannot be read are skipped; neither failure
// aborts the extraction. A read error on the body itself does.
func ExtractContent(raw []byte, logger *log.Logger) (*Content, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil {
		if !gomessage.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to parse message: %w", err)
		}
		logger.Warn("unknown charset, passing bytes through as UTF-8", "error", err)
	}

	c := &Content{}
	if err := extractEntity(c, entity, logger); err != nil {
		return nil, err
	}
	return c, nil
}

func extractEntity(c *Content, entity *gomessage.Entity, logger *log.Logger) error {
	if mr := entity.MultipartReader(); mr != nil {
		return extractMultipart(c, mr, logger)
	}
	return extractLeaf(c, entity, logger)
}

func extractMultipart(c *Content, mr gomessage.MultipartReader, logger *log.Logger) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if !gomessage.IsUnknownCharset(err) {
				return fmt.Errorf("failed to read message part: %w", err)
			}
			// The part is still readable, just undecoded.
			logger.Warn("unknown charset, passing bytes through as UTF-8", "error", err)
		}
		if err := extractEntity(c, part, logger); err != nil {
			return err
		}
	}
}

func extractLeaf(c *Content, entity *gomessage.Entity, logger *log.Logger) error {
	// ContentType lowercases the type and strips its parameters.
	ct, _, _ := entity.Header.ContentType()

	if ct == "text/plain" && !c.HasBody {
		body, err := readBodyLines(entity.Body)
		if err != nil {
			return fmt.Errorf("failed to read message body: %w", err)
		}
		c.Body = body
		c.HasBody = true
		return nil
	}

	h := gomail.AttachmentHeader{Header: entity.Header}
	filename, _ := h.Filename()
	if filename == "" {
		logger.Warn("attachment without filename dropped", "content_type", ct)
		return nil
	}

	if strings.Contains(ct, "image") {
		c.ContainsImage = true
	}

	data, err := io.ReadAll(entity.Body)
	if err != nil {
		logger.Error("could not read attachment, skipping it", "filename", filename, "error", err)
		return nil
	}

	c.Attachments = append(c.Attachments, Attachment{
		Filename:    filename,
		ContentType: ct,
		Data:        data,
	})
	return nil
}

// readBodyLines reads the body line by line and joins the lines with
// CRLF, so the stored post text is line-ending independent of the
// transport encoding.
func readBodyLines(r io.Reader) (string, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\r\n")
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
