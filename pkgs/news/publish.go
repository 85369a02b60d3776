package news

import (
	"context"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/emx-mail/mail2news/pkgs/mail"
	"github.com/emx-mail/mail2news/pkgs/repo"
)

// galleryMarker is appended to the body of posts carrying image
// attachments when the feature is enabled.
const galleryMarker = "{gallery}"

// titleIllegalChars lists the characters repository versions before 4.1
// cannot carry in a post title. Each occurrence is replaced by a space.
var titleIllegalChars = []string{
	":", "@", "/", "%", "\\", "&", "!", "|", "#", "$",
	"*", ";", "~", "[", "]", "(", ")", "{", "}", "<", ">", ".",
}

// modernVersionPattern matches repository versions that accept arbitrary
// title characters, so sanitizing is skipped for them.
var modernVersionPattern = regexp.MustCompile(`^4\.[1-9]+.*$`)

// Publisher persists posts and their attachments into the content
// repository.
type Publisher struct {
	repository    repo.Repository
	galleryMacro  bool
	anonymousName string
	logger        *log.Logger
}

// NewPublisher creates a publisher writing into repository. When
// galleryMacro is set, posts built from messages with image attachments
// get the gallery marker appended. anonymousName is the creator used
// when the sender matches no single user account.
func NewPublisher(repository repo.Repository, galleryMacro bool, anonymousName string, logger *log.Logger) *Publisher {
	return &Publisher{
		repository:    repository,
		galleryMacro:  galleryMacro,
		anonymousName: anonymousName,
		logger:        logger,
	}
}

// Publish stores the message's content as a post in the space, then its
// attachments in extraction order. A failed attachment save is logged
// and skipped; only a failure saving the post itself fails the message.
func (p *Publisher) Publish(ctx context.Context, space *repo.Space, m *mail.RawMessage, content *mail.Content) error {
	body := content.Body
	if p.galleryMacro && content.ContainsImage {
		body += galleryMarker
	}

	creator := p.resolveCreator(ctx, m)

	post, err := p.repository.CreatePost(ctx, repo.Post{
		SpaceKey: space.Key,
		Title:    p.sanitizeTitle(m.Subject),
		Body:     body,
		Creator:  creator,
	})
	if err != nil {
		return err
	}

	// Attachments are attributed to the same identity as the post.
	for _, att := range content.Attachments {
		err := p.repository.SaveAttachment(ctx, repo.Attachment{
			PostID:      post.ID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Data:        att.Data,
			Creator:     creator,
		})
		if err != nil {
			p.logger.Error("could not save attachment, skipping it",
				"post", post.ID, "filename", att.Filename, "error", err)
		}
	}

	p.logger.Info("published post", "space", space.Key, "title", post.Title, "creator", creator)
	return nil
}

// sanitizeTitle replaces characters old repository versions cannot carry
// in titles with spaces. Versions 4.1 and later take titles verbatim.
func (p *Publisher) sanitizeTitle(title string) string {
	if modernVersionPattern.MatchString(p.repository.Version()) {
		return title
	}
	for _, c := range titleIllegalChars {
		title = strings.ReplaceAll(title, c, " ")
	}
	return title
}

// resolveCreator attributes the post to the account registered with the
// sender's email address, but only when exactly one account matches.
// Zero or multiple matches fall back to the anonymous name.
func (p *Publisher) resolveCreator(ctx context.Context, m *mail.RawMessage) string {
	email := m.SenderEmail()
	if email == "" {
		return p.anonymousName
	}

	users, err := p.repository.LookupUsersByEmail(ctx, email)
	if err != nil {
		p.logger.Error("user lookup failed, attributing post anonymously", "email", email, "error", err)
		return p.anonymousName
	}
	if len(users) != 1 {
		return p.anonymousName
	}
	return users[0].Name
}
