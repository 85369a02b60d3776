package news

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/emx-mail/mail2news/pkgs/mail"
	"github.com/emx-mail/mail2news/pkgs/repo"
)

// testLogger returns a logger that swallows all output.
func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// ---------------------------------------------------------------------------
// In-memory repository
// ---------------------------------------------------------------------------

type fakeRepo struct {
	version     string
	spaces      []repo.Space
	users       []repo.User
	posts       []repo.Post
	attachments []repo.Attachment

	failCreatePost     bool
	failAttachmentName string
	nextPostID         int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{version: "4.1.0"}
}

func (r *fakeRepo) Version() string { return r.version }

func (r *fakeRepo) LookupSpace(_ context.Context, key string) (*repo.Space, error) {
	for i := range r.spaces {
		s := &r.spaces[i]
		if !s.Personal && strings.EqualFold(s.Key, key) {
			return s, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *fakeRepo) LookupPersonalSpace(_ context.Context, username string) (*repo.Space, error) {
	for i := range r.spaces {
		s := &r.spaces[i]
		if s.Personal && strings.EqualFold(s.Owner, username) {
			return s, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *fakeRepo) LookupUsersByEmail(_ context.Context, email string) ([]repo.User, error) {
	var out []repo.User
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreatePost(_ context.Context, post repo.Post) (*repo.Post, error) {
	if r.failCreatePost {
		return nil, errors.New("post save rejected")
	}
	r.nextPostID++
	post.ID = fmt.Sprintf("post-%d", r.nextPostID)
	r.posts = append(r.posts, post)
	return &post, nil
}

func (r *fakeRepo) SaveAttachment(_ context.Context, att repo.Attachment) error {
	if att.Filename == r.failAttachmentName {
		return errors.New("attachment save rejected")
	}
	r.attachments = append(r.attachments, att)
	return nil
}

func (r *fakeRepo) CreateSpace(_ context.Context, space repo.Space) error {
	r.spaces = append(r.spaces, space)
	return nil
}

func (r *fakeRepo) CreateUser(_ context.Context, user repo.User) error {
	r.users = append(r.users, user)
	return nil
}

func (r *fakeRepo) ListPosts(_ context.Context, spaceKey string) ([]repo.Post, error) {
	var out []repo.Post
	for _, p := range r.posts {
		if strings.EqualFold(p.SpaceKey, spaceKey) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListSpaces(_ context.Context) ([]repo.Space, error) {
	return append([]repo.Space(nil), r.spaces...), nil
}

func (r *fakeRepo) ListUsers(_ context.Context) ([]repo.User, error) {
	return append([]repo.User(nil), r.users...), nil
}

func (r *fakeRepo) Close() error { return nil }

var _ repo.Repository = (*fakeRepo)(nil)

// ---------------------------------------------------------------------------
// Recording relay
// ---------------------------------------------------------------------------

type fakeRelayMessage struct {
	To      string
	Subject string
	Body    string
}

type fakeRelay struct {
	mu   sync.Mutex
	sent []fakeRelayMessage
	fail bool
}

func (r *fakeRelay) Send(to, subject, body string) error {
	if r.fail {
		return errors.New("relay unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, fakeRelayMessage{To: to, Subject: subject, Body: body})
	return nil
}

func (r *fakeRelay) Sent() []fakeRelayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fakeRelayMessage(nil), r.sent...)
}

var _ Relay = (*fakeRelay)(nil)

// ---------------------------------------------------------------------------
// Message builders
// ---------------------------------------------------------------------------

func testMessage(from string, to ...string) *mail.RawMessage {
	m := &mail.RawMessage{Subject: "Test message"}
	if from != "" {
		m.From = []mail.Address{{Email: from}}
	}
	for _, addr := range to {
		m.To = append(m.To, mail.Address{Email: addr})
		m.ToHeader = append(m.ToHeader, addr)
	}
	return m
}

func testContent(body string) *mail.Content {
	return &mail.Content{Body: body, HasBody: body != ""}
}
