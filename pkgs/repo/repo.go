// Package repo is the content repository the pipeline publishes into:
// spaces, users, posts and their attachments.
package repo

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Space is a named container for posts. Personal spaces belong to a
// single user and are addressed by that user's name.
type Space struct {
	Key      string
	Name     string
	Personal bool

	// Owner is the username the space belongs to. Empty for shared
	// spaces.
	Owner string
}

// User is a registered account.
type User struct {
	ID    string
	Name  string
	Email string
}

// Post is one published news entry.
type Post struct {
	ID       string
	SpaceKey string
	Title    string
	Body     string

	// Creator is the display name of the author, either a matched
	// account name or the anonymous fallback.
	Creator   string
	CreatedAt time.Time
}

// Attachment is a file stored alongside a post.
type Attachment struct {
	ID          string
	PostID      string
	Filename    string
	ContentType string
	Data        []byte

	// Creator carries the same identity as the post the attachment
	// belongs to.
	Creator string
}

// Repository is the store the publisher writes to.
type Repository interface {
	// Version reports the repository version string, used to decide
	// whether post titles need sanitizing.
	Version() string

	// LookupSpace finds a shared space by key. Keys compare
	// case-insensitively.
	LookupSpace(ctx context.Context, key string) (*Space, error)

	// LookupPersonalSpace finds the personal space of the given user.
	LookupPersonalSpace(ctx context.Context, username string) (*Space, error)

	// LookupUsersByEmail returns every account registered with the
	// given email address.
	LookupUsersByEmail(ctx context.Context, email string) ([]User, error)

	// CreatePost stores a post and returns it with its ID assigned.
	CreatePost(ctx context.Context, post Post) (*Post, error)

	// SaveAttachment stores one attachment of a post.
	SaveAttachment(ctx context.Context, att Attachment) error

	// CreateSpace registers a space.
	CreateSpace(ctx context.Context, space Space) error

	// CreateUser registers a user account.
	CreateUser(ctx context.Context, user User) error

	// ListPosts returns the posts of a space, newest first.
	ListPosts(ctx context.Context, spaceKey string) ([]Post, error)

	// ListSpaces returns every registered space, ordered by key.
	ListSpaces(ctx context.Context) ([]Space, error)

	// ListUsers returns every registered account, ordered by name.
	ListUsers(ctx context.Context) ([]User, error)

	Close() error
}
