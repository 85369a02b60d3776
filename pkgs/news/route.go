// Package news turns incoming mail into posts: it routes messages to
// spaces, publishes their content, notifies senders of failures and
// orchestrates whole mailbox runs.
package news

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/emx-mail/mail2news/pkgs/mail"
	"github.com/emx-mail/mail2news/pkgs/repo"
)

// addressPattern matches addresses of the form local+key@domain, where
// the space key follows the last run of alphanumerics and a plus sign in
// the local part.
var addressPattern = regexp.MustCompile(`^(.+?)([a-zA-Z0-9]+\+[a-zA-Z0-9]+)@(.+?)$`)

// UnresolvedSpaceError means no recipient address of a message could be
// mapped to a space. It carries the raw To header values for diagnostics.
type UnresolvedSpaceError struct {
	ToHeader []string
}

func (e *UnresolvedSpaceError) Error() string {
	return "could not resolve target space from recipients: " + strings.Join(e.ToHeader, " / ")
}

// SpaceDirectory is the lookup surface the resolver needs.
type SpaceDirectory interface {
	LookupSpace(ctx context.Context, key string) (*repo.Space, error)
	LookupPersonalSpace(ctx context.Context, username string) (*repo.Space, error)
}

// Resolver maps a message's recipients to a target space.
type Resolver struct {
	spaces SpaceDirectory
}

// NewResolver creates a resolver over the given space directory.
func NewResolver(spaces SpaceDirectory) *Resolver {
	return &Resolver{spaces: spaces}
}

// Resolve scans the To then Cc addresses in order. An address encoding
// an explicit key as local+key@domain is a direct match and wins
// immediately. An address without a key falls back to its local part as
// the key; such deferred matches are collected and the first one is used
// only when no address matches directly. The convention is authoritative
// so a later direct match beats an earlier deferred one.
func (r *Resolver) Resolve(ctx context.Context, m *mail.RawMessage) (*repo.Space, error) {
	var deferred []*repo.Space

	for _, addr := range m.Recipients() {
		if groups := addressPattern.FindStringSubmatch(addr.Email); groups != nil {
			key := groups[2][strings.Index(groups[2], "+")+1:]
			space, err := r.lookup(ctx, key)
			if err != nil {
				return nil, err
			}
			if space != nil {
				return space, nil
			}
			continue
		}

		// An address without a domain can never name a space; it is
		// passed over instead of failing the whole message.
		idx := strings.Index(addr.Email, "@")
		if idx <= 0 {
			continue
		}
		space, err := r.lookup(ctx, addr.Email[:idx])
		if err != nil {
			return nil, err
		}
		if space != nil {
			deferred = append(deferred, space)
		}
	}

	if len(deferred) > 0 {
		return deferred[0], nil
	}

	return nil, &UnresolvedSpaceError{ToHeader: m.ToHeader}
}

// lookup tries the key as a shared space, then as a personal space.
// A miss is reported as a nil space, not an error.
func (r *Resolver) lookup(ctx context.Context, key string) (*repo.Space, error) {
	space, err := r.spaces.LookupSpace(ctx, key)
	if err == nil {
		return space, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	space, err = r.spaces.LookupPersonalSpace(ctx, key)
	if err == nil {
		return space, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}
