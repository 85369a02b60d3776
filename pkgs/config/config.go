// Package config holds the mail2news settings schema and its JSON store.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ProtocolIMAP and ProtocolPOP3 are the two supported mailbox protocols.
	ProtocolIMAP = "imap"
	ProtocolPOP3 = "pop3"

	// DefaultAnonymousName is used as the post creator when the sender's
	// email address does not match exactly one user account.
	DefaultAnonymousName = "Anonymous"

	// DefaultRepositoryVersion is the content-repository version assumed
	// when the settings file does not specify one. Versions before 4.1
	// require post titles to be sanitized.
	DefaultRepositoryVersion = "4.1.0"
)

// MailboxSettings holds the connection settings for the monitored mailbox.
// Port 0 means the protocol default.
type MailboxSettings struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`

	// Secure enables implicit TLS; the effective protocol name becomes
	// "imaps" or "pop3s".
	Secure bool `json:"secure"`

	// GalleryMacro appends the {gallery} marker to posts whose message
	// carried at least one image attachment.
	GalleryMacro bool `json:"gallery_macro"`
}

// RelaySettings holds the outbound SMTP relay used for failure replies.
// An empty Host disables the notifier.
type RelaySettings struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	SSL      bool   `json:"ssl,omitempty"`
	StartTLS bool   `json:"starttls,omitempty"`

	// From is the sender address of failure replies.
	From string `json:"from,omitempty"`
}

// RepositorySettings holds the content repository configuration.
type RepositorySettings struct {
	Path          string `json:"path"`
	Version       string `json:"version,omitempty"`
	AnonymousName string `json:"anonymous_name,omitempty"`
}

// Settings is the root settings document.
type Settings struct {
	Mailbox    MailboxSettings    `json:"mailbox"`
	Relay      RelaySettings      `json:"relay"`
	Repository RepositorySettings `json:"repository"`
}

// legacySettings mirrors the flat schema of releases before the settings
// split into sections. Values found here are migrated on load and never
// written back.
type legacySettings struct {
	SMTPServer   string `json:"smtpserver"`
	SMTPUsername string `json:"smtpusername"`
	SMTPPassword string `json:"smtppassword"`
	EmailAddress string `json:"emailaddress"`
}

// Load reads settings from path. A missing file yields defaults; unknown
// fields are ignored; legacy flat fields are folded into the relay section
// when it is otherwise empty.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	s := Default()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	var legacy legacySettings
	if err := json.Unmarshal(data, &legacy); err == nil {
		s.migrateLegacy(legacy)
	}

	s.applyDefaults()
	return s, nil
}

// Save writes the current schema to path. Legacy fields are dropped here:
// they exist only in legacySettings, which is never serialized.
func Save(path string, s *Settings) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// Default returns the settings used when no file exists yet.
func Default() *Settings {
	return &Settings{
		Mailbox: MailboxSettings{
			Protocol: ProtocolIMAP,
		},
		Repository: RepositorySettings{
			Version:       DefaultRepositoryVersion,
			AnonymousName: DefaultAnonymousName,
		},
	}
}

// Example returns a filled-in settings document for "init".
func Example() *Settings {
	return &Settings{
		Mailbox: MailboxSettings{
			Protocol:     ProtocolIMAP,
			Host:         "imap.example.com",
			Port:         993,
			Username:     "news@example.com",
			Secure:       true,
			GalleryMacro: true,
		},
		Relay: RelaySettings{
			Host:     "smtp.example.com",
			Port:     587,
			Username: "news@example.com",
			StartTLS: true,
			From:     "news@example.com",
		},
		Repository: RepositorySettings{
			Path:          "mail2news.db",
			Version:       DefaultRepositoryVersion,
			AnonymousName: DefaultAnonymousName,
		},
	}
}

// Validate checks the fields required to start a run.
func (s *Settings) Validate() error {
	p := strings.ToLower(s.Mailbox.Protocol)
	if p != ProtocolIMAP && p != ProtocolPOP3 {
		return fmt.Errorf("unknown protocol: %s", s.Mailbox.Protocol)
	}
	if s.Mailbox.Host == "" || s.Mailbox.Username == "" || s.Mailbox.Password == "" {
		return fmt.Errorf("incomplete mailbox settings (host, username and password are required)")
	}
	if s.Repository.Path == "" {
		return fmt.Errorf("repository path is required")
	}
	return nil
}

// RelayConfigured reports whether an outbound relay is usable.
func (s *Settings) RelayConfigured() bool {
	return s.Relay.Host != ""
}

func (s *Settings) migrateLegacy(legacy legacySettings) {
	if s.Relay.Host != "" {
		return
	}
	if legacy.SMTPServer == "" {
		return
	}
	s.Relay.Host = legacy.SMTPServer
	s.Relay.Username = legacy.SMTPUsername
	s.Relay.Password = legacy.SMTPPassword
	s.Relay.From = legacy.EmailAddress
}

func (s *Settings) applyDefaults() {
	if s.Mailbox.Protocol == "" {
		s.Mailbox.Protocol = ProtocolIMAP
	}
	s.Mailbox.Protocol = strings.ToLower(s.Mailbox.Protocol)
	if s.Repository.Version == "" {
		s.Repository.Version = DefaultRepositoryVersion
	}
	if s.Repository.AnonymousName == "" {
		s.Repository.AnonymousName = DefaultAnonymousName
	}
}
