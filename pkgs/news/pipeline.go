package news

import (
	"context"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/emx-mail/mail2news/pkgs/config"
	"github.com/emx-mail/mail2news/pkgs/mail"
	"github.com/emx-mail/mail2news/pkgs/repo"
)

// Pipeline drives one mailbox run: open the session, enumerate messages,
// resolve, extract and publish each one, notify senders of failures, and
// apply the terminal state transitions. Runs are strictly sequential;
// overlapping triggers are refused, not queued.
type Pipeline struct {
	settings   *config.Settings
	repository repo.Repository
	resolver   *Resolver
	publisher  *Publisher
	notifier   *Notifier
	logger     *log.Logger

	running atomic.Bool
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(settings *config.Settings, repository repo.Repository, notifier *Notifier, logger *log.Logger) *Pipeline {
	return &Pipeline{
		settings:   settings,
		repository: repository,
		resolver:   NewResolver(repository),
		publisher: NewPublisher(
			repository,
			settings.Mailbox.GalleryMacro,
			settings.Repository.AnonymousName,
			logger,
		),
		notifier: notifier,
		logger:   logger,
	}
}

// RunOnce executes one full run. A second call while a run is in
// progress is a no-op. The returned error is run-level only: connection
// or settings failures abort the run, per-message failures never do.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn("a run is already in progress, skipping this trigger")
		return nil
	}
	defer p.running.Store(false)

	if err := p.settings.Validate(); err != nil {
		return err
	}

	session, err := mail.Open(ctx, p.settings.Mailbox, p.logger)
	if err != nil {
		return err
	}
	defer func() {
		// Cleanup always runs and never masks the run's outcome.
		if err := session.Close(); err != nil {
			p.logger.Error("mailbox cleanup failed", "error", err)
		}
	}()

	messages, err := session.Messages(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("run started", "messages", len(messages))

	for _, m := range messages {
		outcome := p.processMessage(ctx, m)
		if !outcome.Published {
			p.logger.Error("message failed", "subject", m.Subject, "reason", outcome.Reason)
			p.notifier.NotifyFailure(m, outcome.Reason)
		}
		if err := session.Transition(ctx, m, outcome); err != nil {
			p.logger.Error("could not apply message state transition",
				"uid", m.UID, "error", err)
		}
	}

	return nil
}

// processMessage turns one message into its terminal outcome. Every
// failure path is per-message: it is reported, never propagated.
func (p *Pipeline) processMessage(ctx context.Context, m *mail.RawMessage) mail.Outcome {
	// A message flagged seen before this run is an anomaly: something
	// other than the pipeline touched it. It is failed without
	// processing so it cannot be published twice.
	if m.Seen {
		return mail.Failed("already seen")
	}

	space, err := p.resolver.Resolve(ctx, m)
	if err != nil {
		return mail.Failed(err.Error())
	}

	content, err := mail.ExtractContent(m.Raw, p.logger)
	if err != nil {
		return mail.Failed("error while getting content of message: " + err.Error())
	}

	if err := p.publisher.Publish(ctx, space, m, content); err != nil {
		return mail.Failed("error while creating post: " + err.Error())
	}

	return mail.Published
}
