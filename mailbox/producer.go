package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yyyyyyyan/onesecmail/message"
	"github.com/yyyyyyyan/onesecmail/model"
	"github.com/yyyyyyyan/onesecmail/runner"
	"github.com/yyyyyyyan/onesecmail/state"
	"github.com/yyyyyyyan/onesecmail/stats"
	"github.com/yyyyyyyan/onesecmail/validator"
)

type ProducerOptions struct {
	Validators   []validator.Validator
	Watch        bool
	PollInterval time.Duration
}

// Producer polls a mailbox and feeds matching messages into the pipeline.
// Validators run on the list summaries; only messages passing all of them
// and not yet archived get their full content fetched.
type Producer struct {
	mailbox *Mailbox
	opts    ProducerOptions
	runner  *runner.Runner
	logger  *slog.Logger
}

func NewProducer(mb *Mailbox, opts ProducerOptions, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	if mb == nil {
		return nil, fmt.Errorf("mailbox must not be nil")
	}
	if opts.Watch && opts.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive in watch mode")
	}

	producer := &Producer{mailbox: mb, opts: opts, runner: r, logger: logger}
	r.AddStage("mailbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMailbox()

	if err := p.poll(ctx); err != nil {
		return err
	}
	if !p.opts.Watch {
		return nil
	}

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				return err
			}
		}
	}
}

func (p *Producer) poll(ctx context.Context) error {
	payloads, err := p.mailbox.MessagePayloads(ctx)
	if err != nil {
		return p.emitError(ctx, fmt.Errorf("list mailbox %s: %w", p.mailbox.Address(), err))
	}

	if p.logger != nil {
		p.logger.Debug("polled mailbox", "address", p.mailbox.Address(), "messages", len(payloads))
	}

	for i := range payloads {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := message.FromPayload(payloads[i],
			message.WithMailHandler(p.mailbox),
			message.WithDateOffset(p.mailbox.dateOffset),
		)
		if err != nil {
			return p.emitError(ctx, fmt.Errorf("message %d: %w", i, err))
		}

		p.runner.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeScanned, MessageID: msg.ID()})

		if !validator.Apply(p.opts.Validators, msg) {
			p.runner.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeRejected, MessageID: msg.ID()})
			continue
		}

		// Skip already-archived messages before the readMessage call; the
		// bridge would drop them anyway, but only after a remote fetch.
		if p.runner.Tracker().AlreadyArchived(state.Key(msg.ToAddress(), msg.ID())) {
			p.runner.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeDuplicate, MessageID: msg.ID()})
			continue
		}

		if err := msg.FetchContent(ctx, nil); err != nil {
			return p.emitError(ctx, err)
		}

		if err := p.emitEnvelope(ctx, model.Envelope{Message: msg}); err != nil {
			return err
		}
	}

	return nil
}

func (p *Producer) emitError(ctx context.Context, err error) error {
	if p.logger != nil {
		p.logger.Error("mailbox poll error", "address", p.mailbox.Address(), "err", err)
	}
	return p.emitEnvelope(ctx, model.Envelope{Err: err})
}

func (p *Producer) emitEnvelope(ctx context.Context, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.runner.MailboxWriter() <- env:
		return nil
	}
}
