package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yyyyyyyan/onesecmail/config"
	"github.com/yyyyyyyan/onesecmail/message"
	"github.com/yyyyyyyan/onesecmail/model"
	"github.com/yyyyyyyan/onesecmail/state"
	"github.com/yyyyyyyan/onesecmail/stats"
)

var ErrNilMessage = errors.New("envelope carries no message")

type StageFunc func(context.Context) error

type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope
	archive  chan *message.Message
	events   chan stats.Event

	tracker *state.FileTracker

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeMailboxOnce sync.Once
	closeArchiveOnce sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	ctx, cancel := context.WithCancel(context.Background())

	tracker, err := state.NewFileTracker(cfg.StateDir, !cfg.DryRun)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("state tracker: %w", err)
	}

	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan model.Envelope, 32),
		archive:  make(chan *message.Message, 32),
		events:   make(chan stats.Event, 128),
		tracker:  tracker,
	}

	r.AddStage("bridge", r.bridge)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) MailboxWriter() chan<- model.Envelope {
	return r.messages
}

func (r *Runner) CloseMailbox() {
	r.closeMailboxOnce.Do(func() {
		close(r.messages)
	})
}

func (r *Runner) Archive() <-chan *message.Message {
	return r.archive
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, r.events); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	if err := r.tracker.Close(); err != nil {
		r.logger.Warn("closing state tracker", "err", err)
	}

	err := r.err
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeArchive()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeError, Err: envelope.Err})
				r.fail(fmt.Errorf("mailbox envelope: %w", envelope.Err))
				continue
			}

			msg := envelope.Message
			if msg == nil {
				r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeError, Err: ErrNilMessage})
				r.fail(ErrNilMessage)
				continue
			}

			if r.tracker.AlreadyArchived(state.Key(msg.ToAddress(), msg.ID())) {
				r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeDuplicate, MessageID: msg.ID()})
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.archive <- msg:
				r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeEnqueued, MessageID: msg.ID()})
			}
		}
	}
}

func (r *Runner) closeArchive() {
	r.closeArchiveOnce.Do(func() {
		close(r.archive)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
