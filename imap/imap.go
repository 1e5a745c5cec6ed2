// Package imap archives messages from a disposable mailbox into a folder on
// a real IMAP server.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/yyyyyyyan/onesecmail/message"
	"github.com/yyyyyyyan/onesecmail/rfc822"
	"github.com/yyyyyyyan/onesecmail/runner"
	"github.com/yyyyyyyan/onesecmail/state"
	"github.com/yyyyyyyan/onesecmail/stats"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string
	DryRun             bool
}

type Archiver struct {
	opts    Options
	runner  *runner.Runner
	tracker state.Tracker
	archive <-chan *message.Message
	logger  *slog.Logger
}

func NewArchiver(opts Options, r *runner.Runner, logger *slog.Logger) (*Archiver, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	tracker := r.Tracker()
	if tracker == nil {
		return nil, fmt.Errorf("tracker must not be nil")
	}
	archiver := &Archiver{
		opts:    opts,
		runner:  r,
		tracker: tracker,
		archive: r.Archive(),
		logger:  logger,
	}
	r.AddStage("archive", archiver.run)
	return archiver, nil
}

func (a *Archiver) run(ctx context.Context) error {
	var (
		client  *imapclient.Client
		cleanup func()
	)
	defer func() {
		if cleanup != nil {
			cleanup()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-a.archive:
			if !ok {
				return nil
			}

			key := state.Key(msg.ToAddress(), msg.ID())

			if a.opts.DryRun {
				if err := a.tracker.MarkArchived(key, msg.Subject); err != nil {
					a.runner.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeError, MessageID: msg.ID(), Err: err})
					return err
				}
				a.runner.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeDryRunArchived, MessageID: msg.ID()})
				if a.logger != nil {
					a.logger.Debug("dry-run archive", "messageID", msg.ID(), "target", a.targetFolder(), "subject", msg.Subject)
				}
				continue
			}

			if client == nil {
				var err error
				client, cleanup, err = a.dial(ctx)
				if err != nil {
					a.runner.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeError, MessageID: msg.ID(), Err: err})
					return err
				}
			}

			if err := a.appendMessage(client, msg); err != nil {
				err = fmt.Errorf("archive message %d: %w", msg.ID(), err)
				a.runner.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeError, MessageID: msg.ID(), Err: err})
				return err
			}

			if err := a.tracker.MarkArchived(key, msg.Subject); err != nil {
				a.runner.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeError, MessageID: msg.ID(), Err: err})
				return err
			}

			a.runner.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeArchived, MessageID: msg.ID()})
			if a.logger != nil {
				a.logger.Debug("archived message", "messageID", msg.ID(), "target", a.targetFolder(), "subject", msg.Subject)
			}
		}
	}
}

func (a *Archiver) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(a.opts.Host, strconv.Itoa(a.opts.Port))
	options := &imapclient.Options{}

	if a.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         a.opts.Host,
			InsecureSkipVerify: a.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if a.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(a.opts.Username, a.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if err := a.ensureMailbox(client); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	if a.logger != nil {
		a.logger.Debug("imap connection established", "address", address, "user", a.opts.Username, "target", a.targetFolder(), "tls", a.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				if a.logger != nil {
					a.logger.Warn("imap logout failed", "err", err)
				}
			}
		}
		if err := client.Close(); err != nil && a.logger != nil {
			a.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (a *Archiver) appendMessage(client *imapclient.Client, msg *message.Message) error {
	target := a.targetFolder()
	raw := rfc822.Render(msg)
	size := int64(len(raw))

	opts := &imapv2.AppendOptions{Time: msg.Date()}

	cmd := client.Append(target, size, opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	return nil
}

func (a *Archiver) targetFolder() string {
	if a.opts.TargetFolder == "" {
		return "INBOX"
	}
	return a.opts.TargetFolder
}

func (a *Archiver) ensureMailbox(client *imapclient.Client) error {
	target := a.targetFolder()
	cmd := client.Create(target, nil)
	if err := cmd.Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) {
			if respErr.Code == imapv2.ResponseCodeAlreadyExists {
				if a.logger != nil {
					a.logger.Debug("imap mailbox already exists", "mailbox", target)
				}
				return nil
			}
		}
		return fmt.Errorf("ensure mailbox %s: %w", target, err)
	}

	if a.logger != nil {
		a.logger.Info("imap mailbox created", "mailbox", target)
	}

	return nil
}
