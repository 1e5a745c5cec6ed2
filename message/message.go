// Package message models a single email held by a 1secmail disposable
// mailbox. Messages are built from the raw JSON payloads returned by the
// service and can lazily refresh their content through an injected
// MailHandler.
package message

import (
	"context"
	"fmt"
	"time"
)

// DefaultDateOffset is the UTC offset appended to the service's zone-less
// date strings. The hosted 1secmail service reports wall-clock time in
// UTC+02:00.
const DefaultDateOffset = "+0200"

// dateLayout matches the service's "YYYY-MM-DD HH:MM:SS" date strings with
// the offset already appended.
const dateLayout = "2006-01-02 15:04:05-0700"

// Attachment describes one attachment of a message, without its content.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Payload is the raw message shape at the JSON boundary with the service.
// Optional fields are pointers (or a nil slice) so an absent key can be told
// apart from a present-but-empty value; FetchContent relies on this to keep
// current values for fields a partial payload does not carry.
//
// The "to" key is injected by the caller: the service's list and read
// endpoints do not return it consistently.
type Payload struct {
	ID          *int64       `json:"id"`
	From        *string      `json:"from"`
	To          *string      `json:"to"`
	Subject     *string      `json:"subject"`
	Date        *string      `json:"date"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Body        *string      `json:"body,omitempty"`
	TextBody    *string      `json:"textBody,omitempty"`
	HTMLBody    *string      `json:"htmlBody,omitempty"`
}

// MailHandler is the transport collaborator a Message delegates to for lazy
// content refresh and attachment retrieval. It is implemented by
// mailbox.Mailbox.
type MailHandler interface {
	MessagePayload(ctx context.Context, id int64) (Payload, error)
	AttachmentContent(ctx context.Context, id int64, filename string) ([]byte, error)
	DownloadAttachment(ctx context.Context, id int64, filename, path string) (string, int64, error)
}

// Message represents one email. The identity fields (id, sender, recipient,
// date) are set exactly once at construction; the content fields start empty
// when built from a list payload and are filled in by FetchContent.
type Message struct {
	id          int64
	fromAddress string
	toAddress   string
	date        time.Time

	Subject     string
	Body        string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment

	handler MailHandler
}

// Option configures a Message during construction.
type Option func(*options)

type options struct {
	handler    MailHandler
	dateOffset string
}

// WithMailHandler injects the transport collaborator used for lazy refresh
// and attachment retrieval. The Message does not own the handler.
func WithMailHandler(h MailHandler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// WithDateOffset overrides the UTC offset appended to the payload's
// zone-less date string, e.g. "+0000". Defaults to DefaultDateOffset.
func WithDateOffset(offset string) Option {
	return func(o *options) {
		o.dateOffset = offset
	}
}

// FromPayload builds a Message from a raw payload. The id, from, to, subject
// and date keys are required; attachments and the body variants default to
// empty when absent.
func FromPayload(p Payload, opts ...Option) (*Message, error) {
	o := options{dateOffset: DefaultDateOffset}
	for _, opt := range opts {
		opt(&o)
	}

	switch {
	case p.ID == nil:
		return nil, &MissingFieldError{Field: "id"}
	case p.From == nil:
		return nil, &MissingFieldError{Field: "from"}
	case p.To == nil:
		return nil, &MissingFieldError{Field: "to"}
	case p.Subject == nil:
		return nil, &MissingFieldError{Field: "subject"}
	case p.Date == nil:
		return nil, &MissingFieldError{Field: "date"}
	}

	date, err := time.Parse(dateLayout, *p.Date+o.dateOffset)
	if err != nil {
		return nil, &DateParseError{Value: *p.Date, Err: err}
	}

	msg := &Message{
		id:          *p.ID,
		fromAddress: *p.From,
		toAddress:   *p.To,
		date:        date,
		Subject:     *p.Subject,
		handler:     o.handler,
	}
	msg.merge(p)
	return msg, nil
}

// ID returns the message identifier assigned by the service.
func (m *Message) ID() int64 {
	return m.id
}

// FromAddress returns the sender's email address.
func (m *Message) FromAddress() string {
	return m.fromAddress
}

// ToAddress returns the recipient's email address.
func (m *Message) ToAddress() string {
	return m.toAddress
}

// Date returns the message's zone-aware timestamp.
func (m *Message) Date() time.Time {
	return m.date
}

func (m *Message) String() string {
	subject := m.Subject
	if runes := []rune(subject); len(runes) > 27 {
		subject = string(runes[:27]) + "..."
	}
	return fmt.Sprintf("<Message; from=%q, subject=%q, date=%q>",
		m.fromAddress, subject, m.date.Format("2006-01-02 15:04:05-07:00"))
}

// FetchContent populates the message's content fields. With a payload it
// merge-updates subject, body, textBody, htmlBody and attachments, keeping
// the current value for any field the payload does not carry. With nil it
// fetches the full payload through the injected handler; a handler-less
// Message fails with ErrNoHandler.
//
// The identity fields are never changed.
func (m *Message) FetchContent(ctx context.Context, p *Payload) error {
	if p == nil {
		if m.handler == nil {
			return ErrNoHandler
		}
		full, err := m.handler.MessagePayload(ctx, m.id)
		if err != nil {
			return fmt.Errorf("fetch message %d: %w", m.id, err)
		}
		return m.FetchContent(ctx, &full)
	}

	m.merge(*p)
	return nil
}

func (m *Message) merge(p Payload) {
	if p.Subject != nil {
		m.Subject = *p.Subject
	}
	if p.Body != nil {
		m.Body = *p.Body
	}
	if p.TextBody != nil {
		m.TextBody = *p.TextBody
	}
	if p.HTMLBody != nil {
		m.HTMLBody = *p.HTMLBody
	}
	if p.Attachments != nil {
		m.Attachments = p.Attachments
	}
}

// AttachmentContent returns the content of the named attachment, fetched
// through the injected handler.
func (m *Message) AttachmentContent(ctx context.Context, filename string) ([]byte, error) {
	if m.handler == nil {
		return nil, ErrNoHandler
	}
	return m.handler.AttachmentContent(ctx, m.id, filename)
}

// DownloadAttachment saves the named attachment to path and returns the path
// alongside the number of bytes written.
func (m *Message) DownloadAttachment(ctx context.Context, filename, path string) (string, int64, error) {
	if m.handler == nil {
		return "", 0, ErrNoHandler
	}
	return m.handler.DownloadAttachment(ctx, m.id, filename, path)
}
