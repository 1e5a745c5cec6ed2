// Package mailbox implements the HTTP client for the 1secmail disposable
// email service. A Mailbox is one email identity (user + domain) and also
// serves as the message.MailHandler the message entities refresh through.
package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yyyyyyyan/onesecmail/message"
	"github.com/yyyyyyyan/onesecmail/validator"
)

// DefaultAPIURL is the URL of the hosted 1secmail API.
const DefaultAPIURL = "https://www.1secmail.com/api/v1/"

// Version is reported in the default User-Agent header.
const Version = "1.0.0"

// ErrDomainNotAllowed reports a mailbox domain that is not listed in the
// service's available domains.
var ErrDomainNotAllowed = errors.New("domain is not allowed")

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api responded with status %d: %s", e.StatusCode, e.Body)
}

// Option configures a Mailbox.
type Option func(*options)

type options struct {
	httpClient       *http.Client
	baseURL          string
	userAgent        string
	availableDomains []string
	dateOffset       string
}

func defaultOptions() options {
	return options{
		httpClient: http.DefaultClient,
		baseURL:    DefaultAPIURL,
		userAgent:  "onesecmail/" + Version,
		dateOffset: message.DefaultDateOffset,
	}
}

// WithHTTPClient sets the http.Client used for all requests. Callers impose
// timeouts and retries here; the mailbox itself performs none.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithBaseURL overrides the API endpoint, e.g. for a self-hosted deployment.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

// WithUserAgent overrides the User-Agent header sent with every request.
func WithUserAgent(userAgent string) Option {
	return func(o *options) {
		o.userAgent = userAgent
	}
}

// WithAvailableDomains seeds the domain allow-list, skipping the
// getDomainList call the constructor would otherwise make.
func WithAvailableDomains(domains []string) Option {
	return func(o *options) {
		o.availableDomains = domains
	}
}

// WithDateOffset sets the UTC offset applied when parsing message dates.
// Generalized deployments that report UTC wall-clock time pass "+0000".
func WithDateOffset(offset string) Option {
	return func(o *options) {
		o.dateOffset = offset
	}
}

// Mailbox is one disposable email identity at the 1secmail service. It is
// safe for concurrent use.
type Mailbox struct {
	user             string
	domain           string
	availableDomains []string

	httpClient *http.Client
	baseURL    string
	userAgent  string
	dateOffset string
}

// New creates a Mailbox for user@domain. The domain must belong to the
// service's available domains; the list is fetched unless seeded with
// WithAvailableDomains.
func New(ctx context.Context, user, domain string, opts ...Option) (*Mailbox, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.availableDomains == nil {
		domains, err := fetchDomains(ctx, o)
		if err != nil {
			return nil, err
		}
		o.availableDomains = domains
	}

	if !slices.Contains(o.availableDomains, domain) {
		return nil, fmt.Errorf("%q: %w", domain, ErrDomainNotAllowed)
	}

	return &Mailbox{
		user:             user,
		domain:           domain,
		availableDomains: o.availableDomains,
		httpClient:       o.httpClient,
		baseURL:          o.baseURL,
		userAgent:        o.userAgent,
		dateOffset:       o.dateOffset,
	}, nil
}

// FromAddress creates a Mailbox from a user@domain address.
func FromAddress(ctx context.Context, address string, opts ...Option) (*Mailbox, error) {
	user, domain, ok := strings.Cut(address, "@")
	if !ok {
		return nil, fmt.Errorf("address %q is not of the form user@domain", address)
	}
	return New(ctx, user, domain, opts...)
}

// GetRandom creates a Mailbox with an address generated remotely by the
// service's genRandomMailbox action.
func GetRandom(ctx context.Context, opts ...Option) (*Mailbox, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	body, err := get(ctx, o, url.Values{"action": {"genRandomMailbox"}})
	if err != nil {
		return nil, err
	}

	var addresses []string
	if err := json.Unmarshal(body, &addresses); err != nil {
		return nil, fmt.Errorf("decode random mailbox response: %w", err)
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("random mailbox response is empty")
	}
	return FromAddress(ctx, addresses[0], opts...)
}

// GenerateRandom creates a Mailbox with a locally generated random user and
// a random domain from the service's available domains.
func GenerateRandom(ctx context.Context, opts ...Option) (*Mailbox, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	domains := o.availableDomains
	if domains == nil {
		var err error
		domains, err = fetchDomains(ctx, o)
		if err != nil {
			return nil, err
		}
	}
	if len(domains) == 0 {
		return nil, fmt.Errorf("no available domains")
	}

	user := strings.ReplaceAll(uuid.NewString(), "-", "")
	domain := domains[rand.IntN(len(domains))]
	return New(ctx, user, domain, append(opts, WithAvailableDomains(domains))...)
}

// FetchAvailableDomains returns the service's current list of domains a
// mailbox address may use.
func FetchAvailableDomains(ctx context.Context, opts ...Option) ([]string, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return fetchDomains(ctx, o)
}

func fetchDomains(ctx context.Context, o options) ([]string, error) {
	body, err := get(ctx, o, url.Values{"action": {"getDomainList"}})
	if err != nil {
		return nil, err
	}

	var domains []string
	if err := json.Unmarshal(body, &domains); err != nil {
		return nil, fmt.Errorf("decode domain list response: %w", err)
	}
	return domains, nil
}

// User returns the part of the address before the "@".
func (m *Mailbox) User() string {
	return m.user
}

// Domain returns the mailbox domain.
func (m *Mailbox) Domain() string {
	return m.domain
}

// Address returns the mailbox email address.
func (m *Mailbox) Address() string {
	return m.user + "@" + m.domain
}

// AvailableDomains returns the domain allow-list the mailbox was validated
// against.
func (m *Mailbox) AvailableDomains() []string {
	return slices.Clone(m.availableDomains)
}

func (m *Mailbox) String() string {
	return fmt.Sprintf("<Mailbox [%s]>", m.Address())
}

// request performs an API action scoped to this mailbox's login and domain.
func (m *Mailbox) request(ctx context.Context, action string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("action", action)
	params.Set("login", m.user)
	params.Set("domain", m.domain)

	o := options{httpClient: m.httpClient, baseURL: m.baseURL, userAgent: m.userAgent}
	return get(ctx, o, params)
}

func get(ctx context.Context, o options, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", o.userAgent)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", params.Get("action"), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", params.Get("action"), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// MessagePayloads lists the mailbox's messages as raw payloads. The list
// endpoint returns summaries without body fields; it also omits "to", which
// is injected here with the mailbox's own address.
func (m *Mailbox) MessagePayloads(ctx context.Context) ([]message.Payload, error) {
	body, err := m.request(ctx, "getMessages", nil)
	if err != nil {
		return nil, err
	}

	var payloads []message.Payload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}

	address := m.Address()
	for i := range payloads {
		payloads[i].To = &address
	}
	return payloads, nil
}

// MessagePayload returns the full raw payload of one message, with "to"
// injected. It implements message.MailHandler.
func (m *Mailbox) MessagePayload(ctx context.Context, id int64) (message.Payload, error) {
	body, err := m.request(ctx, "readMessage", url.Values{"id": {strconv.FormatInt(id, 10)}})
	if err != nil {
		return message.Payload{}, err
	}

	var payload message.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return message.Payload{}, fmt.Errorf("decode message %d response: %w", id, err)
	}

	address := m.Address()
	payload.To = &address
	return payload, nil
}

// Message fetches one message by id, fully populated.
func (m *Mailbox) Message(ctx context.Context, id int64) (*message.Message, error) {
	payload, err := m.MessagePayload(ctx, id)
	if err != nil {
		return nil, err
	}
	return message.FromPayload(payload, message.WithMailHandler(m), message.WithDateOffset(m.dateOffset))
}

// Messages lists the mailbox and returns the messages passing every
// validator, in their original order, each with its full content fetched.
// Validators run on the cheap list summaries first; the readMessage call
// only happens for messages that passed all of them.
func (m *Mailbox) Messages(ctx context.Context, validators ...validator.Validator) ([]*message.Message, error) {
	payloads, err := m.MessagePayloads(ctx)
	if err != nil {
		return nil, err
	}

	messages := make([]*message.Message, 0, len(payloads))
	for i := range payloads {
		msg, err := message.FromPayload(payloads[i], message.WithMailHandler(m), message.WithDateOffset(m.dateOffset))
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		if !validator.Apply(validators, msg) {
			continue
		}
		if err := msg.FetchContent(ctx, nil); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// AttachmentContent returns the content of one attachment. It implements
// message.MailHandler.
func (m *Mailbox) AttachmentContent(ctx context.Context, id int64, filename string) ([]byte, error) {
	return m.request(ctx, "download", url.Values{
		"id":   {strconv.FormatInt(id, 10)},
		"file": {filename},
	})
}

// DownloadAttachment saves one attachment to path and returns the path
// alongside the number of bytes written. It implements message.MailHandler.
func (m *Mailbox) DownloadAttachment(ctx context.Context, id int64, filename, path string) (string, int64, error) {
	content, err := m.AttachmentContent(ctx, id, filename)
	if err != nil {
		return "", 0, err
	}

	file, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", path, err)
	}

	n, writeErr := file.Write(content)
	closeErr := file.Close()
	if writeErr != nil {
		return "", 0, fmt.Errorf("write %s: %w", path, writeErr)
	}
	if closeErr != nil {
		return "", 0, fmt.Errorf("close %s: %w", path, closeErr)
	}
	return path, int64(n), nil
}
