package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/yyyyyyyan/onesecmail/validator"
)

type fakeAPI struct {
	domains     []string
	random      []string
	list        []map[string]any
	full        map[int64]map[string]any
	attachments map[string][]byte

	listCalls int
	readCalls int
	lastLogin string
	failWith  int
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failWith != 0 {
			http.Error(w, "service unavailable", f.failWith)
			return
		}

		query := r.URL.Query()
		switch query.Get("action") {
		case "getDomainList":
			_ = json.NewEncoder(w).Encode(f.domains)
		case "genRandomMailbox":
			_ = json.NewEncoder(w).Encode(f.random)
		case "getMessages":
			f.listCalls++
			f.lastLogin = query.Get("login")
			_ = json.NewEncoder(w).Encode(f.list)
		case "readMessage":
			f.readCalls++
			id, err := strconv.ParseInt(query.Get("id"), 10, 64)
			if err != nil {
				http.Error(w, "bad id", http.StatusBadRequest)
				return
			}
			payload, ok := f.full[id]
			if !ok {
				http.Error(w, "Message not found", http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(payload)
		case "download":
			content, ok := f.attachments[query.Get("file")]
			if !ok {
				http.Error(w, "File not found", http.StatusNotFound)
				return
			}
			_, _ = w.Write(content)
		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func defaultFakeAPI() *fakeAPI {
	return &fakeAPI{
		domains: []string{"1secmail.com", "1secmail.net", "1secmail.org"},
		random:  []string{"k9dfg2@1secmail.net"},
		list: []map[string]any{
			{"id": 1, "from": "contact@x.tech", "subject": "Hi there", "date": "2021-06-25 23:49:12"},
			{"id": 2, "from": "noreply@shop.example", "subject": "Your order", "date": "2021-06-26 08:15:00"},
		},
		full: map[int64]map[string]any{
			1: {
				"id": 1, "from": "contact@x.tech", "subject": "Hi there",
				"date": "2021-06-25 23:49:12", "attachments": []map[string]any{},
				"body": "Hi!\n", "textBody": "Hi!\n", "htmlBody": "",
			},
			2: {
				"id": 2, "from": "noreply@shop.example", "subject": "Your order",
				"date": "2021-06-26 08:15:00",
				"attachments": []map[string]any{
					{"filename": "invoice.pdf", "contentType": "application/pdf", "size": 4},
				},
				"body": "See attached.\n", "textBody": "See attached.\n", "htmlBody": "",
			},
		},
		attachments: map[string][]byte{"invoice.pdf": []byte("%PDF")},
	}
}

func newTestMailbox(t *testing.T, api *fakeAPI) *Mailbox {
	t.Helper()
	srv := api.server(t)
	mb, err := New(context.Background(), "u", "1secmail.com", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return mb
}

func TestNew_ValidatesDomain(t *testing.T) {
	api := defaultFakeAPI()
	srv := api.server(t)

	mb, err := New(context.Background(), "u", "1secmail.com", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if mb.Address() != "u@1secmail.com" {
		t.Errorf("Address() = %q", mb.Address())
	}

	_, err = New(context.Background(), "u", "gmail.com", WithBaseURL(srv.URL))
	if !errors.Is(err, ErrDomainNotAllowed) {
		t.Errorf("New() with bad domain error = %v, want ErrDomainNotAllowed", err)
	}
}

func TestNew_SeededDomainsSkipFetch(t *testing.T) {
	// No server at all: the allow-list option must make New fully local.
	mb, err := New(context.Background(), "u", "example.test",
		WithBaseURL("http://127.0.0.1:0"),
		WithAvailableDomains([]string{"example.test"}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := mb.AvailableDomains(); len(got) != 1 || got[0] != "example.test" {
		t.Errorf("AvailableDomains() = %v", got)
	}
}

func TestFromAddress(t *testing.T) {
	api := defaultFakeAPI()
	srv := api.server(t)

	mb, err := FromAddress(context.Background(), "u@1secmail.net", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("FromAddress() error = %v", err)
	}
	if mb.User() != "u" || mb.Domain() != "1secmail.net" {
		t.Errorf("parsed address into %q @ %q", mb.User(), mb.Domain())
	}

	if _, err := FromAddress(context.Background(), "not-an-address", WithBaseURL(srv.URL)); err == nil {
		t.Error("expected error for malformed address")
	}
}

func TestGetRandom(t *testing.T) {
	api := defaultFakeAPI()
	srv := api.server(t)

	mb, err := GetRandom(context.Background(), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("GetRandom() error = %v", err)
	}
	if mb.Address() != "k9dfg2@1secmail.net" {
		t.Errorf("Address() = %q", mb.Address())
	}
}

func TestGenerateRandom(t *testing.T) {
	api := defaultFakeAPI()
	srv := api.server(t)

	mb, err := GenerateRandom(context.Background(), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("GenerateRandom() error = %v", err)
	}
	if len(mb.User()) != 32 {
		t.Errorf("generated user %q, want 32 hex characters", mb.User())
	}
	found := false
	for _, domain := range api.domains {
		if mb.Domain() == domain {
			found = true
		}
	}
	if !found {
		t.Errorf("generated domain %q is not in the allow-list", mb.Domain())
	}
}

func TestMessagePayloads_InjectsRecipient(t *testing.T) {
	api := defaultFakeAPI()
	mb := newTestMailbox(t, api)

	payloads, err := mb.MessagePayloads(context.Background())
	if err != nil {
		t.Fatalf("MessagePayloads() error = %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("got %d payloads, want 2", len(payloads))
	}
	for i, p := range payloads {
		if p.To == nil || *p.To != "u@1secmail.com" {
			t.Errorf("payload %d: to not injected", i)
		}
	}
	if api.lastLogin != "u" {
		t.Errorf("login param = %q, want %q", api.lastLogin, "u")
	}
}

func TestMessage(t *testing.T) {
	api := defaultFakeAPI()
	mb := newTestMailbox(t, api)

	msg, err := mb.Message(context.Background(), 1)
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}
	if msg.ID() != 1 || msg.FromAddress() != "contact@x.tech" {
		t.Errorf("id=%d from=%q", msg.ID(), msg.FromAddress())
	}
	if msg.ToAddress() != "u@1secmail.com" {
		t.Errorf("ToAddress() = %q, want recipient injected", msg.ToAddress())
	}
	if msg.Body != "Hi!\n" {
		t.Errorf("Body = %q", msg.Body)
	}
}

func TestMessages_FilterThenRefresh(t *testing.T) {
	api := defaultFakeAPI()
	mb := newTestMailbox(t, api)

	subject, err := validator.NewSubject("Your order")
	if err != nil {
		t.Fatal(err)
	}

	messages, err := mb.Messages(context.Background(), subject)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if messages[0].ID() != 2 {
		t.Errorf("kept message %d, want 2", messages[0].ID())
	}
	if messages[0].Body != "See attached.\n" {
		t.Errorf("message content not refreshed: Body = %q", messages[0].Body)
	}
	// The rejected message must never trigger a readMessage call.
	if api.readCalls != 1 {
		t.Errorf("readMessage called %d times, want 1", api.readCalls)
	}
}

func TestMessages_NoValidatorsReturnsAllRefreshed(t *testing.T) {
	api := defaultFakeAPI()
	mb := newTestMailbox(t, api)

	messages, err := mb.Messages(context.Background())
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	for _, msg := range messages {
		if msg.Body == "" {
			t.Errorf("message %d not refreshed", msg.ID())
		}
	}
	if api.readCalls != 2 {
		t.Errorf("readMessage called %d times, want 2", api.readCalls)
	}
}

func TestMessages_AlwaysRejectSkipsRefresh(t *testing.T) {
	api := defaultFakeAPI()
	mb := newTestMailbox(t, api)

	never, err := validator.NewSubject(`\Anope-never-matches\z`)
	if err != nil {
		t.Fatal(err)
	}

	messages, err := mb.Messages(context.Background(), never)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("got %d messages, want 0", len(messages))
	}
	if api.readCalls != 0 {
		t.Errorf("readMessage called %d times for rejected candidates, want 0", api.readCalls)
	}
}

func TestAttachmentContent(t *testing.T) {
	api := defaultFakeAPI()
	mb := newTestMailbox(t, api)

	content, err := mb.AttachmentContent(context.Background(), 2, "invoice.pdf")
	if err != nil {
		t.Fatalf("AttachmentContent() error = %v", err)
	}
	if string(content) != "%PDF" {
		t.Errorf("content = %q", content)
	}
}

func TestDownloadAttachment(t *testing.T) {
	api := defaultFakeAPI()
	mb := newTestMailbox(t, api)

	dest := filepath.Join(t.TempDir(), "invoice.pdf")
	path, size, err := mb.DownloadAttachment(context.Background(), 2, "invoice.pdf", dest)
	if err != nil {
		t.Fatalf("DownloadAttachment() error = %v", err)
	}
	if path != dest {
		t.Errorf("path = %q, want %q", path, dest)
	}
	if size != 4 {
		t.Errorf("size = %d, want 4", size)
	}

	written, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(written) != "%PDF" {
		t.Errorf("file content = %q", written)
	}
}

func TestRequest_SurfacesAPIError(t *testing.T) {
	api := defaultFakeAPI()
	mb := newTestMailbox(t, api)
	api.failWith = http.StatusInternalServerError

	_, err := mb.MessagePayloads(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}

	_, err = mb.Message(context.Background(), 1)
	if !errors.As(err, &apiErr) {
		t.Errorf("Message() error = %v, want *APIError", err)
	}
}

func TestMessagePayload_NotFound(t *testing.T) {
	api := defaultFakeAPI()
	mb := newTestMailbox(t, api)

	_, err := mb.MessagePayload(context.Background(), 404404)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
}
