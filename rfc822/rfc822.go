// Package rfc822 renders a fetched message back into an RFC 822 byte
// stream, as needed for IMAP append and mbox export. It is a renderer only;
// parsing stays with the service's JSON payloads.
package rfc822

import (
	"bytes"
	"fmt"
	"time"

	"github.com/yyyyyyyan/onesecmail/message"
)

// Render serializes msg with CRLF line endings. The best available body is
// chosen in order: text body, generic body, HTML body.
func Render(msg *message.Message) []byte {
	body := msg.TextBody
	contentType := "text/plain; charset=utf-8"
	if body == "" {
		body = msg.Body
	}
	if body == "" && msg.HTMLBody != "" {
		body = msg.HTMLBody
		contentType = "text/html; charset=utf-8"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", msg.FromAddress())
	fmt.Fprintf(&buf, "To: %s\r\n", msg.ToAddress())
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", msg.Date().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-Id: <%d@1secmail>\r\n", msg.ID())
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: %s\r\n", contentType)
	buf.WriteString("\r\n")
	buf.WriteString(normalizeCRLF(body))
	if !bytes.HasSuffix(buf.Bytes(), []byte("\r\n")) {
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

func normalizeCRLF(s string) string {
	var buf bytes.Buffer
	buf.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' && (i == 0 || s[i-1] != '\r') {
			buf.WriteString("\r\n")
			continue
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
