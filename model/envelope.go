package model

import "github.com/yyyyyyyan/onesecmail/message"

// Envelope wraps a fetched message alongside an optional error encountered
// while polling the mailbox.
type Envelope struct {
	Message *message.Message
	Err     error
}
