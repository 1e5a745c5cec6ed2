// Package validator provides composable boolean predicates over messages,
// used to filter a mailbox listing by sender, subject or date window.
package validator

import (
	"fmt"
	"regexp"
	"time"

	"github.com/yyyyyyyan/onesecmail/message"
)

// Validator is a pure boolean test over a message. Implementations hold no
// mutable state beyond their configuration and are safe to reuse across
// messages and goroutines.
type Validator interface {
	Validate(msg *message.Message) bool
}

// Apply evaluates validators in order as a logical AND, short-circuiting on
// the first failure. An empty validator list accepts every message.
func Apply(validators []Validator, msg *message.Message) bool {
	for _, v := range validators {
		if !v.Validate(msg) {
			return false
		}
	}
	return true
}

// compilePrefix compiles pattern anchored at the start of the input only, so
// matching asks "does the text start with a match" rather than requiring the
// whole string to match.
func compilePrefix(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`\A(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return re, nil
}

// Subject matches messages whose subject starts with a match for the
// configured pattern.
type Subject struct {
	re *regexp.Regexp
}

// NewSubject creates a Subject validator from a regular expression.
func NewSubject(pattern string) (*Subject, error) {
	re, err := compilePrefix(pattern)
	if err != nil {
		return nil, err
	}
	return &Subject{re: re}, nil
}

func (v *Subject) Validate(msg *message.Message) bool {
	return v.re.MatchString(msg.Subject)
}

// FromAddress matches messages whose sender address starts with a match for
// the configured pattern.
type FromAddress struct {
	re *regexp.Regexp
}

// NewFromAddress creates a FromAddress validator from a regular expression.
func NewFromAddress(pattern string) (*FromAddress, error) {
	re, err := compilePrefix(pattern)
	if err != nil {
		return nil, err
	}
	return &FromAddress{re: re}, nil
}

func (v *FromAddress) Validate(msg *message.Message) bool {
	return v.re.MatchString(msg.FromAddress())
}

// maxTimestamp is the far end of the representable time range, used when a
// date window has no upper bound.
var maxTimestamp = time.Unix(1<<62, 0)

// DateRange matches messages dated strictly between Min and Max. Both bounds
// are exclusive: a message dated exactly on a bound is rejected.
type DateRange struct {
	min time.Time
	max time.Time
}

// NewDateRange creates a DateRange validator. A zero min or max leaves that
// side of the window open.
func NewDateRange(min, max time.Time) *DateRange {
	if max.IsZero() {
		max = maxTimestamp
	}
	return &DateRange{min: min, max: max}
}

func (v *DateRange) Validate(msg *message.Message) bool {
	date := msg.Date()
	return date.After(v.min) && date.Before(v.max)
}
