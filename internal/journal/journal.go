// Package journal reads entries from the systemd journal.
//
// The Journal interface is the two-phase protocol used by the monitor: Next
// returns an entry only when one is already available, Await blocks until a
// new entry is appended.
package journal

import (
	"context"
	"time"
)

// MessageField carries the human-readable text of an entry.
const MessageField = "MESSAGE"

// NoTimeout makes Await wait until an entry arrives.
const NoTimeout time.Duration = 0

// Record is one journal entry, keyed by field name.
type Record map[string]string

// Message returns the MESSAGE field.
func (r Record) Message() (string, bool) {
	msg, ok := r[MessageField]
	return msg, ok
}

// Options selects which journal files are opened.
type Options struct {
	LocalOnly     bool
	RuntimeOnly   bool
	AllNamespaces bool
}

// Journal is an open, positioned journal reader.
type Journal interface {
	// AddMatch restricts reading to entries where field equals value.
	AddMatch(field, value string) error
	// SeekTail moves past the most recent entry.
	SeekTail() error
	// StepToMostRecent moves back onto the most recent entry so that the
	// next read returns the first entry appended afterwards.
	StepToMostRecent() error
	// Next returns the next entry, or nil when none is available yet.
	Next() (Record, error)
	// Await blocks until an entry is available and returns it. It returns
	// nil when timeout elapses first; NoTimeout waits indefinitely.
	Await(ctx context.Context, timeout time.Duration) (Record, error)
	Close() error
}

// Opener opens a Journal.
type Opener func(Options) (Journal, error)
