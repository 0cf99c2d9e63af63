// Package prompt asks the user to pick among named choices and surfaces
// messages that must reach a human rather than only the log.
package prompt

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Severity classifies a user-visible message.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns a human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Prompter presents choices and messages to the user.
type Prompter interface {
	// Ask returns the chosen label, or "" when the prompt was dismissed.
	Ask(ctx context.Context, message string, choices ...string) (string, error)
	// Notify shows a message without waiting for an answer.
	Notify(ctx context.Context, severity Severity, message string)
}

// Message is a notification captured by Static.
type Message struct {
	Severity Severity
	Text     string
}

// Static answers every prompt with a fixed label and records notifications.
// It backs non-interactive runs (no TTY or --yes) and tests.
type Static struct {
	// Answer is returned when it is one of the offered choices; otherwise
	// the prompt counts as dismissed.
	Answer string
	// Out, when set, also receives each notification as a line.
	Out io.Writer

	mu       sync.Mutex
	asked    []string
	messages []Message
}

// Ask implements Prompter.
func (s *Static) Ask(ctx context.Context, message string, choices ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.asked = append(s.asked, message)
	s.mu.Unlock()
	for _, c := range choices {
		if c == s.Answer {
			return c, nil
		}
	}
	return "", nil
}

// Notify implements Prompter.
func (s *Static) Notify(_ context.Context, severity Severity, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Severity: severity, Text: message})
	if s.Out != nil {
		fmt.Fprintf(s.Out, "%s: %s\n", severity, message)
	}
}

// Asked lists the questions posed so far.
func (s *Static) Asked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.asked))
	copy(out, s.asked)
	return out
}

// Messages lists the notifications recorded so far.
func (s *Static) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}
