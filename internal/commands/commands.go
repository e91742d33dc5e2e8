// Package commands recognizes slash commands that control a conversation
// rather than talk to the agent.
package commands

import "strings"

// Checker decides whether a message body is a control command.
type Checker struct {
	names map[string]bool
}

// NewChecker creates a Checker for the given command names, with or without
// the leading slash.
func NewChecker(names []string) *Checker {
	c := &Checker{names: make(map[string]bool, len(names))}
	for _, n := range names {
		n = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(n), "/"))
		if n != "" {
			c.names[n] = true
		}
	}
	return c
}

// IsControlCommand reports whether body starts with a known "/name", where
// name is followed by whitespace, ":" or the end of the body.
func (c *Checker) IsControlCommand(body string) bool {
	name, ok := Parse(body)
	return ok && c.names[name]
}

// Parse extracts the lower-cased command name from a "/name args" body.
func Parse(body string) (string, bool) {
	s := strings.TrimSpace(body)
	if !strings.HasPrefix(s, "/") {
		return "", false
	}
	s = s[1:]
	end := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ':'
	})
	if end >= 0 {
		s = s[:end]
	}
	if s == "" {
		return "", false
	}
	return strings.ToLower(s), true
}
