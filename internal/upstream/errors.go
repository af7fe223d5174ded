package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/pharmalink/provider-sync/internal/tree"
)

// Error is a business failure reported by a provider.
type Error struct {
	Provider string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: upstream error: %s", e.Provider, e.Message)
}

// UnavailableError is a transport failure, timeout or open circuit.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: upstream unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// ErrEmptyResponse is returned when a provider answers with no body at all.
var ErrEmptyResponse = eris.New("upstream: empty response")

// unavailable wraps a transport failure. Cancellation by the caller is
// passed through untouched so runs stop instead of failing.
func unavailable(parent context.Context, provider string, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return parent.Err()
	}
	return &UnavailableError{Provider: provider, Err: err}
}

var messageKeys = []string{"mensaje", "message", "error.description", "error", "description", "Message", "Mensaje"}

// ExtractMessage pulls a human message out of an error payload. JSON text
// embedded in strings is decoded first.
func ExtractMessage(body tree.Node) string {
	switch v := body.(type) {
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
			var inner any
			if json.Unmarshal([]byte(s), &inner) == nil {
				if m := ExtractMessage(inner); m != "" {
					return m
				}
			}
		}
		return s
	case map[string]any:
		for _, k := range messageKeys {
			if s := tree.String(tree.Get(v, k)); s != "" {
				return s
			}
		}
		if data, ok := v["data"]; ok {
			return ExtractMessage(data)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return tree.String(v)
	}
}

// AuthMatcher decides whether an error is an authorization failure: an
// explicit 401 or a message matching one of the provider's known patterns.
type AuthMatcher struct {
	patterns []*regexp.Regexp
}

// NewAuthMatcher compiles the provider's message patterns.
func NewAuthMatcher(patterns []string) (*AuthMatcher, error) {
	m := &AuthMatcher{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "upstream: compile auth pattern %q", p)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// IsAuthFailure reports whether err should trigger a token refresh.
func (m *AuthMatcher) IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var ue *Error
	if errors.As(err, &ue) {
		if ue.Status == 401 {
			return true
		}
		return m.matches(ue.Message)
	}
	var une *UnavailableError
	if errors.As(err, &une) {
		return false
	}
	return m.matches(err.Error())
}

func (m *AuthMatcher) matches(msg string) bool {
	if m == nil || msg == "" {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}
