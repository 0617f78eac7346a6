package locator

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for locator parsing.
// Every parse failure wraps ErrInvalidLocator plus one of the specific reasons.
var (
	// ErrInvalidLocator is wrapped by every error returned from Parse.
	ErrInvalidLocator = errors.New("locator: invalid broker locator")

	// ErrMissingSeparator is returned when the locator has no "://".
	ErrMissingSeparator = errors.New("locator: missing \"://\" separator")

	// ErrUnknownScheme is returned for schemes other than mqtt, mqtts, ws and wss.
	ErrUnknownScheme = errors.New("locator: unknown scheme")

	// ErrEmptyHost is returned when no host follows the scheme.
	ErrEmptyHost = errors.New("locator: host cannot be empty")

	// ErrUnbracketedHost is returned for an IPv6 host written without brackets.
	ErrUnbracketedHost = errors.New("locator: IPv6 host must be enclosed in brackets")

	// ErrInvalidPort is returned when the port is not an integer in 1-65535.
	ErrInvalidPort = errors.New("locator: port must be between 1 and 65535")
)

// ParseError describes why a locator was rejected. Locator holds the input
// with any credentials removed, so the error is safe to log.
type ParseError struct {
	Locator string
	Reason  error
	Detail  string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v: %q (%s)", e.Reason, e.Locator, e.Detail)
	}
	return fmt.Sprintf("%v: %q", e.Reason, e.Locator)
}

// Unwrap exposes both ErrInvalidLocator and the specific reason to errors.Is.
func (e *ParseError) Unwrap() []error {
	return []error{ErrInvalidLocator, e.Reason}
}

func parseError(locator string, reason error, detail string) error {
	return &ParseError{Locator: redact(locator), Reason: reason, Detail: detail}
}

// redact drops the "user:pass@" part of a locator's authority.
func redact(locator string) string {
	start := 0
	if idx := strings.Index(locator, schemeSeparator); idx >= 0 {
		start = idx + len(schemeSeparator)
	}
	authority := locator[start:]
	if slash := strings.IndexByte(authority, '/'); slash >= 0 {
		authority = authority[:slash]
	}
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		return locator[:start] + locator[start+at+1:]
	}
	return locator
}
