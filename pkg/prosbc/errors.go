package prosbc

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies appliance-driver failures. Callers branch on the kind, not
// on error text; the original text is preserved for diagnostics.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota

	// KindNotFound indicates the named appliance, configuration or file does
	// not exist.
	KindNotFound

	// KindAuthFailed indicates the appliance rejected the credentials.
	KindAuthFailed

	// KindSessionExpired indicates a call observed the login page mid-session.
	// Recovery: evict the session and retry at most once.
	KindSessionExpired

	// KindConfigSelectionFailed indicates config selection could not be
	// validated even after the file-db probe was exhausted.
	KindConfigSelectionFailed

	// KindConflict indicates the appliance reported the file name as taken.
	KindConflict

	// KindVerificationFailed indicates the appliance reported success but the
	// re-exported content did not match what was uploaded.
	KindVerificationFailed

	// KindUpstreamUnavailable indicates a network-level failure (DNS,
	// connect, reset).
	KindUpstreamUnavailable

	// KindProtocolError indicates an unexpected redirect chain or HTML shape,
	// notably the login redirect loop. Callers must not blindly retry login.
	KindProtocolError

	// KindTimeout indicates the caller's deadline expired.
	KindTimeout

	// KindUpstreamError is the catch-all for non-2xx responses, carrying a
	// bounded response snippet.
	KindUpstreamError
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAuthFailed:
		return "AuthFailed"
	case KindSessionExpired:
		return "SessionExpired"
	case KindConfigSelectionFailed:
		return "ConfigSelectionFailed"
	case KindConflict:
		return "Conflict"
	case KindVerificationFailed:
		return "VerificationFailed"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	case KindProtocolError:
		return "ProtocolError"
	case KindTimeout:
		return "Timeout"
	case KindUpstreamError:
		return "UpstreamError"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// OpError is the error type returned by every appliance operation.
type OpError struct {
	Kind      Kind
	Appliance string // appliance id
	Op        string // e.g. "login", "list", "upload"
	Message   string
	Snippet   string // bounded, HTML-stripped response excerpt
	Err       error  // underlying cause, if any
}

// Error implements the error interface.
func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Appliance != "" {
		fmt.Fprintf(&b, " [%s]", e.Appliance)
	}
	if e.Op != "" {
		fmt.Fprintf(&b, " %s", e.Op)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Snippet != "" {
		fmt.Fprintf(&b, " (%s)", e.Snippet)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from an error chain; KindUnknown when the chain
// holds no OpError.
func KindOf(err error) Kind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain carries an OpError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// opErr builds an OpError with a formatted message.
func opErr(kind Kind, appliance, op, format string, args ...any) *OpError {
	return &OpError{Kind: kind, Appliance: appliance, Op: op, Message: fmt.Sprintf(format, args...)}
}

// ErrorClass is the coarse per-appliance error category reported by fan-out
// result vectors.
type ErrorClass string

const (
	ClassConnection     ErrorClass = "connection"
	ClassAuthentication ErrorClass = "authentication"
	ClassInitialization ErrorClass = "initialization"
	ClassTimeout        ErrorClass = "timeout"
	ClassUnknown        ErrorClass = "unknown"
)

// Classify maps an error to its fan-out category. Structured kinds are mapped
// first; the substring rules below cover text from lower layers and are
// load-bearing (they match the messages the appliance stack actually emits).
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	switch KindOf(err) {
	case KindTimeout:
		return ClassTimeout
	case KindUpstreamUnavailable:
		return ClassConnection
	case KindAuthFailed, KindSessionExpired:
		return ClassAuthentication
	case KindConfigSelectionFailed:
		return ClassInitialization
	}
	return classifyText(err.Error())
}

func classifyText(text string) ErrorClass {
	switch {
	case strings.Contains(text, "socket hang up"),
		strings.Contains(text, "ECONNREFUSED"),
		strings.Contains(text, "Failed to fetch"),
		strings.Contains(text, "connection refused"):
		return ClassConnection
	case strings.Contains(text, "authenticity_token"),
		strings.Contains(text, "login page"):
		return ClassAuthentication
	case strings.Contains(strings.ToLower(text), "timeout"):
		return ClassTimeout
	case strings.Contains(text, "before initialization"),
		strings.Contains(text, "hasRoutesetSection"):
		return ClassInitialization
	default:
		return ClassUnknown
	}
}

// snippetLimit bounds response excerpts attached to errors.
const snippetLimit = 200

var (
	scriptTagRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
	spaceRunRe  = regexp.MustCompile(`\s+`)
)

// Snippet reduces a response body to a bounded, HTML-stripped excerpt safe to
// attach to errors and logs.
func Snippet(body string) string {
	s := scriptTagRe.ReplaceAllString(body, "")
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(spaceRunRe.ReplaceAllString(s, " "))
	if len(s) > snippetLimit {
		s = s[:snippetLimit]
	}
	return s
}
