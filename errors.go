package gosasshost

import (
	"fmt"
	"strings"
)

// Location is a zero-based (byte offset, line, column) position.
type Location struct {
	Offset int
	Line   int
	Column int
}

// Span is an optional source region attached to a diagnostic.
type Span struct {
	Text     string
	URL      string
	Start    Location
	End      *Location
	Context  string
	HasStart bool
}

// DiagnosticKind distinguishes the three non-fatal message kinds.
type DiagnosticKind int

const (
	KindWarning DiagnosticKind = iota
	KindDeprecation
	KindDebug
)

func (k DiagnosticKind) label() string {
	switch k {
	case KindWarning:
		return "warning"
	case KindDeprecation:
		return "deprecation warning"
	case KindDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// CompilerMessage is a non-fatal diagnostic produced during compilation
// (spec §3 Diagnostic).
type CompilerMessage struct {
	Kind  DiagnosticKind
	Text  string
	Span  *Span
	Trace string

	// DeprecationType is populated only when Kind == KindDeprecation; see
	// SPEC_FULL.md's supplemented-features section.
	DeprecationType string
}

func (m CompilerMessage) pretty() string {
	var b strings.Builder
	writeSpanPrefix(&b, m.Span)
	b.WriteString(m.Kind.label())
	b.WriteString(": ")
	b.WriteString(m.Text)
	writeSpanContext(&b, m.Span)
	writeIndentedTrace(&b, m.Trace)
	return b.String()
}

func writeSpanPrefix(b *strings.Builder, s *Span) {
	if s == nil || (!s.HasStart && s.URL == "") {
		return
	}
	file := s.URL
	if file == "" {
		file = "-"
	}
	fmt.Fprintf(b, "%s:%d:%d ", file, s.Start.Line+1, s.Start.Column+1)
}

// writeSpanContext appends the compiler-supplied source line the span
// points at, formatted as "<line> │ <text>" (spec §4.5's caret-underlined
// line), e.g. "6 │   @include reflexive-position(top, 12px)".
func writeSpanContext(b *strings.Builder, s *Span) {
	if s == nil || s.Context == "" {
		return
	}
	context := strings.TrimRight(s.Context, "\n")
	fmt.Fprintf(b, "\n%d │ %s", s.Start.Line+1, context)
}

func writeIndentedTrace(b *strings.Builder, trace string) {
	if trace == "" {
		return
	}
	for _, line := range strings.Split(trace, "\n") {
		b.WriteString("\n    ")
		b.WriteString(line)
	}
}

// CompilerError is the error the external compiler reported a failed
// compilation. It is an expected, non-fatal-to-the-Supervisor outcome
// (spec §7).
type CompilerError struct {
	Message     string
	Span        *Span
	Trace       string
	Diagnostics []CompilerMessage
}

func (e *CompilerError) Error() string {
	return e.Message
}

// Pretty renders the catalogue of preceding diagnostics followed by the
// error itself, per spec §4.5.
func (e *CompilerError) Pretty() string {
	var b strings.Builder
	for _, d := range e.Diagnostics {
		b.WriteString(d.pretty())
		b.WriteString("\n")
	}
	writeSpanPrefix(&b, e.Span)
	b.WriteString("Error: ")
	b.WriteString(e.Message)
	writeSpanContext(&b, e.Span)
	writeIndentedTrace(&b, e.Trace)
	return b.String()
}

// ProtocolError means the exchange with the child violated expectations.
// It always triggers a restart attempt (spec §7).
type ProtocolError struct {
	Reason string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %s", e.Reason, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

func newProtocolError(reason string) *ProtocolError {
	return &ProtocolError{Reason: reason}
}

func wrapProtocolError(reason string, cause error) *ProtocolError {
	return &ProtocolError{Reason: reason, Cause: cause}
}

// LifecycleError means the child could not be spawned/restarted, or a
// compile was attempted on a Broken Supervisor. Non-recoverable for the
// affected Supervisor (spec §7).
type LifecycleError struct {
	Reason string
	Cause  error
}

func (e *LifecycleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("lifecycle error: %s: %s", e.Reason, e.Cause)
	}
	return fmt.Sprintf("lifecycle error: %s", e.Reason)
}

func (e *LifecycleError) Unwrap() error { return e.Cause }

// ValueError means a host callback's return value failed a typed
// downcast (spec §7). It is surfaced to the compiler as the text of a
// function-call error response.
type ValueError struct {
	Reason string
}

func (e *ValueError) Error() string {
	return e.Reason
}
