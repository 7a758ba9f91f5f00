package ws

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// messageLog keeps the last frame sent and received for postmortem reports
type messageLog struct {
	mu           sync.RWMutex
	lastSent     string
	lastReceived string
}

func (l *messageLog) recordSent(text string) {
	text = truncate(text, maxLoggedText)
	l.mu.Lock()
	l.lastSent = text
	l.mu.Unlock()
}

func (l *messageLog) recordReceived(text string) {
	text = truncate(text, maxLoggedText)
	l.mu.Lock()
	l.lastReceived = text
	l.mu.Unlock()
}

func (l *messageLog) snapshot() (sent, received string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSent, l.lastReceived
}

// truncate cuts s to at most n characters without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// ErrorReport is the postmortem attached to every reported failure
type ErrorReport struct {
	Time         time.Time `json:"time" db:"reported_at"`
	Kind         string    `json:"kind" db:"kind"`
	Op           string    `json:"op" db:"op"`
	Message      string    `json:"message" db:"message"`
	Host         string    `json:"host" db:"host"`
	ConnID       string    `json:"conn_id,omitempty" db:"conn_id"`
	LastSent     string    `json:"last_sent" db:"last_sent"`
	LastReceived string    `json:"last_received" db:"last_received"`
	Causes       []string  `json:"causes" db:"-"`
	Stack        string    `json:"stack,omitempty" db:"stack"`
}

// String renders the report in the layout operators grep for
func (r *ErrorReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]: Unhandled WebSocket Error:%s\n", r.Time.Format(time.RFC3339Nano), r.Kind)
	fmt.Fprintf(&b, "Op: %s Host: %s Conn: %s\n", r.Op, r.Host, r.ConnID)
	fmt.Fprintf(&b, "LastSentText:\n%s\n", r.LastSent)
	fmt.Fprintf(&b, "LastReceivedText:\n%s\n", r.LastReceived)
	b.WriteString("Exception trace: \n")
	for i, cause := range r.Causes {
		fmt.Fprintf(&b, "  %d: %s\n", i, cause)
	}
	if r.Stack != "" {
		b.WriteString(r.Stack)
		if !strings.HasSuffix(r.Stack, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ReportSink receives error reports when the handler does not implement ErrorHandler
type ReportSink interface {
	WriteReport(r *ErrorReport) error
}

// LogSink writes reports as zerolog events
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) WriteReport(r *ErrorReport) error {
	s.Logger.Error().
		Str("kind", r.Kind).
		Str("op", r.Op).
		Str("host", r.Host).
		Str("conn_id", r.ConnID).
		Str("last_sent", r.LastSent).
		Str("last_received", r.LastReceived).
		Strs("causes", r.Causes).
		Str("stack", r.Stack).
		Msg(r.Message)
	return nil
}

// buildReport captures the message log, cause chain and a stack trace for err
func buildReport(kind Kind, op, host, connID string, err error, log *messageLog) *ErrorReport {
	sent, received := log.snapshot()
	report := &ErrorReport{
		Time:         time.Now(),
		Kind:         kind.String(),
		Op:           op,
		Host:         host,
		ConnID:       connID,
		LastSent:     sent,
		LastReceived: received,
	}
	if err == nil {
		return report
	}

	report.Message = err.Error()
	for cause := err; cause != nil; cause = errors.Unwrap(cause) {
		report.Causes = append(report.Causes, cause.Error())
	}
	report.Stack = fmt.Sprintf("%+v", stackOf(err))
	return report
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// stackOf returns the first stack recorded in err's chain, or records one here
func stackOf(err error) pkgerrors.StackTrace {
	var st stackTracer
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	return pkgerrors.WithStack(err).(stackTracer).StackTrace()
}

// panicError converts a recovered value into an error carrying the panic site stack
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return pkgerrors.WithStack(fmt.Errorf("panic: %w", err))
	}
	return pkgerrors.Errorf("panic: %v", r)
}

// lastResort is used when reporting itself fails
func lastResort(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ws: "+format+"\n", args...)
}
