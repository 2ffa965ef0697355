package audit

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Structured data IDs (RFC5424). 32473 is the documentation PEN from RFC5612.
const (
	PEN          = 32473
	SDIDSubject  = "subject@32473"
	SDIDAction   = "action@32473"
	SDIDLocation = "location@32473"
)

const (
	FacilityAuthPriv = 10 // LOG_AUTHPRIV
)

// Severity levels matching syslog (RFC5424)
type Severity int

const (
	SeverityEmergency Severity = iota // 0
	SeverityAlert                     // 1
	SeverityCritical                  // 2
	SeverityError                     // 3
	SeverityWarning                   // 4
	SeverityNotice                    // 5
	SeverityInfo                      // 6
	SeverityDebug                     // 7
)

// Event represents an audit event
type Event interface {
	MessageID() string
	Message() string
	Severity() Severity
	Facility() int
	StructuredData() map[string]map[string]string
}

// Logger writes audit events in RFC5424 syslog format and, when a Store is
// attached, persists them. A nil *Logger discards every event.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	store    *Store
	errors   *zap.Logger
	hostname string
	appName  string
	pid      int
	now      func() time.Time
}

// NewLogger creates an audit logger writing to w.
func NewLogger(w io.Writer) *Logger {
	hostname, _ := os.Hostname()
	return &Logger{
		writer:   w,
		errors:   zap.NewNop(),
		hostname: hostname,
		appName:  "vaultsweep",
		pid:      os.Getpid(),
		now:      time.Now,
	}
}

// WithStore attaches database persistence. Save failures are reported to
// errLogger and never interrupt the caller.
func (l *Logger) WithStore(s *Store, errLogger *zap.Logger) *Logger {
	l.store = s
	if errLogger != nil {
		l.errors = errLogger
	}
	return l
}

// Close releases the attached store, if any.
func (l *Logger) Close() error {
	if l == nil || l.store == nil {
		return nil
	}
	return l.store.Close()
}

// Log writes an audit event.
// Format: <PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID SD MSG
func (l *Logger) Log(event Event) {
	if l == nil {
		return
	}
	pri := event.Facility()*8 + int(event.Severity())
	timestamp := l.now().UTC().Format("2006-01-02T15:04:05.000Z")

	sd := formatStructuredData(event.StructuredData())
	if sd == "" {
		sd = "-"
	}
	hostname := l.hostname
	if hostname == "" {
		hostname = "-"
	}

	line := fmt.Sprintf("<%d>1 %s %s %s %d %s %s %s\n",
		pri,
		timestamp,
		hostname,
		l.appName,
		l.pid,
		event.MessageID(),
		sd,
		event.Message(),
	)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer != nil {
		_, _ = io.WriteString(l.writer, line)
	}
	if l.store != nil {
		if err := l.store.Save(event, hostname, l.appName, l.pid); err != nil {
			l.errors.Warn("failed to persist audit event", zap.String("msgid", event.MessageID()), zap.Error(err))
		}
	}
}

// formatStructuredData renders [sdid k="v" ...] blocks with IDs and params
// in sorted order.
func formatStructuredData(sd map[string]map[string]string) string {
	if len(sd) == 0 {
		return ""
	}

	ids := make([]string, 0, len(sd))
	for id := range sd {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		params := sd[id]
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("[" + id)
		for _, k := range keys {
			b.WriteString(" " + k + "=" + escapeSDValue(params[k]))
		}
		b.WriteString("]")
	}
	return b.String()
}

// escapeSDValue escapes special characters per RFC5424 section 6.3.3
func escapeSDValue(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "]", "\\]")
	return "\"" + value + "\""
}
