package audit

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func fixedLogger(buf *bytes.Buffer) *Logger {
	l := NewLogger(buf)
	l.hostname = "build-01"
	l.pid = 42
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return l
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := fixedLogger(&buf)

	logger.Log(SecretStoreEvent{
		Path:    "secret/windsurf-projects/myproj/api_key",
		Key:     "config__env_api",
		File:    "config/.env",
		Line:    3,
		Type:    "api_key",
		Success: true,
	})

	want := `<86>1 2024-05-01T12:00:00.000Z build-01 vaultsweep 42 secret-store ` +
		`[action@32473 operation="store" result="success"]` +
		`[location@32473 file="config/.env" line="3"]` +
		`[subject@32473 key="config__env_api" path="secret/windsurf-projects/myproj/api_key" type="api_key"] ` +
		`stored api_key secret secret/windsurf-projects/myproj/api_key:config__env_api from config/.env:3` + "\n"
	if got := buf.String(); got != want {
		t.Errorf("Log() =\n%q\nwant\n%q", got, want)
	}
}

func TestNilLogger(t *testing.T) {
	var logger *Logger
	logger.Log(FileRewriteEvent{File: "x"})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestEvents(t *testing.T) {
	tests := []struct {
		name      string
		event     Event
		wantMsg   string
		wantSev   Severity
		wantMsgID string
	}{
		{
			name:      "stored",
			event:     SecretStoreEvent{Path: "p", Key: "k", File: "f", Line: 1, Type: "token", Success: true},
			wantMsg:   "stored token secret p:k",
			wantSev:   SeverityInfo,
			wantMsgID: "secret-store",
		},
		{
			name:      "store failed",
			event:     SecretStoreEvent{Path: "p", Key: "k", ErrorMessage: "permission denied"},
			wantMsg:   "failed to store",
			wantSev:   SeverityError,
			wantMsgID: "secret-store",
		},
		{
			name:      "rewritten",
			event:     FileRewriteEvent{File: ".env", Backup: ".env.bak", Replaced: 2, Success: true},
			wantMsg:   "replaced 2 secrets in .env",
			wantSev:   SeverityNotice,
			wantMsgID: "file-rewrite",
		},
		{
			name:      "rewrite failed",
			event:     FileRewriteEvent{File: ".env", ErrorMessage: "content changed since scan"},
			wantMsg:   "failed to rewrite .env: content changed since scan",
			wantSev:   SeverityError,
			wantMsgID: "file-rewrite",
		},
		{
			name:      "valid reference",
			event:     ReferenceCheckEvent{File: "app.yml", Path: "p", Key: "k", Valid: true},
			wantMsg:   "is valid",
			wantSev:   SeverityInfo,
			wantMsgID: "reference-check",
		},
		{
			name:      "invalid reference",
			event:     ReferenceCheckEvent{File: "app.yml", Path: "p", Key: "k", ErrorMessage: "not found"},
			wantMsg:   "is invalid: not found",
			wantSev:   SeverityWarning,
			wantMsgID: "reference-check",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.event.Message(), tt.wantMsg) {
				t.Errorf("Message() = %q, want to contain %q", tt.event.Message(), tt.wantMsg)
			}
			if tt.event.Severity() != tt.wantSev {
				t.Errorf("Severity() = %v, want %v", tt.event.Severity(), tt.wantSev)
			}
			if tt.event.Facility() != FacilityAuthPriv {
				t.Errorf("Facility() = %v, want %v", tt.event.Facility(), FacilityAuthPriv)
			}
			if tt.event.MessageID() != tt.wantMsgID {
				t.Errorf("MessageID() = %v, want %v", tt.event.MessageID(), tt.wantMsgID)
			}
		})
	}
}

func TestFileRewriteEventBackup(t *testing.T) {
	sd := FileRewriteEvent{File: "a"}.StructuredData()
	if _, ok := sd[SDIDLocation]["backup"]; ok {
		t.Error("expected no backup param when Backup is empty")
	}
	sd = FileRewriteEvent{File: "a", Backup: "a.bak"}.StructuredData()
	if sd[SDIDLocation]["backup"] != "a.bak" {
		t.Errorf("backup = %q, want a.bak", sd[SDIDLocation]["backup"])
	}
}

func TestEscapeSDValue(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"simple", `"simple"`},
		{`with"quote`, `"with\"quote"`},
		{`with\backslash`, `"with\\backslash"`},
		{"with]bracket", `"with\]bracket"`},
	}

	for _, tt := range tests {
		if got := escapeSDValue(tt.input); got != tt.want {
			t.Errorf("escapeSDValue(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatStructuredDataEmpty(t *testing.T) {
	if got := formatStructuredData(nil); got != "" {
		t.Errorf("formatStructuredData(nil) = %q, want empty", got)
	}
}
