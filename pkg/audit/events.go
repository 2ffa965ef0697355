package audit

import (
	"fmt"
	"strconv"
)

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func withError(msg, errMsg string) string {
	if errMsg != "" {
		return msg + ": " + errMsg
	}
	return msg
}

// SecretStoreEvent records one put against the secret store. The value is
// never part of the event.
type SecretStoreEvent struct {
	Path         string
	Key          string
	File         string
	Line         int
	Type         string
	Success      bool
	ErrorMessage string
}

func (e SecretStoreEvent) MessageID() string {
	return "secret-store"
}

func (e SecretStoreEvent) Message() string {
	if e.Success {
		return fmt.Sprintf("stored %s secret %s:%s from %s:%d", e.Type, e.Path, e.Key, e.File, e.Line)
	}
	return withError(fmt.Sprintf("failed to store %s secret %s:%s from %s:%d", e.Type, e.Path, e.Key, e.File, e.Line), e.ErrorMessage)
}

func (e SecretStoreEvent) Severity() Severity {
	if e.Success {
		return SeverityInfo
	}
	return SeverityError
}

func (e SecretStoreEvent) Facility() int {
	return FacilityAuthPriv
}

func (e SecretStoreEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDSubject: {
			"path": e.Path,
			"key":  e.Key,
			"type": e.Type,
		},
		SDIDLocation: {
			"file": e.File,
			"line": strconv.Itoa(e.Line),
		},
		SDIDAction: {
			"operation": "store",
			"result":    result(e.Success),
		},
	}
}

// FileRewriteEvent records the outcome of rewriting one file.
type FileRewriteEvent struct {
	File         string
	Backup       string
	Replaced     int
	Success      bool
	ErrorMessage string
}

func (e FileRewriteEvent) MessageID() string {
	return "file-rewrite"
}

func (e FileRewriteEvent) Message() string {
	if e.Success {
		return fmt.Sprintf("replaced %d secrets in %s (backup %s)", e.Replaced, e.File, e.Backup)
	}
	return withError(fmt.Sprintf("failed to rewrite %s", e.File), e.ErrorMessage)
}

func (e FileRewriteEvent) Severity() Severity {
	if e.Success {
		return SeverityNotice
	}
	return SeverityError
}

func (e FileRewriteEvent) Facility() int {
	return FacilityAuthPriv
}

func (e FileRewriteEvent) StructuredData() map[string]map[string]string {
	sd := map[string]map[string]string{
		SDIDLocation: {
			"file": e.File,
		},
		SDIDAction: {
			"operation": "rewrite",
			"result":    result(e.Success),
			"replaced":  strconv.Itoa(e.Replaced),
		},
	}
	if e.Backup != "" {
		sd[SDIDLocation]["backup"] = e.Backup
	}
	return sd
}

// ReferenceCheckEvent records the validation of one reference token.
type ReferenceCheckEvent struct {
	File         string
	Path         string
	Key          string
	Valid        bool
	ErrorMessage string
}

func (e ReferenceCheckEvent) MessageID() string {
	return "reference-check"
}

func (e ReferenceCheckEvent) Message() string {
	if e.Valid {
		return fmt.Sprintf("reference %s:%s in %s is valid", e.Path, e.Key, e.File)
	}
	return withError(fmt.Sprintf("reference %s:%s in %s is invalid", e.Path, e.Key, e.File), e.ErrorMessage)
}

func (e ReferenceCheckEvent) Severity() Severity {
	if e.Valid {
		return SeverityInfo
	}
	return SeverityWarning
}

func (e ReferenceCheckEvent) Facility() int {
	return FacilityAuthPriv
}

func (e ReferenceCheckEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDSubject: {
			"path": e.Path,
			"key":  e.Key,
		},
		SDIDLocation: {
			"file": e.File,
		},
		SDIDAction: {
			"operation": "check",
			"result":    result(e.Valid),
		},
	}
}
