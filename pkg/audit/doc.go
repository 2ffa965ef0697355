// Package audit records security-relevant actions of a run.
//
// Every secret written to the store, every file rewritten and every
// reference checked produces one event. Events are written as RFC5424
// syslog lines and, when AUDIT_DATABASE_URL is set, inserted into
// Postgres as well.
//
//	logger := audit.NewLogger(os.Stderr)
//	logger.Log(audit.FileRewriteEvent{File: ".env", Replaced: 2, Success: true})
//
// Events carry store paths, keys and file locations. Secret values are
// never recorded.
package audit
