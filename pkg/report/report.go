// Package report renders run summaries for the console, as text or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/doodlesbykumbi/vaultsweep/pkg/pipeline"
	"github.com/doodlesbykumbi/vaultsweep/pkg/rewriter"
	"github.com/doodlesbykumbi/vaultsweep/pkg/validator"
)

// Formats accepted by the writers.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// CheckFormat returns an error for an unknown format name.
func CheckFormat(format string) error {
	switch format {
	case FormatText, FormatJSON:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want %s or %s)", format, FormatText, FormatJSON)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type detectionJSON struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Type    string `json:"type"`
	Key     string `json:"key"`
	Subpath string `json:"subpath"`
}

type failureJSON struct {
	File  string `json:"file"`
	Line  int    `json:"line,omitempty"`
	Error string `json:"error"`
}

type rewriteJSON struct {
	File     string `json:"file"`
	Backup   string `json:"backup"`
	Replaced int    `json:"replaced"`
}

type summaryJSON struct {
	State           pipeline.State  `json:"state"`
	FilesScanned    int             `json:"files_scanned"`
	SecretsFound    int             `json:"secrets_found"`
	ByType          map[string]int  `json:"by_type,omitempty"`
	Detections      []detectionJSON `json:"detections,omitempty"`
	Warnings        []failureJSON   `json:"warnings,omitempty"`
	MissingPaths    []string        `json:"missing_paths,omitempty"`
	Stored          int             `json:"secrets_stored"`
	StoreFailures   []failureJSON   `json:"store_failures,omitempty"`
	Replaced        int             `json:"secrets_replaced"`
	Rewritten       []rewriteJSON   `json:"files_rewritten,omitempty"`
	RewriteFailures []failureJSON   `json:"rewrite_failures,omitempty"`
}

// WriteSummary renders a storage run. Secret values are never included.
func WriteSummary(w io.Writer, s *pipeline.Summary, format string) error {
	if format == FormatJSON {
		return writeJSON(w, toSummaryJSON(s))
	}

	if s.Report == nil {
		_, err := fmt.Fprintln(w, "No scan requested.")
		return err
	}
	r := s.Report

	fmt.Fprintf(w, "Scan completed. Found %s secrets in %s files.\n",
		humanize.Comma(int64(r.Total())), humanize.Comma(int64(r.FilesScanned)))

	for _, f := range r.Files {
		fmt.Fprintf(w, "  %s\n", f.Path)
		for _, d := range f.Detections {
			fmt.Fprintf(w, "    line %d: %s (%s)\n", d.Line, d.Type, d.Key)
		}
	}
	if len(r.ByType) > 0 {
		types := make([]string, 0, len(r.ByType))
		for t := range r.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		parts := make([]string, 0, len(types))
		for _, t := range types {
			parts = append(parts, fmt.Sprintf("%s=%d", t, r.ByType[t]))
		}
		fmt.Fprintf(w, "By type: %s\n", strings.Join(parts, ", "))
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "Warning: %v\n", warn)
	}

	if s.Stored > 0 || len(s.StoreFailures) > 0 {
		fmt.Fprintf(w, "Stored %s of %s secrets.\n",
			humanize.Comma(int64(s.Stored)), humanize.Comma(int64(r.Total())))
		for _, f := range s.StoreFailures {
			fmt.Fprintf(w, "  not stored: %s:%d: %v\n", f.Detection.RelPath, f.Detection.Line, f.Err)
		}
	}
	if len(s.Rewritten) > 0 || len(s.RewriteFailures) > 0 {
		fmt.Fprintf(w, "Replaced %s secrets in %s files.\n",
			humanize.Comma(int64(s.Replaced())), humanize.Comma(int64(len(s.Rewritten))))
		for _, rw := range s.Rewritten {
			fmt.Fprintf(w, "  %s (backup %s)\n", rw.File, rw.Backup)
		}
		for _, f := range s.RewriteFailures {
			fmt.Fprintf(w, "  unchanged: %s: %v\n", f.File, f.Err)
		}
	}
	return nil
}

func toSummaryJSON(s *pipeline.Summary) summaryJSON {
	out := summaryJSON{
		State:        s.State,
		MissingPaths: s.MissingPaths,
		Stored:       s.Stored,
		Replaced:     s.Replaced(),
	}
	if r := s.Report; r != nil {
		out.FilesScanned = r.FilesScanned
		out.SecretsFound = r.Total()
		out.ByType = r.ByType
		for _, d := range r.Detections() {
			out.Detections = append(out.Detections, detectionJSON{
				File: d.RelPath, Line: d.Line, Type: d.Type, Key: d.Key, Subpath: d.Subpath,
			})
		}
		for _, warn := range r.Warnings {
			out.Warnings = append(out.Warnings, failureJSON{File: warn.Path, Error: errString(warn.Err)})
		}
	}
	for _, f := range s.StoreFailures {
		out.StoreFailures = append(out.StoreFailures, failureJSON{
			File: f.Detection.RelPath, Line: f.Detection.Line, Error: errString(f.Err),
		})
	}
	for _, rw := range s.Rewritten {
		out.Rewritten = append(out.Rewritten, rewriteJSON{File: rw.File, Backup: rw.Backup, Replaced: rw.Replaced})
	}
	for _, f := range s.RewriteFailures {
		out.RewriteFailures = append(out.RewriteFailures, failureJSON{File: f.File, Error: errString(f.Err)})
	}
	return out
}

type referenceJSON struct {
	Path  string `json:"path"`
	Key   string `json:"key"`
	Line  int    `json:"line"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

type fileResultJSON struct {
	File       string          `json:"file"`
	Valid      bool            `json:"valid"`
	References []referenceJSON `json:"references"`
	Error      string          `json:"error,omitempty"`
}

type validationJSON struct {
	State               validator.State  `json:"state"`
	TotalFiles          int              `json:"total_files"`
	FilesWithReferences int              `json:"files_with_references"`
	ValidReferences     int              `json:"valid_references"`
	InvalidReferences   int              `json:"invalid_references"`
	Files               []fileResultJSON `json:"files"`
}

// WriteValidation renders a validator run.
func WriteValidation(w io.Writer, res *validator.Result, format string) error {
	if format == FormatJSON {
		out := validationJSON{
			State:               res.State,
			TotalFiles:          res.TotalFiles,
			FilesWithReferences: res.FilesWithReferences,
			ValidReferences:     res.ValidReferences,
			InvalidReferences:   res.InvalidReferences,
			Files:               []fileResultJSON{},
		}
		for _, f := range res.Files {
			fj := fileResultJSON{
				File:       f.File,
				Valid:      f.Err == nil && f.Invalid() == 0,
				References: []referenceJSON{},
				Error:      errString(f.Err),
			}
			for _, r := range f.References {
				fj.References = append(fj.References, referenceJSON{
					Path: r.Path, Key: r.Key, Line: r.Line, Valid: r.Valid, Error: errString(r.Err),
				})
			}
			out.Files = append(out.Files, fj)
		}
		return writeJSON(w, out)
	}

	for _, f := range res.Files {
		if f.Err != nil {
			fmt.Fprintf(w, "! %s: %v\n", f.File, f.Err)
			continue
		}
		invalid := f.Invalid()
		valid := len(f.References) - invalid
		if invalid == 0 {
			fmt.Fprintf(w, "ok   %s: %d valid references\n", f.File, valid)
			continue
		}
		fmt.Fprintf(w, "FAIL %s: %d valid references, %d invalid references\n", f.File, valid, invalid)
		for _, r := range f.References {
			if !r.Valid {
				fmt.Fprintf(w, "  - line %d: invalid reference {{vault:%s:%s}}: %v\n", r.Line, r.Path, r.Key, r.Err)
			}
		}
	}

	fmt.Fprintln(w, "\nValidation Summary:")
	fmt.Fprintf(w, "Total files checked: %s\n", humanize.Comma(int64(res.TotalFiles)))
	fmt.Fprintf(w, "Files with references: %s\n", humanize.Comma(int64(res.FilesWithReferences)))
	fmt.Fprintf(w, "Valid references: %s\n", humanize.Comma(int64(res.ValidReferences)))
	fmt.Fprintf(w, "Invalid references: %s\n", humanize.Comma(int64(res.InvalidReferences)))
	if res.Failed() {
		_, err := fmt.Fprintf(w, "\nFound %d invalid vault references.\n", res.InvalidReferences)
		return err
	}
	_, err := fmt.Fprintf(w, "\nAll %d vault references are valid.\n", res.ValidReferences)
	return err
}

// WriteBackups renders the backup manifest. Ages are relative to now.
func WriteBackups(w io.Writer, entries []rewriter.BackupEntry, format string, now time.Time) error {
	if format == FormatJSON {
		if entries == nil {
			entries = []rewriter.BackupEntry{}
		}
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No backups.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKUP\tSOURCE\tSIZE\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			filepath.Base(e.Backup), e.Source, humanize.Bytes(uint64(e.Size)), humanize.RelTime(e.CreatedAt, now, "ago", "from now"))
	}
	return tw.Flush()
}

// SecretVersion is one stored version of a secret. It never carries the value.
type SecretVersion struct {
	Version   int               `json:"version"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// WriteVersions renders the version history of a secret, newest first.
func WriteVersions(w io.Writer, path, key string, versions []SecretVersion, format string, now time.Time) error {
	if format == FormatJSON {
		if versions == nil {
			versions = []SecretVersion{}
		}
		return writeJSON(w, struct {
			Path     string          `json:"path"`
			Key      string          `json:"key"`
			Versions []SecretVersion `json:"versions"`
		}{path, key, versions})
	}
	if len(versions) == 0 {
		_, err := fmt.Fprintf(w, "No versions of %s:%s.\n", path, key)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSOURCE\tTYPE\tCREATED")
	for _, v := range versions {
		source := v.Metadata["file"]
		if line := v.Metadata["line"]; source != "" && line != "" {
			source += ":" + line
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			v.Version, source, v.Metadata["type"], humanize.RelTime(v.CreatedAt, now, "ago", "from now"))
	}
	return tw.Flush()
}
