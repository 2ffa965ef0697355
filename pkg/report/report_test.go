package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doodlesbykumbi/vaultsweep/pkg/pipeline"
	"github.com/doodlesbykumbi/vaultsweep/pkg/rewriter"
	"github.com/doodlesbykumbi/vaultsweep/pkg/scanner"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
	"github.com/doodlesbykumbi/vaultsweep/pkg/validator"
)

func sampleSummary() *pipeline.Summary {
	d := scanner.Detection{
		Type: "api_key", Key: "config__env_api", Value: "abc123",
		File: "/p/config/.env", RelPath: "config/.env", Line: 1, Subpath: "api_key",
	}
	failed := scanner.Detection{
		Type: "api_key", Key: "config__env_other_api", Value: "zzz999",
		File: "/p/config/.env", RelPath: "config/.env", Line: 2, Subpath: "api_key",
	}
	return &pipeline.Summary{
		State: pipeline.StateIdle,
		Report: &scanner.Report{
			FilesScanned: 3,
			Files:        []scanner.FileReport{{Path: "/p/config/.env", Detections: []scanner.Detection{d, failed}}},
			ByType:       map[string]int{"api_key": 2},
		},
		Stored: 1,
		StoreFailures: []pipeline.StoreFailure{{
			Detection: failed,
			Err:       &store.WriteError{Path: "secret/x/api_key", Key: failed.Key, Err: errors.New("denied")},
		}},
		Rewritten: []*rewriter.Result{{File: "/p/config/.env", Backup: "/p/.windsurf/backups/.env.bak", Replaced: 1}},
	}
}

func TestWriteSummaryText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleSummary(), FormatText))

	out := buf.String()
	assert.Contains(t, out, "Found 2 secrets in 3 files.")
	assert.Contains(t, out, "line 1: api_key (config__env_api)")
	assert.Contains(t, out, "By type: api_key=2")
	assert.Contains(t, out, "Stored 1 of 2 secrets.")
	assert.Contains(t, out, "not stored: config/.env:2")
	assert.Contains(t, out, "Replaced 1 secrets in 1 files.")
	assert.NotContains(t, out, "abc123")
	assert.NotContains(t, out, "zzz999")
}

func TestWriteSummaryJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleSummary(), FormatJSON))
	assert.NotContains(t, buf.String(), "abc123")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "idle", decoded["state"])
	assert.EqualValues(t, 2, decoded["secrets_found"])
	assert.EqualValues(t, 1, decoded["secrets_replaced"])
	assert.Len(t, decoded["store_failures"], 1)
}

func TestWriteSummaryNoScan(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, &pipeline.Summary{}, FormatText))
	assert.Equal(t, "No scan requested.\n", buf.String())
}

func sampleValidation() *validator.Result {
	return &validator.Result{
		State:               validator.StateDoneInvalid,
		TotalFiles:          4,
		FilesWithReferences: 1,
		ValidReferences:     1,
		InvalidReferences:   1,
		Files: []validator.FileResult{{
			File: "app.yml",
			References: []validator.Reference{
				{Path: "secret/p", Key: "a", Line: 1, Valid: true},
				{Path: "secret/p", Key: "b", Line: 4, Err: store.ErrNotFound},
			},
		}},
	}
}

func TestWriteValidationText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteValidation(&buf, sampleValidation(), FormatText))

	out := buf.String()
	assert.Contains(t, out, "FAIL app.yml: 1 valid references, 1 invalid references")
	assert.Contains(t, out, "line 4: invalid reference {{vault:secret/p:b}}: secret not found")
	assert.Contains(t, out, "Total files checked: 4")
	assert.Contains(t, out, "Found 1 invalid vault references.")
}

func TestWriteValidationJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteValidation(&buf, sampleValidation(), FormatJSON))

	var decoded struct {
		State             string `json:"state"`
		InvalidReferences int    `json:"invalid_references"`
		Files             []struct {
			Valid      bool `json:"valid"`
			References []struct {
				Error string `json:"error"`
			} `json:"references"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "done_invalid", decoded.State)
	assert.Equal(t, 1, decoded.InvalidReferences)
	require.Len(t, decoded.Files, 1)
	assert.False(t, decoded.Files[0].Valid)
	assert.Equal(t, "secret not found", decoded.Files[0].References[1].Error)
}

func TestWriteBackups(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []rewriter.BackupEntry{{
		Backup: ".env.bak", Source: "/p/config/.env", Size: 2048, CreatedAt: now.Add(-2 * time.Hour),
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteBackups(&buf, entries, FormatText, now))
	out := buf.String()
	assert.Contains(t, out, "BACKUP")
	assert.Contains(t, out, ".env.bak")
	assert.Contains(t, out, "2.0 kB")
	assert.Contains(t, out, "2 hours ago")

	buf.Reset()
	require.NoError(t, WriteBackups(&buf, nil, FormatJSON, now))
	assert.Equal(t, "[]\n", buf.String())
}

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, CheckFormat("text"))
	assert.NoError(t, CheckFormat("json"))
	assert.Error(t, CheckFormat("xml"))
}

func TestWriteVersions(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	versions := []SecretVersion{{
		Version:   2,
		Metadata:  map[string]string{"file": "config/.env", "line": "1", "type": "api_key"},
		CreatedAt: now.Add(-3 * time.Hour),
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteVersions(&buf, "secret/myapp", "config__env_api", versions, FormatText, now))
	out := buf.String()
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "config/.env:1")
	assert.Contains(t, out, "api_key")
	assert.Contains(t, out, "3 hours ago")

	buf.Reset()
	require.NoError(t, WriteVersions(&buf, "secret/myapp", "config__env_api", versions, FormatJSON, now))
	var doc struct {
		Path     string
		Key      string
		Versions []map[string]interface{}
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "config__env_api", doc.Key)
	require.Len(t, doc.Versions, 1)
	assert.NotContains(t, doc.Versions[0], "value")

	buf.Reset()
	require.NoError(t, WriteVersions(&buf, "secret/myapp", "missing", nil, FormatText, now))
	assert.Equal(t, "No versions of secret/myapp:missing.\n", buf.String())
}
