package rewriter

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doodlesbykumbi/vaultsweep/pkg/scanner"
)

const storeRoot = "secret/windsurf-projects/myproj"

// detect builds a detection for the first occurrence of value after marker.
func detect(t *testing.T, content, marker, value, key string) scanner.Detection {
	t.Helper()
	start := strings.Index(content, marker)
	require.GreaterOrEqual(t, start, 0)
	vs := start + strings.Index(content[start:], value)
	return scanner.Detection{
		Type:       "api_key",
		Key:        key,
		Value:      value,
		Line:       strings.Count(content[:start], "\n") + 1,
		Start:      start,
		End:        vs + len(value),
		ValueStart: vs,
		ValueEnd:   vs + len(value),
		Subpath:    "api_key",
	}
}

func setup(t *testing.T, content string) (string, string, *Rewriter) {
	t.Helper()
	root := t.TempDir()
	file := filepath.Join(root, "config", ".env")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte(content), 0o640))
	backupDir := filepath.Join(root, ".windsurf", "backups")
	return file, backupDir, New(NewBackups(backupDir), nil)
}

func TestRewrite(t *testing.T) {
	original := "# settings\nAPI_KEY=abc123\n"
	file, backupDir, r := setup(t, original)

	d := detect(t, original, "API_KEY=", "abc123", "config__env_api")
	result, err := r.Rewrite(file, []scanner.Detection{d}, storeRoot)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Replaced)
	assert.Equal(t, filepath.Join(backupDir, ".env.bak"), result.Backup)

	updated, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "# settings\nAPI_KEY={{vault:secret/windsurf-projects/myproj/api_key:config__env_api}}\n", string(updated))

	backup, err := os.ReadFile(result.Backup)
	require.NoError(t, err)
	assert.Equal(t, original, string(backup))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestRewriteOnlyTouchesValueSpan(t *testing.T) {
	original := "API_KEY=abc123\n# old value was abc123\nOTHER=abc123\n"
	file, _, r := setup(t, original)

	d := detect(t, original, "API_KEY=", "abc123", "config__env_api")
	_, err := r.Rewrite(file, []scanner.Detection{d}, storeRoot)
	require.NoError(t, err)

	updated, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(updated), "{{vault:"))
	assert.Equal(t, 2, strings.Count(string(updated), "abc123"))
}

func TestRewriteRepeatedValueInsideMatch(t *testing.T) {
	// the value also occurs in the identifier part of the match
	original := "secret_secret=secret\n"
	file, _, r := setup(t, original)

	d := scanner.Detection{
		Type: "password", Key: "k", Value: "secret", Line: 1,
		Start: 0, End: 20, ValueStart: 14, ValueEnd: 20, Subpath: "passwords",
	}
	_, err := r.Rewrite(file, []scanner.Detection{d}, storeRoot)
	require.NoError(t, err)

	updated, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "secret_secret={{vault:secret/windsurf-projects/myproj/passwords:k}}\n", string(updated))
}

func TestRewriteMultiple(t *testing.T) {
	original := "A_API_KEY=one\nB_API_KEY=two\n"
	file, _, r := setup(t, original)

	detections := []scanner.Detection{
		detect(t, original, "A_API_KEY=", "one", "config__env_a_api"),
		detect(t, original, "B_API_KEY=", "two", "config__env_b_api"),
	}
	result, err := r.Rewrite(file, detections, storeRoot)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Replaced)

	updated, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t,
		"A_API_KEY={{vault:secret/windsurf-projects/myproj/api_key:config__env_a_api}}\n"+
			"B_API_KEY={{vault:secret/windsurf-projects/myproj/api_key:config__env_b_api}}\n",
		string(updated))
}

func TestRewriteDuplicateAndOverlap(t *testing.T) {
	original := "API_KEY=abcdef\n"
	file, _, r := setup(t, original)

	d := detect(t, original, "API_KEY=", "abcdef", "k")
	dup := d
	overlap := d
	overlap.Key = "other"
	overlap.ValueStart, overlap.ValueEnd, overlap.Value = 0, d.ValueStart+2, "API_KEY=ab"

	result, err := r.Rewrite(file, []scanner.Detection{d, dup, overlap}, storeRoot)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Replaced)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "other", result.Skipped[0].Detection.Key)
}

func TestRewriteStaleContent(t *testing.T) {
	original := "API_KEY=abc123\n"
	file, backupDir, r := setup(t, original)

	d := detect(t, original, "API_KEY=", "abc123", "k")
	require.NoError(t, os.WriteFile(file, []byte("API_KEY=zzz999\n"), 0o640))

	_, err := r.Rewrite(file, []scanner.Detection{d}, storeRoot)
	var fwErr *FileWriteError
	require.ErrorAs(t, err, &fwErr)

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "API_KEY=zzz999\n", string(content))
	_, err = os.Stat(backupDir)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRewriteBackupFailureLeavesFile(t *testing.T) {
	original := "API_KEY=abc123\n"
	root := t.TempDir()
	file := filepath.Join(root, "app.env")
	require.NoError(t, os.WriteFile(file, []byte(original), 0o644))

	// a regular file where the backup directory should be
	blocker := filepath.Join(root, "backups")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	r := New(NewBackups(blocker), nil)
	d := detect(t, original, "API_KEY=", "abc123", "k")
	_, err := r.Rewrite(file, []scanner.Detection{d}, storeRoot)
	var fwErr *FileWriteError
	require.ErrorAs(t, err, &fwErr)

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, original, string(content))
}

func TestRewriteNoDetections(t *testing.T) {
	file, backupDir, r := setup(t, "X=1\n")

	result, err := r.Rewrite(file, nil, storeRoot)
	require.NoError(t, err)
	assert.Zero(t, result.Replaced)
	_, err = os.Stat(backupDir)
	assert.True(t, os.IsNotExist(err))
}

func TestBackupsNeverOverwrite(t *testing.T) {
	dir := t.TempDir()
	b := NewBackups(filepath.Join(dir, "backups"))

	first, err := b.Save(filepath.Join(dir, "a", ".env"), []byte("one"))
	require.NoError(t, err)
	second, err := b.Save(filepath.Join(dir, "b", ".env"), []byte("two"))
	require.NoError(t, err)

	assert.Equal(t, ".env.bak", filepath.Base(first))
	assert.Equal(t, ".env.1.bak", filepath.Base(second))

	content, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(content))

	entries, err := b.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, filepath.Join(dir, "a", ".env"), entries[0].Source)
	assert.Equal(t, 3, entries[1].Size)
}

func TestBackupsRestore(t *testing.T) {
	original := "API_KEY=abc123\n"
	file, backupDir, r := setup(t, original)

	d := detect(t, original, "API_KEY=", "abc123", "k")
	_, err := r.Rewrite(file, []scanner.Detection{d}, storeRoot)
	require.NoError(t, err)

	b := NewBackups(backupDir)
	entry, err := b.Find(file)
	require.NoError(t, err)
	assert.Equal(t, ".env.bak", entry.Backup)

	require.NoError(t, b.Restore(entry))
	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, original, string(content))

	_, err = b.Find("nothing")
	assert.Error(t, err)
}

func TestBackupsRestoreChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "app.yml")
	require.NoError(t, os.WriteFile(source, []byte("current"), 0o644))

	b := NewBackups(filepath.Join(dir, "backups"))
	path, err := b.Save(source, []byte("original"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o600))

	entry, err := b.Find("app.yml.bak")
	require.NoError(t, err)
	assert.Error(t, b.Restore(entry))

	content, err := os.ReadFile(source)
	require.NoError(t, err)
	assert.Equal(t, "current", string(content))
}
