package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doodlesbykumbi/vaultsweep/pkg/rewriter"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store/backend"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store/sqlstore"
)

const testConfig = `
rules:
  - vault_config:
      backend: memory
      mount_path: secret
      base_path: windsurf-projects
      project_name: myproj
    secret_patterns:
      api_key:
        patterns:
          - '([A-Z_]*API_KEY)=(\S+)'
    trigger:
      file_patterns: ["**/.env*", "**/*.env"]
    scan:
      backup_dir: .windsurf/backups
      workers: 2
`

// setupProject writes a project with a memory-backed config and points the
// commands at it.
func setupProject(t *testing.T, files map[string]string) (string, *store.Memory) {
	t.Helper()
	for _, name := range []string{
		"VAULTSWEEP_CONFIG", "VAULTSWEEP_BACKEND", "VAULT_ADDR", "VAULT_TOKEN",
		"VAULTSWEEP_PROJECT", "VAULTSWEEP_BACKUP_DIR", "AUDIT_DATABASE_URL", "DATABASE_URL",
	} {
		t.Setenv(name, "")
	}

	// The config lives outside the project so it is not scanned.
	dir, cfgDir := t.TempDir(), t.TempDir()
	cfgPath := filepath.Join(cfgDir, "vault-config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o644))
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	mem := store.NewMemory()
	prevGlobals, prevOpts := globals, testSessionOptions
	globals = globalFlags{
		configPath: cfgPath,
		logLevel:   "error",
		logFormat:  "console",
	}
	testSessionOptions = &sessionOptions{
		backend:   backend.Options{Memory: mem, NoRetry: true},
		logWriter: io.Discard,
	}
	t.Cleanup(func() {
		globals, testSessionOptions = prevGlobals, prevOpts
	})
	return dir, mem
}

func TestManageAndValidate(t *testing.T) {
	dir, mem := setupProject(t, map[string]string{
		"app/.env":     "API_KEY=abc123secret\nDEBUG=true\n",
		"app/notes.md": "nothing here\n",
	})
	ctx := context.Background()

	var out bytes.Buffer
	err := runManage(ctx, &out, manageOptions{
		project:   dir,
		scan:      true,
		autoStore: true,
		replace:   true,
		output:    "text",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Found 1 secrets in 1 files.")
	assert.Contains(t, out.String(), "Stored 1 of 1 secrets.")
	assert.Contains(t, out.String(), "Replaced 1 secrets in 1 files.")
	assert.NotContains(t, out.String(), "abc123secret")

	content, err := os.ReadFile(filepath.Join(dir, "app", ".env"))
	require.NoError(t, err)
	assert.NotContains(t, string(content), "abc123secret")
	assert.Contains(t, string(content), "API_KEY={{vault:secret/windsurf-projects/myproj/")
	assert.Contains(t, string(content), "DEBUG=true")

	paths := mem.Paths("secret/windsurf-projects/myproj")
	require.Len(t, paths, 1)

	out.Reset()
	err = runValidate(ctx, &out, validateOptions{path: dir, output: "text"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "All 1 vault references are valid.")
}

func TestValidateInvalidReference(t *testing.T) {
	dir, _ := setupProject(t, map[string]string{
		"app/.env": "API_KEY={{vault:secret/windsurf-projects/myproj/app:missing}}\n",
	})

	var out bytes.Buffer
	err := runValidate(context.Background(), &out, validateOptions{path: dir, output: "json"})
	require.ErrorIs(t, err, errInvalidReferences)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.EqualValues(t, 1, decoded["invalid_references"])
}

func TestManageSealedStore(t *testing.T) {
	dir, mem := setupProject(t, map[string]string{
		"app/.env": "API_KEY=abc123secret\n",
	})
	mem.Seal(true)

	var out bytes.Buffer
	err := runManage(context.Background(), &out, manageOptions{project: dir, scan: true, output: "text"})
	var connErr *store.ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.Empty(t, out.String())
}

func TestManageReplaceRequiresAutoStore(t *testing.T) {
	err := runManage(context.Background(), io.Discard, manageOptions{scan: true, replace: true, output: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--auto-store")
}

func TestManageScanOnlyLeavesFiles(t *testing.T) {
	dir, mem := setupProject(t, map[string]string{
		"app/.env": "API_KEY=abc123secret\n",
	})

	var out bytes.Buffer
	require.NoError(t, runManage(context.Background(), &out, manageOptions{project: dir, scan: true, output: "text"}))
	assert.Contains(t, out.String(), "Found 1 secrets in 1 files.")
	assert.Empty(t, mem.Paths(""))

	content, err := os.ReadFile(filepath.Join(dir, "app", ".env"))
	require.NoError(t, err)
	assert.Equal(t, "API_KEY=abc123secret\n", string(content))
}

func TestBackupListAndRestore(t *testing.T) {
	dir, _ := setupProject(t, map[string]string{
		"app/.env": "API_KEY=abc123secret\n",
	})
	ctx := context.Background()

	require.NoError(t, runManage(ctx, io.Discard, manageOptions{
		project: dir, scan: true, autoStore: true, replace: true, output: "text",
	}))

	var out bytes.Buffer
	require.NoError(t, runBackupList(ctx, &out, dir, "json"))
	var entries []rewriter.BackupEntry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, ".env.bak", filepath.Base(entries[0].Backup))

	out.Reset()
	require.NoError(t, runBackupRestore(ctx, &out, dir, filepath.Join(dir, "app", ".env")))
	assert.True(t, strings.HasPrefix(out.String(), "Restored "))

	content, err := os.ReadFile(filepath.Join(dir, "app", ".env"))
	require.NoError(t, err)
	assert.Equal(t, "API_KEY=abc123secret\n", string(content))
}

func TestShowConfiguration(t *testing.T) {
	dir, _ := setupProject(t, map[string]string{})

	var out bytes.Buffer
	require.NoError(t, showConfiguration(context.Background(), &out, dir, "text"))
	assert.Contains(t, out.String(), "project_name")
	assert.Contains(t, out.String(), "myproj")

	err := showConfiguration(context.Background(), io.Discard, dir, "xml")
	require.Error(t, err)
}

func TestWaitRetriesUntilUnsealed(t *testing.T) {
	_, mem := setupProject(t, map[string]string{})
	mem.Seal(true)

	// The memory store unseals after the first sleep.
	sleeps := 0
	sleep := func(time.Duration) {
		sleeps++
		mem.Seal(false)
	}

	var out bytes.Buffer
	require.NoError(t, runWait(context.Background(), &out, 5, time.Millisecond, sleep))
	assert.Equal(t, 1, sleeps)
	assert.Contains(t, out.String(), "Secret store is ready!")
}

func TestWaitGivesUp(t *testing.T) {
	_, mem := setupProject(t, map[string]string{})
	mem.Seal(true)

	err := runWait(context.Background(), io.Discard, 3, time.Millisecond, func(time.Duration) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready after 3 attempts")
}

func TestToVersions(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	versions, err := toVersions([]sqlstore.Secret{{
		Path: "secret/myapp", SecretKey: "config__env_api", Version: 2,
		Metadata: `{"file":"config/.env","line":"1","type":"api_key"}`, CreatedAt: created,
	}, {
		Path: "secret/myapp", SecretKey: "config__env_api", Version: 1, CreatedAt: created,
	}})
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, "config/.env", versions[0].Metadata["file"])
	assert.Nil(t, versions[1].Metadata)

	_, err = toVersions([]sqlstore.Secret{{Path: "p", SecretKey: "k", Version: 1, Metadata: "{"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 1 of p:k")
}

func TestDBVersionsRejectsUnknownFormat(t *testing.T) {
	err := runDBVersions(context.Background(), io.Discard, "secret/myapp", "k", "xml")
	require.Error(t, err)
}
