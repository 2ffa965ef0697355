package rewriter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	backupSuffix = ".bak"
	manifestName = "manifest.json"
)

// BackupEntry records one backup in the manifest.
type BackupEntry struct {
	Backup    string    `json:"backup"`
	Source    string    `json:"source"`
	Size      int       `json:"size"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// Backups manages the backup directory. Existing backups are never
// overwritten; a name clash gets a numeric infix ("app.env.1.bak").
type Backups struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewBackups(dir string) *Backups {
	return &Backups{dir: dir, now: time.Now}
}

// Dir returns the backup directory.
func (b *Backups) Dir() string {
	return b.dir
}

// Save writes content as the backup for source and records it in the
// manifest. It returns the backup path once the data is synced to disk.
func (b *Backups) Save(source string, content []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	base := filepath.Base(source)
	var (
		f    *os.File
		path string
		err  error
	)
	for i := 0; ; i++ {
		name := base + backupSuffix
		if i > 0 {
			name = base + "." + strconv.Itoa(i) + backupSuffix
		}
		path = filepath.Join(b.dir, name)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create backup: %w", err)
		}
		break
	}

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to sync backup: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close backup: %w", err)
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		abs = source
	}
	entries, err := b.read()
	if err != nil {
		return "", err
	}
	entries = append(entries, BackupEntry{
		Backup:    filepath.Base(path),
		Source:    abs,
		Size:      len(content),
		SHA256:    checksum(content),
		CreatedAt: b.now().UTC(),
	})
	if err := b.write(entries); err != nil {
		return "", err
	}
	return path, nil
}

// List returns the manifest entries, oldest first.
func (b *Backups) List() ([]BackupEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries, err := b.read()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Find returns the newest entry whose backup name or source path matches.
func (b *Backups) Find(nameOrSource string) (BackupEntry, error) {
	entries, err := b.List()
	if err != nil {
		return BackupEntry{}, err
	}
	abs, _ := filepath.Abs(nameOrSource)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Backup == nameOrSource || e.Source == nameOrSource || e.Source == abs {
			return e, nil
		}
	}
	return BackupEntry{}, fmt.Errorf("no backup found for %q", nameOrSource)
}

// Restore copies a backup over its source file. The backup must still match
// the checksum recorded when it was taken.
func (b *Backups) Restore(entry BackupEntry) error {
	content, err := os.ReadFile(filepath.Join(b.dir, entry.Backup))
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	if entry.SHA256 != "" && checksum(content) != entry.SHA256 {
		return fmt.Errorf("backup %s does not match its recorded checksum", entry.Backup)
	}
	return writeFileAtomic(entry.Source, content)
}

func (b *Backups) manifestPath() string {
	return filepath.Join(b.dir, manifestName)
}

func (b *Backups) read() ([]BackupEntry, error) {
	data, err := os.ReadFile(b.manifestPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup manifest: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var entries []BackupEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse backup manifest: %w", err)
	}
	return entries, nil
}

func (b *Backups) write(entries []BackupEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(b.manifestPath(), append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write backup manifest: %w", err)
	}
	return nil
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
