// Package vaultcli implements store.Client by running the vault command line
// tool.
package vaultcli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
)

// Config holds the settings passed to the vault binary.
type Config struct {
	// Binary defaults to "vault" on PATH.
	Binary  string
	Address string
	Token   string
	Mount   string
}

// Client is a store.Client backed by the vault CLI.
type Client struct {
	bin   string
	addr  string
	token string
	mount string
}

var _ store.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.Mount == "" {
		return nil, errors.New("vaultcli: mount is required")
	}
	bin := cfg.Binary
	if bin == "" {
		bin = "vault"
	}
	return &Client{bin: bin, addr: cfg.Address, token: cfg.Token, mount: strings.Trim(cfg.Mount, "/")}, nil
}

// exitError carries the exit code and stderr of a failed invocation.
type exitError struct {
	code   int
	stderr string
}

func (e *exitError) Error() string {
	msg := strings.TrimSpace(e.stderr)
	if msg == "" {
		return fmt.Sprintf("vault exited with status %d", e.code)
	}
	return fmt.Sprintf("vault exited with status %d: %s", e.code, msg)
}

func (c *Client) run(ctx context.Context, stdin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Env = append(os.Environ(), "VAULT_ADDR="+c.addr, "VAULT_TOKEN="+c.token)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && ctx.Err() == nil {
			return stdout.Bytes(), &exitError{code: ee.ExitCode(), stderr: stderr.String()}
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func (c *Client) split(path string) (string, error) {
	sub, ok := strings.CutPrefix(strings.Trim(path, "/"), c.mount+"/")
	if !ok || sub == "" {
		return "", fmt.Errorf("path %q is not under mount %q", path, c.mount)
	}
	return sub, nil
}

// Status runs "vault status", which exits 2 when the store is sealed.
func (c *Client) Status(ctx context.Context) (store.Status, error) {
	out, err := c.run(ctx, "", "status", "-format=json")
	var ee *exitError
	if err != nil && !(errors.As(err, &ee) && ee.code == 2) {
		return store.Status{}, &store.ConnectivityError{Address: c.addr, Err: err}
	}

	var resp struct {
		Sealed  bool   `json:"sealed"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return store.Status{}, &store.ConnectivityError{Address: c.addr, Err: fmt.Errorf("unexpected status output: %w", err)}
	}
	return store.Status{Sealed: resp.Sealed, Version: resp.Version}, nil
}

// Put passes the value on stdin so it never appears in the process list.
// Existing paths are patched to keep their other keys.
func (c *Client) Put(ctx context.Context, path, key, value string, meta store.Metadata) error {
	sub, err := c.split(path)
	if err != nil {
		return &store.WriteError{Path: path, Key: key, Err: err}
	}
	exists, err := c.PathExists(ctx, path)
	if err != nil {
		return &store.WriteError{Path: path, Key: key, Err: err}
	}

	verb := "put"
	if exists {
		verb = "patch"
	}
	if _, err := c.run(ctx, value, "kv", verb, "-mount="+c.mount, sub, key+"=-"); err != nil {
		return &store.WriteError{Path: path, Key: key, Err: err}
	}

	if len(meta) > 0 {
		custom := meta.ForKey(key)
		names := make([]string, 0, len(custom))
		for k := range custom {
			names = append(names, k)
		}
		sort.Strings(names)
		args := []string{"kv", "metadata", "patch", "-mount=" + c.mount}
		for _, k := range names {
			args = append(args, "-custom-metadata="+k+"="+custom[k])
		}
		args = append(args, sub)
		// informational only, the value is already stored
		_, _ = c.run(ctx, "", args...)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path, key string) (string, error) {
	sub, err := c.split(path)
	if err != nil {
		return "", err
	}
	out, err := c.run(ctx, "", "kv", "get", "-mount="+c.mount, "-field="+key, sub)
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) && isNotFound(ee) {
			return "", fmt.Errorf("%w: %s:%s", store.ErrNotFound, path, key)
		}
		return "", err
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}

func (c *Client) PathExists(ctx context.Context, path string) (bool, error) {
	sub, err := c.split(path)
	if err != nil {
		return false, err
	}
	_, err = c.run(ctx, "", "kv", "metadata", "get", "-mount="+c.mount, "-format=json", sub)
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) && isNotFound(ee) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isNotFound(e *exitError) bool {
	return e.code == 2 ||
		strings.Contains(e.stderr, "No value found") ||
		strings.Contains(e.stderr, "not present in secret")
}
