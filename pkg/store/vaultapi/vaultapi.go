// Package vaultapi implements store.Client against the HashiCorp Vault HTTP
// API using the KV version 2 secrets engine.
package vaultapi

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
)

// Config holds connection parameters.
type Config struct {
	Address string
	Token   string
	// Mount is the KV v2 mount every store path starts with.
	Mount   string
	Timeout time.Duration
	JWT     *JWTLogin
	Logger  *zap.Logger
}

// Client is a store.Client backed by Vault.
type Client struct {
	vault  *api.Client
	mount  string
	logger *zap.Logger
}

var _ store.Client = (*Client)(nil)

// New creates a Client. When no token is configured and JWT is set, New logs
// in with the JWT auth method.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Mount == "" {
		return nil, errors.New("vaultapi: mount is required")
	}

	apiCfg := api.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}
	apiCfg.MaxRetries = 0

	vault, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("vaultapi: failed to create client: %w", err)
	}

	c := &Client{vault: vault, mount: strings.Trim(cfg.Mount, "/"), logger: cfg.Logger}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	switch {
	case cfg.Token != "":
		vault.SetToken(cfg.Token)
	case cfg.JWT != nil:
		token, err := cfg.JWT.Login(ctx, vault)
		if err != nil {
			return nil, &store.ConnectivityError{Address: apiCfg.Address, Err: err}
		}
		vault.SetToken(token)
	default:
		vault.ClearToken()
	}
	return c, nil
}

// split turns "mount/rest/of/path" into the KV path below the mount.
func (c *Client) split(path string) (string, error) {
	sub, ok := strings.CutPrefix(strings.Trim(path, "/"), c.mount+"/")
	if !ok || sub == "" {
		return "", fmt.Errorf("path %q is not under mount %q", path, c.mount)
	}
	return sub, nil
}

func (c *Client) Status(ctx context.Context) (store.Status, error) {
	resp, err := c.vault.Sys().SealStatusWithContext(ctx)
	if err != nil {
		return store.Status{}, &store.ConnectivityError{Address: c.vault.Address(), Err: err}
	}
	return store.Status{Sealed: resp.Sealed, Version: resp.Version}, nil
}

// Put merges key=value into the secret at path, using check-and-set so a
// concurrent writer is not silently overwritten, then records meta as custom
// metadata of the path.
func (c *Client) Put(ctx context.Context, path, key, value string, meta store.Metadata) error {
	sub, err := c.split(path)
	if err != nil {
		return &store.WriteError{Path: path, Key: key, Err: err}
	}
	kv := c.vault.KVv2(c.mount)

	data := map[string]interface{}{}
	version := 0
	existing, err := kv.Get(ctx, sub)
	switch {
	case errors.Is(err, api.ErrSecretNotFound):
	case err != nil:
		return &store.WriteError{Path: path, Key: key, Err: err}
	default:
		maps.Copy(data, existing.Data)
		if existing.VersionMetadata != nil {
			version = existing.VersionMetadata.Version
		}
	}
	data[key] = value

	written, err := kv.Put(ctx, sub, data, api.WithCheckAndSet(version))
	if err != nil {
		return &store.WriteError{Path: path, Key: key, Err: err}
	}

	if len(meta) > 0 {
		custom := make(map[string]interface{}, len(meta))
		for k, v := range meta.ForKey(key) {
			custom[k] = v
		}
		if err := kv.PatchMetadata(ctx, sub, api.KVMetadataPatchInput{CustomMetadata: custom}); err != nil {
			// the value is stored; metadata is informational
			c.logger.Warn("failed to record secret metadata", zap.String("path", path), zap.Error(err))
		}
	}

	if written != nil && written.VersionMetadata != nil {
		c.logger.Debug("stored secret", zap.String("path", path), zap.String("key", key),
			zap.Int("version", written.VersionMetadata.Version))
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path, key string) (string, error) {
	sub, err := c.split(path)
	if err != nil {
		return "", err
	}
	secret, err := c.vault.KVv2(c.mount).Get(ctx, sub)
	if errors.Is(err, api.ErrSecretNotFound) {
		return "", fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	if err != nil {
		return "", err
	}
	raw, ok := secret.Data[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("%w: %s:%s", store.ErrNotFound, path, key)
	}
	value, ok := raw.(string)
	if !ok {
		return fmt.Sprint(raw), nil
	}
	return value, nil
}

func (c *Client) PathExists(ctx context.Context, path string) (bool, error) {
	sub, err := c.split(path)
	if err != nil {
		return false, err
	}
	secret, err := c.vault.Logical().ReadWithContext(ctx, c.mount+"/metadata/"+sub)
	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 403 {
			// no read access to metadata; the path may still be writable
			return false, nil
		}
		return false, err
	}
	return secret != nil, nil
}
