// Package backend builds the store.Client selected by the configuration.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/doodlesbykumbi/vaultsweep/pkg/cipher"
	"github.com/doodlesbykumbi/vaultsweep/pkg/config"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store/sqlstore"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store/vaultapi"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store/vaultcli"
)

// Backend is an open client plus the function that releases it.
type Backend struct {
	store.Client
	// Address identifies the store in error messages.
	Address string
	close   func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Options tune Open beyond what the config carries.
type Options struct {
	Logger *zap.Logger
	// Memory is used for the memory backend; a fresh one is created when nil.
	Memory *store.Memory
	// VaultBinary overrides the vault executable for the cli backend.
	VaultBinary string
	// NoRetry disables the retry wrapper.
	NoRetry bool
}

// Open creates the client for cfg.Backend, wrapped with the configured
// timeout and retry policy.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Backend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{Address: cfg.Address}
	switch cfg.Backend {
	case "hashicorp", "vault":
		var jwtLogin *vaultapi.JWTLogin
		if cfg.JWTAuth.Role != "" {
			jwtLogin = &vaultapi.JWTLogin{Role: cfg.JWTAuth.Role, Mount: cfg.JWTAuth.Mount, TokenFile: cfg.JWTAuth.TokenFile}
		}
		c, err := vaultapi.New(ctx, vaultapi.Config{
			Address: cfg.Address,
			Token:   cfg.Token,
			Mount:   cfg.MountPath,
			Timeout: cfg.Timeout,
			JWT:     jwtLogin,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		b.Client = c

	case "cli":
		c, err := vaultcli.New(vaultcli.Config{
			Binary:  opts.VaultBinary,
			Address: cfg.Address,
			Token:   cfg.Token,
			Mount:   cfg.MountPath,
		})
		if err != nil {
			return nil, err
		}
		b.Client = c

	case "sql":
		var c cipher.Cipher
		if cfg.DataKey != "" {
			aesgcm, err := cipher.NewFromBase64(cfg.DataKey)
			if err != nil {
				return nil, &config.Error{Field: "data_key", Err: err}
			}
			c = aesgcm
		}
		s, err := sqlstore.Open(cfg.DatabaseURL, c, logger.Core().Enabled(zap.DebugLevel))
		if err != nil {
			return nil, err
		}
		b.Client = s
		b.Address = "postgres"
		b.close = s.Close

	case "memory":
		m := opts.Memory
		if m == nil {
			m = store.NewMemory()
		}
		b.Client = m
		b.Address = "memory"

	default:
		return nil, &config.Error{Field: "backend", Err: fmt.Errorf("unknown backend %q", cfg.Backend)}
	}

	if !opts.NoRetry {
		b.Client = store.WithRetry(b.Client, store.RetryOptions{
			Attempts: cfg.RetryAttempts,
			Timeout:  cfg.Timeout,
		})
	}
	logger.Debug("opened secret store", zap.String("backend", cfg.Backend), zap.String("address", b.Address))
	return b, nil
}
