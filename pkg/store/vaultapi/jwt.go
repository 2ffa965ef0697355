package vaultapi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/vault/api"
)

// JWTLogin authenticates with Vault's JWT auth method.
type JWTLogin struct {
	Role string
	// Mount is the auth mount, "jwt" by default.
	Mount     string
	TokenFile string
	// Now is used for the expiry check; time.Now when nil.
	Now func() time.Time
}

// ReadToken loads the JWT and rejects it if it is malformed or expired.
// The signature is verified by Vault, not here.
func (l *JWTLogin) ReadToken() (string, error) {
	data, err := os.ReadFile(l.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read jwt: %w", err)
	}
	raw := strings.TrimSpace(string(data))

	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("invalid jwt: %w", err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return "", fmt.Errorf("invalid jwt exp claim: %w", err)
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	if exp != nil && !exp.After(now()) {
		return "", fmt.Errorf("jwt expired at %s", exp.Format(time.RFC3339))
	}
	return raw, nil
}

// Login exchanges the JWT for a Vault client token.
func (l *JWTLogin) Login(ctx context.Context, vault *api.Client) (string, error) {
	raw, err := l.ReadToken()
	if err != nil {
		return "", err
	}
	mount := l.Mount
	if mount == "" {
		mount = "jwt"
	}

	secret, err := vault.Logical().WriteWithContext(ctx, "auth/"+strings.Trim(mount, "/")+"/login", map[string]interface{}{
		"role": l.Role,
		"jwt":  raw,
	})
	if err != nil {
		return "", fmt.Errorf("jwt login failed: %w", err)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return "", errors.New("jwt login returned no client token")
	}
	return secret.Auth.ClientToken, nil
}
