// Package store defines the narrow contract vaultsweep uses to reach a secret
// store, independent of the backend transport.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned by Get when the path or key does not exist.
var ErrNotFound = errors.New("secret not found")

// ErrSealed is wrapped by ConnectivityError when the store reports sealed.
var ErrSealed = errors.New("store is sealed")

// Status is the result of a connectivity check.
type Status struct {
	Sealed bool
	// Version is informational and may be empty.
	Version string
}

// Metadata is stored alongside each secret value.
type Metadata map[string]string

// NewMetadata describes where a secret was detected.
func NewMetadata(file string, line int, typ string, detectedAt time.Time) Metadata {
	return Metadata{
		"file":        file,
		"line":        strconv.Itoa(line),
		"type":        typ,
		"detected_at": detectedAt.UTC().Format(time.RFC3339),
	}
}

// ForKey returns the entries named "<key>.<name>". Backends whose metadata
// belongs to a path rather than a key use it so keys sharing a path keep
// their own entries.
func (m Metadata) ForKey(key string) map[string]string {
	out := make(map[string]string, len(m))
	for name, v := range m {
		out[key+"."+name] = v
	}
	return out
}

// Client is the store contract. All calls block until the store answers.
type Client interface {
	// Status reports whether the store is reachable and unsealed.
	Status(ctx context.Context) (Status, error)
	// Put writes key=value under path, keeping other keys at that path.
	Put(ctx context.Context, path, key, value string, meta Metadata) error
	// Get returns the value of key at path, or ErrNotFound.
	Get(ctx context.Context, path, key string) (string, error)
	// PathExists is best-effort; paths are created implicitly by Put.
	PathExists(ctx context.Context, path string) (bool, error)
}

// ConnectivityError means the store cannot be used for this run.
type ConnectivityError struct {
	Address string
	Err     error
}

func (e *ConnectivityError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("secret store unavailable: %v", e.Err)
	}
	return fmt.Sprintf("secret store at %s unavailable: %v", e.Address, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// WriteError means a single secret could not be persisted.
type WriteError struct {
	Path string
	Key  string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to store %s:%s: %v", e.Path, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// CheckConnectivity calls Status and converts any failure, including a
// sealed store, into a ConnectivityError.
func CheckConnectivity(ctx context.Context, c Client, address string) (Status, error) {
	status, err := c.Status(ctx)
	if err != nil {
		var connErr *ConnectivityError
		if errors.As(err, &connErr) {
			return status, err
		}
		return status, &ConnectivityError{Address: address, Err: err}
	}
	if status.Sealed {
		return status, &ConnectivityError{Address: address, Err: ErrSealed}
	}
	return status, nil
}
