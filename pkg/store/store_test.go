package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCheckConnectivity(t *testing.T) {
	ctx := context.Background()

	t.Run("unsealed", func(t *testing.T) {
		c := &MockClient{}
		c.On("Status", mock.Anything).Return(Status{Version: "1.16.0"}, nil)

		status, err := CheckConnectivity(ctx, c, "http://vault:8200")
		require.NoError(t, err)
		assert.Equal(t, "1.16.0", status.Version)
		c.AssertExpectations(t)
	})

	t.Run("sealed", func(t *testing.T) {
		c := &MockClient{}
		c.On("Status", mock.Anything).Return(Status{Sealed: true}, nil)

		_, err := CheckConnectivity(ctx, c, "http://vault:8200")
		var connErr *ConnectivityError
		require.ErrorAs(t, err, &connErr)
		assert.ErrorIs(t, err, ErrSealed)
		assert.Equal(t, "http://vault:8200", connErr.Address)
	})

	t.Run("unreachable", func(t *testing.T) {
		c := &MockClient{}
		c.On("Status", mock.Anything).Return(Status{}, errors.New("connection refused"))

		_, err := CheckConnectivity(ctx, c, "")
		var connErr *ConnectivityError
		require.ErrorAs(t, err, &connErr)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestWriteError(t *testing.T) {
	err := &WriteError{Path: "secret/p", Key: "k", Err: ErrSealed}
	assert.ErrorIs(t, err, ErrSealed)
	assert.Contains(t, err.Error(), "secret/p:k")
}

func TestNewMetadata(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	meta := NewMetadata("config/.env", 3, "api_key", at)
	assert.Equal(t, Metadata{
		"file":        "config/.env",
		"line":        "3",
		"type":        "api_key",
		"detected_at": "2024-05-01T12:00:00Z",
	}, meta)

	assert.Equal(t, map[string]string{
		"config__env_api.file":        "config/.env",
		"config__env_api.line":        "3",
		"config__env_api.type":        "api_key",
		"config__env_api.detected_at": "2024-05-01T12:00:00Z",
	}, meta.ForKey("config__env_api"))
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	exists, err := m.PathExists(ctx, "secret/a")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = m.Get(ctx, "secret/a", "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, "secret/a", "k", "v1", Metadata{"type": "api_key"}))
	require.NoError(t, m.Put(ctx, "secret/a", "other", "x", nil))
	require.NoError(t, m.Put(ctx, "secret/a", "k", "v2", nil))

	value, err := m.Get(ctx, "secret/a", "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", value)

	value, err = m.Get(ctx, "secret/a", "other")
	require.NoError(t, err)
	assert.Equal(t, "x", value)

	entry, ok := m.Entry("secret/a", "k")
	require.True(t, ok)
	assert.Equal(t, 2, entry.Version)

	exists, err = m.PathExists(ctx, "secret/a")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, []string{"secret/a"}, m.Paths("secret/"))

	m.Seal(true)
	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Sealed)
}
