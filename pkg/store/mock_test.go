package store

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient implements Client for testing using testify/mock
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Status(ctx context.Context) (Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(Status), args.Error(1)
}

func (m *MockClient) Put(ctx context.Context, path, key, value string, meta Metadata) error {
	args := m.Called(ctx, path, key, value, meta)
	return args.Error(0)
}

func (m *MockClient) Get(ctx context.Context, path, key string) (string, error) {
	args := m.Called(ctx, path, key)
	return args.String(0), args.Error(1)
}

func (m *MockClient) PathExists(ctx context.Context, path string) (bool, error) {
	args := m.Called(ctx, path)
	return args.Bool(0), args.Error(1)
}
