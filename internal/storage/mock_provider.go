package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a testify mock of Provider.
type MockProvider struct {
	mock.Mock
}

// Save records the call and returns the configured error.
func (m *MockProvider) Save(ctx context.Context, objectName string, data []byte) error {
	args := m.Called(ctx, objectName, data)
	return args.Error(0) //nolint:wrapcheck
}
