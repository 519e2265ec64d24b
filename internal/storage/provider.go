// Package storage defines the blob storage abstraction used to mirror run
// artifacts (CSV, digest, report, metrics) off the local machine.
package storage

import (
	"context"
)

// Provider defines the common interface for a blob storage provider.
type Provider interface {
	// Save uploads data to a specified object path/key in the blob store.
	Save(ctx context.Context, objectName string, data []byte) error
}

// NoOpProvider discards every object. It is used when no mirror is configured.
type NoOpProvider struct{}

// Save for NoOpProvider does nothing and always returns nil.
func (n *NoOpProvider) Save(_ context.Context, _ string, _ []byte) error {
	return nil
}
