package bridge

import (
	"context"

	"github.com/bitfsorg/anchorstore/hasher"
)

// MockBridge is a test double for Bridge.
// All function fields must be set before the corresponding method is called.
type MockBridge struct {
	SubmitFn func(ctx context.Context, fileHash hasher.Digest, metadata map[string]string) (string, error)
	PollFn   func(ctx context.Context, txID string) (PollResult, error)
}

// Compile-time interface check.
var _ Bridge = (*MockBridge)(nil)

func (m *MockBridge) Submit(ctx context.Context, fileHash hasher.Digest, metadata map[string]string) (string, error) {
	return m.SubmitFn(ctx, fileHash, metadata)
}

func (m *MockBridge) Poll(ctx context.Context, txID string) (PollResult, error) {
	return m.PollFn(ctx, txID)
}
