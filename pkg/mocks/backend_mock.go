// Package mocks provides testify mocks for the interfaces Kronion
// consumes but does not implement.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kronion-io/kronion/pkg/runner"
)

// MockBackend is a mock implementation of runner.Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Execute(ctx context.Context, prompt string, opts runner.Options) (*runner.Result, error) {
	args := m.Called(ctx, prompt, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*runner.Result), args.Error(1)
}
