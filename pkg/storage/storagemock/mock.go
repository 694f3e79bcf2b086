package storagemock

import (
	"context"

	"github.com/raterudder/energyid-monitor/pkg/storage"
	"github.com/raterudder/energyid-monitor/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) EnsureReady(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDatabase) LatestToken(ctx context.Context) (*types.Token, error) {
	args := m.Called(ctx)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		tok, _ := args.Get(0).(*types.Token)
		return tok, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) AppendToken(ctx context.Context, token types.Token) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
