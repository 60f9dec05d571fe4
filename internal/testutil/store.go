package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dgellow/admin-console/internal/session"
)

var _ session.Store = (*MockStore)(nil)

// MockStore is a testify mock of session.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Load(ctx context.Context, id string) (session.Record, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(session.Record), args.Error(1)
}

func (m *MockStore) Save(ctx context.Context, rec session.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) Expire(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
