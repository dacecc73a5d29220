package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a mock implementation of Store
type MockStorage struct {
	mock.Mock
}

// NewMockStorage creates a new mock storage
func NewMockStorage(t mock.TestingT) *MockStorage {
	mock := &MockStorage{}
	mock.Test(t)
	return mock
}

// Load mocks the Load method
func (m *MockStorage) Load(ctx context.Context, ns Namespace) (Document, error) {
	args := m.Called(ctx, ns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Document), args.Error(1)
}

// Save mocks the Save method
func (m *MockStorage) Save(ctx context.Context, ns Namespace, doc Document) error {
	args := m.Called(ctx, ns, doc)
	return args.Error(0)
}

// Update mocks the Update method. A Document passed as the first return value is
// handed to fn, so tests can drive the mutation and still fail the write.
func (m *MockStorage) Update(ctx context.Context, ns Namespace, fn func(Document) error) error {
	args := m.Called(ctx, ns, fn)
	if doc, ok := args.Get(0).(Document); ok {
		if err := fn(doc); err != nil {
			return err
		}
	}
	return args.Error(1)
}

// EnsureEntity mocks the EnsureEntity method
func (m *MockStorage) EnsureEntity(ctx context.Context, ns Namespace, id string, factory func() Record) (Record, error) {
	args := m.Called(ctx, ns, id, factory)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Record), args.Error(1)
}
