package mocks

import (
	"context"

	features "github.com/UnknownOlympus/hexatlas/internal/features"
	hexgrid "github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	mock "github.com/stretchr/testify/mock"
)

// Interface is a mock type for the repository Interface type.
type Interface struct {
	mock.Mock
}

// SaveFeatureTable provides a mock function with given fields: ctx, city, table
func (_m *Interface) SaveFeatureTable(ctx context.Context, city string, table *features.Table) error {
	ret := _m.Called(ctx, city, table)

	if len(ret) == 0 {
		panic("no return value specified for SaveFeatureTable")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, *features.Table) error); ok {
		r0 = rf(ctx, city, table)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// LoadFeatureTable provides a mock function with given fields: ctx, city, idx
func (_m *Interface) LoadFeatureTable(ctx context.Context, city string, idx *hexgrid.Indexer) (*features.Table, error) {
	ret := _m.Called(ctx, city, idx)

	if len(ret) == 0 {
		panic("no return value specified for LoadFeatureTable")
	}

	var r0 *features.Table
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, *hexgrid.Indexer) (*features.Table, error)); ok {
		return rf(ctx, city, idx)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, *hexgrid.Indexer) *features.Table); ok {
		r0 = rf(ctx, city, idx)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*features.Table)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, *hexgrid.Indexer) error); ok {
		r1 = rf(ctx, city, idx)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewInterface creates a new instance of Interface. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewInterface(t interface {
	mock.TestingT
	Cleanup(func())
}) *Interface {
	mock := &Interface{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
