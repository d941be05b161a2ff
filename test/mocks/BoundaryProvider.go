package mocks

import (
	"context"

	orb "github.com/paulmach/orb"
	mock "github.com/stretchr/testify/mock"
)

// BoundaryProvider is a mock type for the BoundaryProvider type.
type BoundaryProvider struct {
	mock.Mock
}

// Boundary provides a mock function with given fields: ctx, place
func (_m *BoundaryProvider) Boundary(ctx context.Context, place string) (orb.Ring, error) {
	ret := _m.Called(ctx, place)

	if len(ret) == 0 {
		panic("no return value specified for Boundary")
	}

	var r0 orb.Ring
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (orb.Ring, error)); ok {
		return rf(ctx, place)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) orb.Ring); ok {
		r0 = rf(ctx, place)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(orb.Ring)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, place)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewBoundaryProvider creates a new instance of BoundaryProvider. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewBoundaryProvider(t interface {
	mock.TestingT
	Cleanup(func())
}) *BoundaryProvider {
	mock := &BoundaryProvider{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
