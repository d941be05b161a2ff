package mocks

import (
	"context"

	models "github.com/UnknownOlympus/hexatlas/internal/models"
	orb "github.com/paulmach/orb"
	mock "github.com/stretchr/testify/mock"
)

// PointFetcher is a mock type for the PointFetcher type.
type PointFetcher struct {
	mock.Mock
}

// FetchPoints provides a mock function with given fields: ctx, boundary, category
func (_m *PointFetcher) FetchPoints(ctx context.Context, boundary orb.Ring, category models.Category) ([]orb.Point, error) {
	ret := _m.Called(ctx, boundary, category)

	if len(ret) == 0 {
		panic("no return value specified for FetchPoints")
	}

	var r0 []orb.Point
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, orb.Ring, models.Category) ([]orb.Point, error)); ok {
		return rf(ctx, boundary, category)
	}
	if rf, ok := ret.Get(0).(func(context.Context, orb.Ring, models.Category) []orb.Point); ok {
		r0 = rf(ctx, boundary, category)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]orb.Point)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, orb.Ring, models.Category) error); ok {
		r1 = rf(ctx, boundary, category)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewPointFetcher creates a new instance of PointFetcher. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewPointFetcher(t interface {
	mock.TestingT
	Cleanup(func())
}) *PointFetcher {
	mock := &PointFetcher{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
