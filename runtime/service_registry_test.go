package runtime

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

type mockService struct {
	status error
}

func (*mockService) Start()          {}
func (*mockService) Stop() error     { return nil }
func (m *mockService) Status() error { return m.status }

type secondMockService struct {
	status error
}

func (*secondMockService) Start()          {}
func (*secondMockService) Stop() error     { return nil }
func (s *secondMockService) Status() error { return s.status }

func TestRegisterService_Twice(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	require.NoError(t, registry.RegisterService(m))
	require.Equal(t, 1, len(registry.order))
	assert.ErrorContains(t, "service already exists", registry.RegisterService(m))
}

func TestRegisterService_Different(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	s := &secondMockService{}
	require.NoError(t, registry.RegisterService(m))
	require.NoError(t, registry.RegisterService(s))
	require.Equal(t, 2, len(registry.order))

	_, exists := registry.services[reflect.TypeOf(m)]
	assert.Equal(t, true, exists, "service of type %v not registered", reflect.TypeOf(m))
	_, exists = registry.services[reflect.TypeOf(s)]
	assert.Equal(t, true, exists, "service of type %v not registered", reflect.TypeOf(s))
}

func TestFetchService_OK(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	require.NoError(t, registry.RegisterService(m))

	assert.ErrorContains(t, "input must be of pointer type", registry.FetchService(*m))

	var missing *secondMockService
	assert.ErrorContains(t, "unknown service", registry.FetchService(&missing))

	var fetched *mockService
	require.NoError(t, registry.FetchService(&fetched))
	require.Equal(t, m, fetched)
}

func TestStatuses(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	s := &secondMockService{}
	require.NoError(t, registry.RegisterService(m))
	require.NoError(t, registry.RegisterService(s))

	m.status = errors.New("record store unreachable")

	statuses := registry.Statuses()
	assert.ErrorContains(t, "record store unreachable", statuses[reflect.TypeOf(m)])
	assert.NoError(t, statuses[reflect.TypeOf(s)])
}
