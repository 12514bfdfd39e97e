package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/zkmpc/maestro/runtime"
	"github.com/zkmpc/maestro/testing/require"
)

type healthyService struct{}

func (*healthyService) Start()        {}
func (*healthyService) Stop() error   { return nil }
func (*healthyService) Status() error { return nil }

type failingService struct{}

func (*failingService) Start()        {}
func (*failingService) Stop() error   { return nil }
func (*failingService) Status() error { return errors.New("disk full") }

func TestService_Healthz(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	require.NoError(t, registry.RegisterService(&healthyService{}))
	s := NewService(":0", registry)

	rec := httptest.NewRecorder()
	s.healthzHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, strings.Contains(rec.Body.String(), "OK"), "body: %s", rec.Body.String())
}

func TestService_Healthz_ReportsFailure(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	require.NoError(t, registry.RegisterService(&healthyService{}))
	require.NoError(t, registry.RegisterService(&failingService{}))
	s := NewService(":0", registry)

	rec := httptest.NewRecorder()
	s.healthzHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, true, strings.Contains(rec.Body.String(), "ERROR disk full"), "body: %s", rec.Body.String())
}

func TestService_Goroutinez(t *testing.T) {
	s := NewService(":0", runtime.NewServiceRegistry())

	rec := httptest.NewRecorder()
	s.goroutinezHandler(rec, httptest.NewRequest(http.MethodGet, "/goroutinez", nil))
	require.Equal(t, true, strings.Contains(rec.Body.String(), "goroutine"))
}
