// Package rpc serves the coordinator's HTTP JSON API. Every callable is a
// thin transport shim: decode, authenticate, delegate to the owning engine,
// map the error code. Queue movement, budgets and verification verdicts all
// live behind the managers, so two coordinator processes serving the same
// record store stay consistent.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	leakybucket "github.com/kevinms/leakybucket-go"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/maestro/coordinator/auth"
	"github.com/zkmpc/maestro/coordinator/ceremony"
	"github.com/zkmpc/maestro/coordinator/db/iface"
	"github.com/zkmpc/maestro/coordinator/participant"
	"github.com/zkmpc/maestro/coordinator/storage"
	"github.com/zkmpc/maestro/coordinator/verify"
	"github.com/zkmpc/maestro/runtime"
)

var _ runtime.Service = (*Service)(nil)

var log = logrus.WithField("prefix", "rpc")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rateBurstSeconds sizes the leaky bucket capacity relative to the refill
// rate, so short client bursts survive while sustained abuse does not.
const rateBurstSeconds = 5

// Config parameters for the callable API service.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	// RequestsPerSecond is the per-caller rate limit. Zero disables
	// limiting, which the tests rely on.
	RequestsPerSecond float64

	Authenticator *auth.Authenticator
	Database      iface.Database
	Store         storage.Store
	Participants  *participant.Manager
	Ceremonies    *ceremony.Manager
	Verifier      *verify.Service
}

// Service is the HTTP JSON front of the coordinator.
type Service struct {
	cfg          *Config
	ctx          context.Context
	cancel       context.CancelFunc
	router       *mux.Router
	server       *http.Server
	limiter      *leakybucket.Collector
	startFailure error
}

// New builds the router and all handlers. The server does not listen until
// Start.
func New(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.RequestsPerSecond > 0 {
		capacity := int64(cfg.RequestsPerSecond * rateBurstSeconds)
		if capacity < 1 {
			capacity = 1
		}
		s.limiter = leakybucket.NewCollector(cfg.RequestsPerSecond, capacity, true /* deleteEmptyBuckets */)
	}
	s.router = s.newRouter()
	return s
}

func (s *Service) newRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/auth/login", s.open(s.handleLogin)).Methods(http.MethodPost)

	r.HandleFunc("/v1/ceremonies", s.session(s.handleListCeremonies)).Methods(http.MethodGet)
	r.HandleFunc("/v1/ceremonies", s.coordinator(s.handleSetupCeremony)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremonies/{id}", s.session(s.handleGetCeremony)).Methods(http.MethodGet)
	r.HandleFunc("/v1/ceremonies/{id}/bucket", s.coordinator(s.handleCreateBucket)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremonies/{id}/circuits", s.session(s.handleListCircuits)).Methods(http.MethodGet)
	r.HandleFunc("/v1/ceremonies/{id}/join", s.session(s.handleJoin)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremonies/{id}/events", s.session(s.handleEvents)).Methods(http.MethodGet)

	r.HandleFunc("/v1/ceremonies/{id}/participants/me", s.session(s.handleGetSelf)).Methods(http.MethodGet)
	r.HandleFunc("/v1/ceremonies/{id}/participants/me/next-circuit", s.session(s.handleNextCircuit)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremonies/{id}/participants/me/next-step", s.session(s.handleNextStep)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremonies/{id}/participants/me/resume", s.session(s.handleResume)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremonies/{id}/participants/me/upload-id", s.session(s.handleUploadID)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremonies/{id}/participants/me/chunk", s.session(s.handleChunk)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremonies/{id}/participants/me/contribution-meta", s.session(s.handleContributionMeta)).Methods(http.MethodPost)

	r.HandleFunc("/v1/ceremonies/{id}/circuits/{circuitId}/verify", s.session(s.handleVerifyContribution)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremonies/{id}/circuits/{circuitId}/finalize", s.coordinator(s.handleFinalizeCircuit)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremonies/{id}/prepare-finalization", s.coordinator(s.handlePrepareFinalization)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremonies/{id}/finalize", s.coordinator(s.handleFinalizeCeremony)).Methods(http.MethodPost)

	r.HandleFunc("/v1/storage/multipart/start", s.session(s.handleStartMultiPartUpload)).Methods(http.MethodPost)
	r.HandleFunc("/v1/storage/multipart/urls", s.session(s.handlePreSignedUploadParts)).Methods(http.MethodPost)
	r.HandleFunc("/v1/storage/multipart/complete", s.session(s.handleCompleteMultiPartUpload)).Methods(http.MethodPost)
	r.HandleFunc("/v1/storage/download-url", s.session(s.handleDownloadURL)).Methods(http.MethodPost)

	return r
}

// Router exposes the handler tree for in-process tests.
func (s *Service) Router() *mux.Router {
	return s.router
}

// Start the API server.
func (s *Service) Start() {
	address := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              address,
		Handler:           s.corsMiddleware(s.router),
		ReadHeaderTimeout: time.Minute,
	}
	go func() {
		log.WithField("address", address).Info("Serving coordinator API")
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("Failed to serve coordinator API")
			s.startFailure = err
		}
	}()
}

// Stop the API server with a graceful shutdown.
func (s *Service) Stop() error {
	if s.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Warn("Existing connections terminated")
			} else {
				log.WithError(err).Error("Failed to gracefully shut down server")
			}
		}
	}
	s.cancel()
	return nil
}

// Status returns an error if the server failed to bind or serve.
func (s *Service) Status() error {
	return s.startFailure
}

func (s *Service) corsMiddleware(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodPost, http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowCredentials: true,
		MaxAge:           600,
		AllowedHeaders:   []string{"*"},
	})
	return c.Handler(h)
}
