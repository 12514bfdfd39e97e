package rpc

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/coordinator/auth"
)

type claimsContextKey struct{}

// open wraps unauthenticated handlers with rate limiting keyed by the
// caller address.
func (s *Service) open(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(w, remoteHost(r)) {
			return
		}
		next(w, r)
	}
}

// session requires a valid bearer session token and injects its claims
// into the request context.
func (s *Service) session(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.verifySession(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if !s.allow(w, claims.Subject) {
			return
		}
		next(w, r.WithContext(withClaims(r.Context(), claims)))
	}
}

// coordinator additionally requires the coordinator claim.
func (s *Service) coordinator(next http.HandlerFunc) http.HandlerFunc {
	return s.session(func(w http.ResponseWriter, r *http.Request) {
		if !claimsFrom(r.Context()).Coordinator {
			writeError(w, api.Errorf(api.CodePermissionDenied, "coordinator privileges required"))
			return
		}
		next(w, r)
	})
}

func (s *Service) verifySession(r *http.Request) (*auth.Claims, error) {
	const scheme = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, scheme) {
		return nil, api.Errorf(api.CodeUnauthenticated, "missing bearer session token")
	}
	claims, err := s.cfg.Authenticator.VerifySession(strings.TrimPrefix(header, scheme))
	if err != nil {
		return nil, api.Errorf(api.CodeUnauthenticated, "invalid session: %v", err)
	}
	return claims, nil
}

func (s *Service) allow(w http.ResponseWriter, key string) bool {
	if s.limiter == nil {
		return true
	}
	if s.limiter.Add(key, 1) == 0 {
		writeError(w, api.Errorf(api.CodeUnavailable, "rate limit exceeded, retry later"))
		return false
	}
	return true
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return claims
}
