package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"docgate/internal/identity"
	"docgate/internal/provider"
	"docgate/pkg/logging"
)

const (
	// HeaderUserKey carries the user key of callers that have no bearer token.
	HeaderUserKey = "X-User-Key"
	// QueryUserKey is the legacy SSE form of HeaderUserKey.
	QueryUserKey = "user_key"
)

// keySource records where a user key was found.
type keySource int

const (
	sourceNone keySource = iota
	sourceBearer
	sourceHeader
)

// userKeyFrom extracts the caller's user key from r.
func userKeyFrom(r *http.Request) (string, keySource) {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		if tok := strings.TrimSpace(auth[7:]); tok != "" {
			return tok, sourceBearer
		}
	}
	if key := strings.TrimSpace(r.Header.Get(HeaderUserKey)); key != "" {
		return key, sourceHeader
	}
	if key := strings.TrimSpace(r.URL.Query().Get(QueryUserKey)); key != "" {
		return key, sourceHeader
	}
	return "", sourceNone
}

type keySourceKey struct{}

// withIdentity attaches the request identity to every request.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, src := userKeyFrom(r)
		ctx := identity.WithIdentity(r.Context(), identity.Identity{
			UserKey: key,
			BaseURL: s.gateway.BaseURL(r),
		})
		ctx = context.WithValue(ctx, keySourceKey{}, src)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireToken guards /mcp in user mode. Requests without a user key are
// challenged; a session id alone is not a credential. Bearer callers must present
// a token the provider can resolve; otherwise they are challenged so their client
// can run the OAuth flow. Callers with a plain user key pass through and are told
// how to log in by the tools.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens.TenantMode() {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		id, _ := identity.FromContext(ctx)
		src, _ := ctx.Value(keySourceKey{}).(keySource)

		if id.UserKey == "" {
			s.challenge(w, r, "")
			return
		}

		tok, err := s.tokens.Token(ctx)
		switch {
		case err == nil:
			next.ServeHTTP(w, r.WithContext(identity.WithResolvedToken(ctx, tok)))
		case errors.Is(err, provider.ErrAuthRequired) && src == sourceBearer:
			s.challenge(w, r, "invalid_token")
		default:
			if !errors.Is(err, provider.ErrAuthRequired) {
				logging.Warn("Server", "Token resolution failed for user %s: %v", logging.TruncateKey(id.UserKey), err)
			}
			next.ServeHTTP(w, r)
		}
	})
}

// challenge answers 401 with a resource metadata pointer.
func (s *Server) challenge(w http.ResponseWriter, r *http.Request, code string) {
	value := fmt.Sprintf(`Bearer resource_metadata=%q`, s.gateway.ResourceMetadataURL(r))
	if code != "" {
		value += fmt.Sprintf(`, error=%q`, code)
	}
	w.Header().Set("WWW-Authenticate", value)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if code == "" {
		code = "unauthorized"
	}
	_, _ = fmt.Fprintf(w, `{"error":%q,"error_description":"authorization required"}`, code)
}

// streamableContext carries the request identity into tool calls on /mcp. Every
// streamable request carries its own credentials, so the session registry is not
// consulted.
func (s *Server) streamableContext(ctx context.Context, r *http.Request) context.Context {
	id, _ := identity.FromContext(r.Context())
	return identity.WithIdentity(ctx, id)
}

type sseStreamKey struct{}

// markSSEStream tags the context of an /sse stream request. Only those sessions
// are bound, since the transport unregisters them when the stream ends.
func markSSEStream(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sseStreamKey{}, true)))
	})
}

func isSSEStream(ctx context.Context) bool {
	v, _ := ctx.Value(sseStreamKey{}).(bool)
	return v
}

// sseContext resolves /message posts through the session registry, since only the
// stream request carried the user key.
func (s *Server) sseContext(ctx context.Context, r *http.Request) context.Context {
	id, _ := identity.FromContext(r.Context())
	if id.UserKey == "" {
		if key, ok := s.sessions.Resolve(r.URL.Query().Get("sessionId")); ok {
			id.UserKey = key
		}
	}
	return identity.WithIdentity(ctx, id)
}

func (s *Server) onRegisterSession(ctx context.Context, session mcpserver.ClientSession) {
	if !isSSEStream(ctx) {
		return
	}
	id, ok := identity.FromContext(ctx)
	if !ok || id.UserKey == "" {
		logging.Debug("Server", "Session %s registered without identity", session.SessionID())
		return
	}
	s.sessions.Bind(session.SessionID(), id.UserKey)
	s.observer.SetSessions(s.sessions.Len())
}

func (s *Server) onUnregisterSession(_ context.Context, session mcpserver.ClientSession) {
	s.sessions.Unbind(session.SessionID())
	s.observer.SetSessions(s.sessions.Len())
}

// callerIdentity returns the identity for a tool call, consulting the session
// registry when the context carries no user key.
func (s *Server) callerIdentity(ctx context.Context) (identity.Identity, string) {
	id, _ := identity.FromContext(ctx)
	var sessionID string
	if session := mcpserver.ClientSessionFromContext(ctx); session != nil {
		sessionID = session.SessionID()
	}
	if id.UserKey == "" && sessionID != "" {
		if key, ok := s.sessions.Resolve(sessionID); ok {
			id.UserKey = key
		}
	}
	return id, sessionID
}
