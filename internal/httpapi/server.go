// Package httpapi exposes the chat orchestrator over HTTP and WebSocket.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/brightgems/openai-api-server/internal/auth"
	"github.com/brightgems/openai-api-server/internal/chat"
	"github.com/brightgems/openai-api-server/internal/history"
	"github.com/brightgems/openai-api-server/internal/storage"
)

// ChatService is the part of the orchestrator the handlers use.
type ChatService interface {
	Ask(ctx context.Context, req chat.Request) (chat.Reply, error)
	AskStream(ctx context.Context, req chat.Request, emit func(string) error) (chat.Reply, error)
	Embed(ctx context.Context, text, model string) ([]float32, error)
	History(id string) (history.History, bool)
	Conversations() []string
	Reset(id string)
	Rollback(id string, n int) (history.History, error)
}

// InteractionLog is the read side of the interaction recorder.
type InteractionLog interface {
	LoadInteractions() ([]storage.Event, error)
	LoadConversation(id string) ([]storage.Event, error)
}

type Deps struct {
	Chat   ChatService
	Users  *auth.Service
	Tokens *auth.Issuer
	// Admins may manage the allowlist through /users.
	Admins []string
	// Interactions backs /stats and the per-conversation log; nil disables
	// both routes.
	Interactions InteractionLog
	// Upstream and UpstreamKey back the /api/ proxy; a nil Upstream
	// disables it.
	Upstream    *url.URL
	UpstreamKey string
	CORSOrigins []string
	Log         *zap.Logger
}

type Server struct {
	deps   Deps
	admins map[string]bool
	log    *zap.Logger

	mu      sync.Mutex
	server  *http.Server
	stopped bool
}

func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	admins := make(map[string]bool, len(deps.Admins))
	for _, a := range deps.Admins {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			admins[a] = true
		}
	}
	return &Server{deps: deps, admins: admins, log: log.Named("http")}
}

// Handler returns the routed handler wrapped with CORS and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /login", s.handleLogin)

	mux.Handle("GET /ping", s.requireAuth(http.HandlerFunc(s.handlePing)))
	mux.Handle("POST /chat", s.requireAuth(http.HandlerFunc(s.handleChat)))
	mux.Handle("POST /chat_stream", s.requireAuth(http.HandlerFunc(s.handleChatStream)))
	mux.Handle("GET /ws/chat", s.requireAuth(http.HandlerFunc(s.handleChatSocket)))
	mux.Handle("GET /chat", s.requireAuth(http.HandlerFunc(s.handleChatSocket)))
	mux.Handle("POST /embedding", s.requireAuth(http.HandlerFunc(s.handleEmbedding)))
	mux.Handle("GET /conversations", s.requireAuth(http.HandlerFunc(s.handleListConversations)))
	mux.Handle("GET /conversations/{id}", s.requireAuth(http.HandlerFunc(s.handleGetConversation)))
	mux.Handle("DELETE /conversations/{id}", s.requireAuth(http.HandlerFunc(s.handleDeleteConversation)))
	mux.Handle("POST /conversations/{id}/rollback", s.requireAuth(http.HandlerFunc(s.handleRollback)))
	if s.deps.Interactions != nil {
		mux.Handle("GET /stats", s.requireAuth(http.HandlerFunc(s.handleStats)))
		mux.Handle("GET /conversations/{id}/interactions", s.requireAuth(http.HandlerFunc(s.handleConversationLog)))
	}
	mux.Handle("GET /users", s.requireAuth(s.requireAdmin(http.HandlerFunc(s.handleListUsers))))
	mux.Handle("PUT /users/{username}", s.requireAuth(s.requireAdmin(http.HandlerFunc(s.handlePutUser))))
	mux.Handle("DELETE /users/{username}", s.requireAuth(s.requireAdmin(http.HandlerFunc(s.handleDeleteUser))))
	if s.deps.Upstream != nil {
		mux.Handle("/api/", s.requireAuth(s.upstreamProxy()))
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.deps.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
	})
	return s.accessLog(c.Handler(mux))
}

// Start blocks serving on addr until Stop is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: streamed replies can outlive any fixed bound
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	s.log.Info("listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully. A Start that has not begun
// listening yet returns immediately.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
