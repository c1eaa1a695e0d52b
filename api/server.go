// Package api exposes the chat service over HTTP and tracks presence through
// websocket connections.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"dmchat/attachments"
	"dmchat/chat"
	"dmchat/models"
)

const (
	// DefaultMaxUploadBytes bounds one multipart upload.
	DefaultMaxUploadBytes = 32 << 20
	// DefaultShutdownTimeout bounds graceful shutdown of the HTTP server.
	DefaultShutdownTimeout = 10 * time.Second
)

// ChatService is the part of chat.Service the handlers call.
type ChatService interface {
	CreateMessage(ctx context.Context, in chat.NewMessage) (models.Message, error)
	MarkThreadRead(ctx context.Context, selfID, otherID string) (chat.ThreadResult, error)
	ListThread(ctx context.Context, userA, userB string) ([]models.Message, error)
	BuildInbox(ctx context.Context, selfID string) (models.Inbox, error)
	Healthy(ctx context.Context) error
}

// BlobStore places uploads before a message referencing them is created.
type BlobStore interface {
	Put(ctx context.Context, file attachments.TempFile, kind models.MessageKind) (string, error)
	Remove(ctx context.Context, ref string) error
	TempDir() string
	Root() string
}

// SessionRegistry records open websocket connections per user.
type SessionRegistry interface {
	Connect(userID string) (release func())
}

// Options wires a Server to its collaborators.
type Options struct {
	Chat     ChatService
	Blobs    BlobStore
	Sessions SessionRegistry
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

// Server is the HTTP transport of the chat service.
type Server struct {
	chat     ChatService
	blobs    BlobStore
	sessions SessionRegistry
	gatherer prometheus.Gatherer
	origins  []string
	maxBytes int64
	log      zerolog.Logger
	upgrader websocket.Upgrader
	handler  http.Handler
}

// NewServer validates opts and builds the router.
func NewServer(opts Options) (*Server, error) {
	if opts.Chat == nil {
		return nil, errors.New("api: chat service is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("api: session registry is required")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		chat:     opts.Chat,
		blobs:    opts.Blobs,
		sessions: opts.Sessions,
		gatherer: opts.Gatherer,
		origins:  opts.AllowedOrigins,
		maxBytes: opts.MaxUploadBytes,
		log:      opts.Logger.With().Str("component", "api").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	messages := r.PathPrefix("/api/messages").Subrouter()
	messages.HandleFunc("/add-message", s.handleAddMessage).Methods(http.MethodPost)
	messages.HandleFunc("/get-messages/{from}/{to}", s.handleGetMessages).Methods(http.MethodGet)
	messages.HandleFunc("/add-image-message", s.handleAddImageMessage).Methods(http.MethodPost)
	messages.HandleFunc("/add-audio-message", s.handleAddAudioMessage).Methods(http.MethodPost)
	messages.HandleFunc("/get-initial-contacts/{from}", s.handleGetInitialContacts).Methods(http.MethodGet)
	messages.HandleFunc("/list/{a}/{b}", s.handleListThread).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if s.blobs != nil {
		r.PathPrefix("/uploads/").Handler(s.uploadsHandler()).Methods(http.MethodGet, http.MethodHead)
	}

	return cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: !allowsAny(s.origins),
	}).Handler(r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || allowsAny(s.origins) {
		return true
	}
	for _, allowed := range s.origins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		// The recorder does not implement http.Hijacker.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(started)).
			Msg("request")
	})
}
