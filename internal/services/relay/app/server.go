// Package server hosts the relay HTTP/WebSocket process: session
// creation, the admission gate endpoints, identity key storage, and the
// per-session fan-out channels.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/veilroom/veilroom/internal/platform/id"
	"github.com/veilroom/veilroom/internal/relay"
	"github.com/veilroom/veilroom/internal/services/relay/app/static"
	"github.com/veilroom/veilroom/internal/services/relay/storage"
	"github.com/veilroom/veilroom/internal/services/relay/storage/sqlite"
	"github.com/veilroom/veilroom/internal/session"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultSweepInterval     = 5 * time.Minute
	defaultSweepMaxAge       = time.Minute

	maxUploadBytes = 10 << 20
)

// Config defines the inputs for the relay process.
type Config struct {
	HTTPAddr      string
	StoragePath   string
	PublicBaseURL string
	UploadsDir    string

	JoinTTL            time.Duration
	ConsumeSlotOnAdmit bool

	SweepInterval time.Duration
	SweepMaxAge   time.Duration

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the relay HTTP/WebSocket process and its expiry sweeper.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
	sweeper         *sweeper
	sweeperStop     context.CancelFunc
	sweeperDone     chan struct{}
}

// app bundles the collaborators shared by every handler.
type app struct {
	store        storage.Store
	gate         *session.Gate
	assigner     *session.Assigner
	registry     *relay.Registry
	baseURL      string
	uploadsDir   string
	newSessionID func() (string, error)
	now          func() time.Time
}

func newApp(store storage.Store, config Config) (*app, error) {
	assigner, err := session.NewAssigner(store)
	if err != nil {
		return nil, fmt.Errorf("init avatar assigner: %w", err)
	}
	return &app{
		store: store,
		gate: session.NewGate(store, session.GateConfig{
			JoinTTL:            config.JoinTTL,
			ConsumeSlotOnAdmit: config.ConsumeSlotOnAdmit,
		}),
		assigner:     assigner,
		registry:     relay.NewRegistry(),
		baseURL:      strings.TrimRight(strings.TrimSpace(config.PublicBaseURL), "/"),
		uploadsDir:   strings.TrimSpace(config.UploadsDir),
		newSessionID: id.NewID,
		now:          time.Now,
	}, nil
}

func newHandler(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(static.FS))))
	mux.HandleFunc("/create_session", requirePost(a.handleCreateSession))
	mux.HandleFunc("/get_security_question", requirePost(a.handleGetSecurityQuestion))
	mux.HandleFunc("/verify_security_answer", requirePost(a.handleVerifySecurityAnswer))
	mux.HandleFunc("/store_identity_key", requirePost(a.handleStoreIdentityKey))
	if a.uploadsDir != "" {
		mux.HandleFunc("/upload", requirePost(a.handleUpload))
	}
	mux.HandleFunc("/ws/", a.handleWS)
	return mux
}

func requirePost(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// NewServer builds a configured relay server over a SQLite store.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.StoragePath) == "" {
		return nil, errors.New("storage path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	store, err := sqlite.Open(config.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open relay store: %w", err)
	}

	a, err := newApp(store, config)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(a),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	sweeperCtx, sweeperStop := context.WithCancel(context.Background())
	sw := newSweeper(store, a.assigner, config.SweepInterval, config.SweepMaxAge)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sw.run(sweeperCtx)
	}()

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
		sweeper:         sw,
		sweeperStop:     sweeperStop,
		sweeperDone:     sweeperDone,
	}, nil
}

// Run creates and serves a relay server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init relay server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve relay: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("relay server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("relay server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.sweeperStop != nil {
		s.sweeperStop()
	}
	if s.sweeperDone != nil {
		<-s.sweeperDone
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close relay store: %v", err)
		}
	}
}
