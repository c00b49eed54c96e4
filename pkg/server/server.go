package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/yetiwatch/yetiwatch/pkg/common"
	"github.com/yetiwatch/yetiwatch/pkg/controller"
	"github.com/yetiwatch/yetiwatch/pkg/log"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// tokenVerifier validates a raw bearer token and returns the email and
// subject claims.
type tokenVerifier func(ctx context.Context, rawToken string) (string, string, error)

// Server handles the HTTP API for one device. All device access goes through
// the controller.
type Server struct {
	ctrl *controller.Controller

	listenAddr string
	httpServer *http.Server

	oidcAudience  string
	oidcVerifiers map[string]tokenVerifier
	bypassAuth    bool
	serverName    string

	liveMu    sync.Mutex
	liveConns map[chan types.DeviceSnapshot]struct{}
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(ctrl *controller.Controller) *Server {
	srv := &Server{
		ctrl:       ctrl,
		serverName: "yetiwatch/" + common.Version(),
		liveConns:  map[chan types.DeviceSnapshot]struct{}{},
	}

	// get the port from PORT when running in a container runtime
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	oidcIssuer := lflag.String("oidc-issuer", "https://accounts.google.com", "OIDC issuer for bearer token validation")
	oidcAudience := lflag.String("oidc-audience", "", "Audience/client ID bearer tokens must carry, empty disables auth")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			verifier := provider.Verifier(&oidc.Config{ClientID: *oidcAudience})
			srv.oidcVerifiers = map[string]tokenVerifier{
				*oidcIssuer: func(ctx context.Context, raw string) (string, string, error) {
					idToken, err := verifier.Verify(ctx, raw)
					if err != nil {
						return "", "", err
					}
					var claims struct {
						Email string `json:"email"`
					}
					if err := idToken.Claims(&claims); err != nil {
						return "", "", err
					}
					return claims.Email, idToken.Subject, nil
				},
			}
			srv.oidcAudience = *oidcAudience
		} else {
			srv.bypassAuth = true
		}
	})

	ctrl.Subscribe(srv.broadcastSnapshot)
	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/status", s.handleStatus)
	apiMux.HandleFunc("POST /api/refresh", s.handleRefresh)
	apiMux.HandleFunc("POST /api/command", s.handleCommand)
	apiMux.HandleFunc("GET /api/device", s.handleDevice)
	apiMux.HandleFunc("GET /api/network", s.handleNetwork)
	apiMux.HandleFunc("GET /api/energy", s.handleEnergy)
	apiMux.HandleFunc("GET /api/history", s.handleHistory)
	apiMux.HandleFunc("GET /api/commands", s.handleCommands)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)

	root := http.NewServeMux()
	// the live stream hijacks the connection for the websocket, so it stays
	// outside the gzip wrapper
	root.Handle("GET /api/live", s.authMiddleware(http.HandlerFunc(s.handleLive)))
	root.Handle("/", gziphandler.GzipHandler(mux))
	return s.revisionMiddleware(s.securityHeadersMiddleware(root))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
