package routing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"tutorbff/pkg/handlers"
	"tutorbff/pkg/middleware"
)

const shutdownTimeout = 15 * time.Second

// InitRoutes registers the BFF API. Paths are registered in full rather than
// through subrouters so /auth/signin and /auth/signup fall through to the
// page handler.
func InitRoutes(r *mux.Router, h *handlers.Handler) {
	/* session endpoints */
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost).Name("login")
	r.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost).Name("register")
	r.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost).Name("logout")
	r.HandleFunc("/auth/signout", h.SignOut).Methods(http.MethodGet, http.MethodPost).Name("signout")
	r.HandleFunc("/auth/me", h.Me).Methods(http.MethodGet).Name("me")
	r.HandleFunc("/auth/refresh", h.Refresh).Methods(http.MethodPost).Name("refresh")

	/* generic proxy */
	r.PathPrefix(handlers.ProxyPrefix + "/").HandlerFunc(h.Proxy).Name("proxy")

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet, http.MethodHead).Name("health")
}

// ServePages serves the single-page app from dir behind the edge gate.
// Unknown paths get index.html so client-side routing works.
func ServePages(r *mux.Router, dir string, gate middleware.GateConfig, logger *slog.Logger) {
	fs := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")

	pages := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		clean := path.Clean("/" + req.URL.Path)
		if clean != "/" {
			if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(clean))); err == nil && !info.IsDir() {
				fs.ServeHTTP(w, req)
				return
			}
		}
		if _, err := os.Stat(index); err != nil {
			logger.Warn("index.html not found", slog.String("dir", dir))
			http.NotFound(w, req)
			return
		}
		http.ServeFile(w, req, index)
	})

	r.PathPrefix("/").Handler(middleware.Gate(gate)(pages))
}

func NewRouter(h *handlers.Handler, staticDir string, gate middleware.GateConfig, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.Panic(logger))

	InitRoutes(r, h)
	ServePages(r, staticDir, gate, logger)
	return r
}

// StartServer serves until ctx is cancelled, then drains in-flight requests.
func StartServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server is running", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
