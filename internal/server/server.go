// Package server exposes the exporter over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/racknerd-exporter/internal/config"
	"github.com/and161185/racknerd-exporter/internal/server/middleware"
	"github.com/and161185/racknerd-exporter/model"
	"github.com/and161185/racknerd-exporter/storage"
)

const shutdownTimeout = 5 * time.Second

type Storage interface {
	Latest(ctx context.Context) (model.Snapshot, error)
}

type Server struct {
	Storage  Storage
	Config   *config.Config
	Registry *prometheus.Registry
}

// NewServer registers exp together with the Go runtime and process collectors.
func NewServer(st Storage, exp prometheus.Collector, cfg *config.Config) (*Server, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		exp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Server{Storage: st, Config: cfg, Registry: reg}, nil
}

// Router builds the HTTP routes. Scrape endpoints are limited to the trusted subnet;
// /ping is always open.
func (srv *Server) Router() (http.Handler, error) {
	trusted, err := middleware.TrustedCIDR(srv.Config.TrustedSubnet)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(chiMiddleware.StripSlashes)
	router.Use(chiMiddleware.Recoverer)
	router.Use(middleware.LogMiddleware(srv.Config.Logger))
	router.Use(middleware.CompressMiddleware)

	router.Get("/ping", srv.PingHandler)
	router.Group(func(r chi.Router) {
		r.Use(trusted)
		r.Method(http.MethodGet, "/metrics", srv.MetricsHandler())
		r.Get("/", srv.ListVMsHandler)
	})
	return router, nil
}

// Run serves until ctx is done, then shuts the listener down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	router, err := srv.Router()
	if err != nil {
		return err
	}

	hs := &http.Server{
		Addr:              srv.Config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.Config.Logger.Infow("listening", "addr", srv.Config.Addr)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// MetricsHandler serves the registry. Compression is left to CompressMiddleware.
func (srv *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(srv.Registry, promhttp.HandlerOpts{
		ErrorLog:           promLogger{srv.Config.Logger},
		ErrorHandling:      promhttp.ContinueOnError,
		DisableCompression: true,
	})
}

func (srv *Server) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

var listTemplate = template.Must(template.New("vms").Parse(`<html>
<head><title>RackNerd Exporter</title></head>
<body>
<h1>RackNerd Exporter</h1>
<p><a href="/metrics">Metrics</a></p>
{{if .Collected}}<p>Collected at {{.StartedAt}} in {{.Duration}}{{if .Err}}, last error: {{.Err}}{{end}}</p>
<table>
<tr><th>Hostname</th><th>Type</th><th>IP</th><th>OS</th><th>Stats</th></tr>
{{range .Entries}}<tr><td>{{.VM.Hostname}}</td><td>{{.VM.Kind}}</td><td>{{.VM.IPAddress}}</td><td>{{.VM.OS}}</td><td>{{if .Outcome.Available}}{{.Outcome.Stats.State}}{{else}}unavailable: {{.Outcome.Reason}}{{end}}</td></tr>
{{end}}</table>
{{else}}<p>No collection has run yet.</p>
{{end}}</body>
</html>
`))

type listPage struct {
	model.Snapshot
	Collected bool
}

// ListVMsHandler renders the VMs of the latest stored snapshot. It never triggers a
// collection.
func (srv *Server) ListVMsHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := srv.Storage.Latest(r.Context())
	if err != nil && !errors.Is(err, storage.ErrNoSnapshot) {
		srv.Config.Logger.Errorw("failed to read snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := listTemplate.Execute(w, listPage{Snapshot: snap, Collected: err == nil}); err != nil {
		srv.Config.Logger.Errorw("failed to write vm list", "error", err)
	}
}

type promLogger struct {
	logger *zap.SugaredLogger
}

func (l promLogger) Println(v ...interface{}) {
	l.logger.Error(v...)
}
