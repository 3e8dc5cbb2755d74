package testutils

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/racknerd-exporter/internal/collector"
	"github.com/and161185/racknerd-exporter/internal/config"
	"github.com/and161185/racknerd-exporter/internal/exporter"
	"github.com/and161185/racknerd-exporter/internal/panel"
	"github.com/and161185/racknerd-exporter/internal/panel/paneltest"
	"github.com/and161185/racknerd-exporter/internal/server"
	"github.com/and161185/racknerd-exporter/storage/inmemory"
)

// Stack is a server wired to a fake panel.
type Stack struct {
	Server  *server.Server
	Panel   *paneltest.Server
	Session *panel.Session
	Storage *inmemory.MemStorage
}

// NewTestServer wires the whole exporter against a fake panel serving vms.
func NewTestServer(t testing.TB, cacheTTL time.Duration, vms ...paneltest.VM) *Stack {
	t.Helper()
	fake := paneltest.New(t, vms...)

	cfg := config.Default()
	cfg.PanelURL = fake.URL
	cfg.Username = paneltest.Username
	cfg.Password = paneltest.Password
	cfg.Addr = "127.0.0.1:0"
	cfg.CacheTTL = cacheTTL
	cfg.RequestTimeout = 200 * time.Millisecond
	cfg.RetryDelays = []time.Duration{time.Millisecond}
	cfg.Logger = zap.NewNop().Sugar()

	session, err := panel.NewSession(panel.Config{
		Credentials:    fake.Credentials(),
		RequestTimeout: cfg.RequestTimeout,
		RetryDelays:    cfg.RetryDelays,
		SessionTTL:     cfg.SessionTTL,
	}, nil, cfg.Logger)
	if err != nil {
		t.Fatal(err)
	}

	store := inmemory.NewMemStorage(context.Background())
	builder := collector.NewBuilder(panel.NewClient(session, cfg.Logger), cfg.Concurrency, cfg.Logger)
	exp := exporter.New(builder, store, exporter.Config{
		CacheTTL:       cfg.CacheTTL,
		CollectTimeout: cfg.CollectTimeout,
		ScrapeTimeout:  cfg.ScrapeTimeout,
		Logins:         session.Logins,
	}, cfg.Logger)

	srv, err := server.NewServer(store, exp, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &Stack{Server: srv, Panel: fake, Session: session, Storage: store}
}
