package server_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/racknerd-exporter/internal/panel/paneltest"
	"github.com/and161185/racknerd-exporter/internal/server/testutils"
	"github.com/and161185/racknerd-exporter/model"
)

var (
	vmA = paneltest.VM{
		VMIdentity: model.VMIdentity{ID: "101", Hostname: "host-a", IPAddress: "192.0.2.10", OS: "Ubuntu 22.04", Kind: model.KindKVM},
		Detail:     paneltest.Detail("1", "1000 GB", "100 GB", "20 GB", "10 GB"),
	}
	vmB = paneltest.VM{
		VMIdentity: model.VMIdentity{ID: "102", Hostname: "host-b", IPAddress: "192.0.2.11", OS: "Debian 12", Kind: model.KindOpenVZ},
		Detail: paneltest.Detail("0", "500 GB", "0 GB", "10 GB", "2.5 GB",
			"totalmem", "1 GB", "usedmem", "512 MB"),
	}
)

func serve(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func router(t *testing.T, st *testutils.Stack) http.Handler {
	t.Helper()
	h, err := st.Server.Router()
	require.NoError(t, err)
	return h
}

func TestPingHandler(t *testing.T) {
	st := testutils.NewTestServer(t, time.Minute)
	rr := serve(t, router(t, st), "/ping", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
	require.Zero(t, st.Panel.Logins())
}

func TestMetricsHandler(t *testing.T) {
	st := testutils.NewTestServer(t, time.Minute, vmA, vmB)
	rr := serve(t, router(t, st), "/metrics", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, `racknerd_vm_info{hostname="host-a",ip_address="192.0.2.10",os="Ubuntu 22.04",vm_type="kvm"} 1`)
	require.Contains(t, body, `racknerd_vm_state{hostname="host-a"} 1`)
	require.Contains(t, body, `racknerd_vm_state{hostname="host-b"} 0`)
	require.Contains(t, body, `racknerd_bandwidth_usage_percent{hostname="host-a"} 10`)
	require.Contains(t, body, `racknerd_disk_usage_percent{hostname="host-b"} 25`)
	require.Contains(t, body, `racknerd_memory_usage_percent{hostname="host-b"} 50`)
	require.NotContains(t, body, `racknerd_memory_usage_percent{hostname="host-a"}`)
	require.Contains(t, body, "racknerd_collection_success 1")
	require.Contains(t, body, "racknerd_panel_logins_total 1")
	require.Contains(t, body, "go_goroutines")
}

func TestMetricsHandler_TrailingSlash(t *testing.T) {
	st := testutils.NewTestServer(t, time.Minute, vmA)
	rr := serve(t, router(t, st), "/metrics/", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "racknerd_vm_info")
}

func TestMetricsHandler_ConcurrentScrapesShareCycle(t *testing.T) {
	st := testutils.NewTestServer(t, time.Minute, vmA, vmB)
	h := router(t, st)

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			codes[i] = rr.Code
		}(i)
	}
	wg.Wait()

	for _, c := range codes {
		require.Equal(t, http.StatusOK, c)
	}
	require.Equal(t, 1, st.Panel.Logins())
	// one home page read verifies the login, one lists the VMs
	require.Equal(t, 2, st.Panel.ListCalls())
	require.Equal(t, 2, st.Panel.DetailCalls())
}

func TestMetricsHandler_LoginRejected(t *testing.T) {
	st := testutils.NewTestServer(t, 0, vmA)
	st.Panel.SetLoginStatus("3")

	rr := serve(t, router(t, st), "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, "racknerd_collection_success 0")
	require.NotContains(t, body, "racknerd_vm_info")
}

func TestMetricsHandler_PreviousSnapshotOnFailure(t *testing.T) {
	st := testutils.NewTestServer(t, 0, vmA)
	h := router(t, st)

	rr := serve(t, h, "/metrics", nil)
	require.Contains(t, rr.Body.String(), "racknerd_collection_success 1")

	st.Panel.SetLoginStatus("3")
	st.Panel.Expire()

	rr = serve(t, h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, "racknerd_collection_success 0")
	require.Contains(t, body, `racknerd_vm_stats_available{hostname="host-a"} 1`)
	require.Contains(t, body, `racknerd_bandwidth_usage_percent{hostname="host-a"} 10`)
}

func TestMetricsHandler_Gzip(t *testing.T) {
	st := testutils.NewTestServer(t, time.Minute, vmA)
	rr := serve(t, router(t, st), "/metrics", map[string]string{"Accept-Encoding": "gzip"})

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))

	gr, err := gzip.NewReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer gr.Close()
	body, err := io.ReadAll(gr)
	require.NoError(t, err)
	require.Contains(t, string(body), `racknerd_vm_state{hostname="host-a"} 1`)
}

func TestListVMsHandler(t *testing.T) {
	st := testutils.NewTestServer(t, time.Minute, vmA, vmB)
	h := router(t, st)

	rr := serve(t, h, "/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "No collection has run yet.")
	require.Zero(t, st.Panel.Logins())

	serve(t, h, "/metrics", nil)

	rr = serve(t, h, "/", nil)
	require.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	require.Contains(t, body, "<td>host-a</td><td>kvm</td>")
	require.Contains(t, body, "<td>online</td>")
	require.Contains(t, body, "<td>offline</td>")
}

func TestTrustedSubnet(t *testing.T) {
	st := testutils.NewTestServer(t, time.Minute, vmA)
	st.Server.Config.TrustedSubnet = "10.0.0.0/8"
	h := router(t, st)

	require.Equal(t, http.StatusForbidden, serve(t, h, "/metrics", nil).Code)
	require.Equal(t, http.StatusForbidden, serve(t, h, "/", nil).Code)
	require.Equal(t, http.StatusOK, serve(t, h, "/metrics", map[string]string{"X-Real-IP": "10.1.2.3"}).Code)
	require.Equal(t, http.StatusOK, serve(t, h, "/ping", nil).Code)
}

func TestRouter_InvalidSubnet(t *testing.T) {
	st := testutils.NewTestServer(t, time.Minute)
	st.Server.Config.TrustedSubnet = "nonsense"

	_, err := st.Server.Router()
	require.Error(t, err)
}

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestRun_StartStop(t *testing.T) {
	st := testutils.NewTestServer(t, time.Minute, vmA)
	st.Server.Config.Addr = freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- st.Server.Run(ctx) }()

	url := "http://" + st.Server.Config.Addr + "/ping"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}
