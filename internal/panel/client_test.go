package panel

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/racknerd-exporter/internal/panel/paneltest"
	"github.com/and161185/racknerd-exporter/internal/parser"
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
			"totalmem", "1 GB", "usedmem", "512 MB", "totalvswap", "512 MB", "usedvswap", "0 MB"),
	}
)

func newTestClient(t *testing.T, srv *paneltest.Server) *Client {
	t.Helper()
	return NewClient(newTestSession(t, srv.Credentials()), zap.NewNop().Sugar())
}

func TestClient_ListVMs(t *testing.T) {
	srv := paneltest.New(t, vmA, vmB)
	c := newTestClient(t, srv)

	vms, err := c.ListVMs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []model.VMIdentity{vmA.VMIdentity, vmB.VMIdentity}, vms)
	require.Equal(t, 1, srv.Logins())
}

func TestClient_FetchVMDetail(t *testing.T) {
	srv := paneltest.New(t, vmA, vmB)
	c := newTestClient(t, srv)

	raw, err := c.FetchVMDetail(context.Background(), "102")
	require.NoError(t, err)

	stats, err := parser.ParseVMDetail(raw, model.KindOpenVZ)
	require.NoError(t, err)
	require.Equal(t, model.StateOffline, stats.State)
	require.NotNil(t, stats.Memory)
	require.Equal(t, 50.0, stats.Memory.Percent)
}

func TestClient_ErrorPageDetailIsNotExpiry(t *testing.T) {
	broken := paneltest.VM{VMIdentity: vmA.VMIdentity, Detail: "<html><body>Database error</body></html>"}
	srv := paneltest.New(t, broken)
	c := newTestClient(t, srv)

	raw, err := c.FetchVMDetail(context.Background(), broken.ID)
	require.NoError(t, err)
	require.Contains(t, string(raw), "Database error")
	require.Equal(t, 1, srv.Logins())
	require.Equal(t, 1, srv.DetailCalls())

	_, err = parser.ParseVMDetail(raw, broken.Kind)
	var pe *parser.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "payload", pe.Field)
}

func TestClient_ReauthenticatesOnce(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"login_redirect", 0},
		{"forbidden", http.StatusForbidden},
		{"unauthorized", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := paneltest.New(t, vmA)
			srv.SetExpireStatus(tt.status)
			c := newTestClient(t, srv)
			ctx := context.Background()

			_, err := c.FetchVMDetail(ctx, "101")
			require.NoError(t, err)
			require.Equal(t, 1, srv.Logins())

			srv.Expire()
			_, err = c.FetchVMDetail(ctx, "101")
			require.NoError(t, err)
			require.Equal(t, 2, srv.Logins())

			srv.Expire()
			vms, err := c.ListVMs(ctx)
			require.NoError(t, err)
			require.Len(t, vms, 1)
			require.Equal(t, 3, srv.Logins())
		})
	}
}

func TestClient_AuthErrorAfterSecondRejection(t *testing.T) {
	srv := paneltest.New(t, vmA)
	srv.SetRejectRemote(true)
	c := newTestClient(t, srv)

	_, err := c.FetchVMDetail(context.Background(), "101")
	require.Error(t, err)
	require.True(t, IsAuthError(err))
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, 2, srv.Logins())
	require.Equal(t, 2, srv.DetailCalls())
}

func TestClient_ConcurrentExpiryLogsInOnce(t *testing.T) {
	srv := paneltest.New(t, vmA, vmB)
	srv.SetExpireStatus(http.StatusForbidden)
	c := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.ListVMs(ctx)
	require.NoError(t, err)
	srv.Expire()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.FetchVMDetail(ctx, "101")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 2, srv.Logins())
}

func TestClient_DetailTimeoutRetried(t *testing.T) {
	slow := vmA
	slow.Delay = 2 * time.Second
	srv := paneltest.New(t, slow)
	c := newTestClient(t, srv)

	_, err := c.FetchVMDetail(context.Background(), "101")
	require.Error(t, err)
	require.False(t, IsAuthError(err))

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "101", fe.VMID)
	require.True(t, fe.Retryable)
	require.Equal(t, 3, srv.DetailCalls())
}

func TestClient_RejectedDetailNotRetried(t *testing.T) {
	missing := vmA
	missing.Detail = ""
	srv := paneltest.New(t, missing)
	c := newTestClient(t, srv)

	_, err := c.FetchVMDetail(context.Background(), "101")
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.False(t, fe.Retryable)
	require.Equal(t, "101", fe.VMID)
	require.ErrorIs(t, err, parser.ErrRejected)
	require.Equal(t, 1, srv.DetailCalls())
}

func TestClient_ListTransientStatusRetried(t *testing.T) {
	srv := paneltest.New(t, vmA)
	c := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.ListVMs(ctx)
	require.NoError(t, err)

	srv.SetListStatus(http.StatusServiceUnavailable)
	before := srv.ListCalls()
	_, err = c.ListVMs(ctx)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, http.StatusServiceUnavailable, fe.Status)
	require.True(t, fe.Retryable)
	require.True(t, errors.Is(err, ErrUnexpectedStatus))
	require.Equal(t, before+3, srv.ListCalls())
}

func TestClient_ListNonTransientStatus(t *testing.T) {
	srv := paneltest.New(t, vmA)
	c := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.ListVMs(ctx)
	require.NoError(t, err)

	srv.SetListStatus(http.StatusInternalServerError)
	before := srv.ListCalls()
	_, err = c.ListVMs(ctx)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, http.StatusInternalServerError, fe.Status)
	require.False(t, fe.Retryable)
	require.Equal(t, before+1, srv.ListCalls())
}

func TestJoinBaseURL(t *testing.T) {
	u, err := normalizeBaseURL(" https://nerdvm.racknerd.com/ ")
	require.NoError(t, err)
	require.Equal(t, "https://nerdvm.racknerd.com", u)
	require.Equal(t, "https://nerdvm.racknerd.com/home.php", joinBaseURL(u, homePath))
	require.Equal(t, "https://nerdvm.racknerd.com/home.php", joinBaseURL(u+"/", "home.php"))
}
