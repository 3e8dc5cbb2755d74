package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTrustedCIDR(t *testing.T) {
	tests := []struct {
		name       string
		cidr       string
		realIP     string
		remoteAddr string
		wantStatus int
	}{
		{"empty_allows_all", "", "", "198.51.100.1:4000", http.StatusOK},
		{"real_ip_inside", "10.0.0.0/24", "10.0.0.42", "198.51.100.1:4000", http.StatusOK},
		{"real_ip_outside", "10.0.0.0/24", "192.168.1.10", "10.0.0.1:4000", http.StatusForbidden},
		{"remote_inside", "10.0.0.0/24", "", "10.0.0.7:55000", http.StatusOK},
		{"remote_outside", "10.0.0.0/24", "", "192.168.1.10:55000", http.StatusForbidden},
		{"garbage_real_ip", "10.0.0.0/24", "not-an-ip", "10.0.0.7:55000", http.StatusForbidden},
		{"ipv6", "2001:db8::/32", "", "[2001:db8::1]:9000", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw, err := TrustedCIDR(tt.cidr)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			rr := httptest.NewRecorder()
			mw(okHandler()).ServeHTTP(rr, req)

			require.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestTrustedCIDR_Invalid(t *testing.T) {
	_, err := TrustedCIDR("wtf")
	require.Error(t, err)
}
