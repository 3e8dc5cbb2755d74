package panel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/and161185/racknerd-exporter/internal/utils"
)

const maxBodyBytes = 4 << 20

type response struct {
	status   int
	location string
	body     []byte
}

// toLogin reports whether the panel redirected the request to its login page.
func (r *response) toLogin() bool {
	return r.status >= 300 && r.status < 400 && strings.Contains(r.location, strings.TrimPrefix(loginPath, "/"))
}

// requester sends one request with a per-attempt timeout and bounded retries on
// transient failures. Upstream answers, including error pages, are returned as-is.
type requester struct {
	hc        *http.Client
	baseURL   string
	timeout   time.Duration
	delays    []time.Duration
	userAgent string
}

func (r *requester) do(ctx context.Context, op, method, path string, form url.Values) (*response, error) {
	var out *response
	err := utils.WithRetry(ctx, r.delays, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(reqCtx, method, joinBaseURL(r.baseURL, path), body)
		if err != nil {
			return err
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		req.Header.Set("User-Agent", r.userAgent)

		resp, err := r.hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if isTransientStatus(resp.StatusCode) {
			return transientStatusError(resp.StatusCode)
		}
		out = &response{status: resp.StatusCode, location: resp.Header.Get("Location"), body: b}
		return nil
	})
	if err != nil {
		fe := &FetchError{Op: op, Retryable: utils.IsRetriable(err), Err: err}
		var ts transientStatusError
		if errors.As(err, &ts) {
			fe.Status = int(ts)
		}
		return nil, fe
	}
	return out, nil
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// stopAtLogin keeps redirects to the login page visible to the caller as an expiry signal.
func stopAtLogin(req *http.Request, via []*http.Request) error {
	if strings.HasSuffix(req.URL.Path, loginPath) {
		return http.ErrUseLastResponse
	}
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	return nil
}

// sessionJar is a cookie jar that can be emptied before a fresh login while other
// goroutines keep using the same http.Client.
type sessionJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newSessionJar() (*sessionJar, error) {
	j := &sessionJar{}
	if err := j.reset(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *sessionJar) reset() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
	return nil
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

func normalizeBaseURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("panel base url is empty")
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("panel base url is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("panel base url scheme must be http or https")
	}
	if u.Host == "" {
		return "", errors.New("panel base url has no host")
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

func joinBaseURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
