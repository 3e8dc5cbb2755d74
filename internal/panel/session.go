// Package panel talks to the RackNerd (SolusVM client area) web panel: it owns the logged-in
// session and fetches the VM list and per-VM statistics through it.
package panel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/racknerd-exporter/internal/parser"
	"github.com/and161185/racknerd-exporter/model"
)

const (
	loginPath  = "/login.php"
	homePath   = "/home.php"
	remotePath = "/_vm_remote.php"

	defaultRequestTimeout = 15 * time.Second
	defaultSessionTTL     = 10 * time.Minute
	defaultUserAgent      = "RackNerd-Prometheus-Exporter/1.0"
)

// Config holds the settings of the panel session and client.
type Config struct {
	Credentials    model.Credentials
	RequestTimeout time.Duration   // per attempt
	RetryDelays    []time.Duration // backoff between attempts on transient failures
	SessionTTL     time.Duration   // how long a login is trusted before it is re-verified
	UserAgent      string
}

// Handle is an opaque reference to the session a request was sent with.
type Handle struct {
	generation uint64
	token      string
}

func (h Handle) decorate(form url.Values) {
	if h.token != "" {
		form.Set("token", h.token)
	}
}

// Session is the single owner of the authenticated state. All methods are safe for
// concurrent use; concurrent logins collapse into one.
type Session struct {
	creds  model.Credentials
	req    *requester
	jar    *sessionJar
	ttl    time.Duration
	logger *zap.SugaredLogger
	now    func() time.Time

	mu         sync.Mutex
	valid      bool
	generation uint64
	token      string
	checkedAt  time.Time

	loginSF singleflight.Group
	logins  atomic.Int64
}

// NewSession validates the configuration and prepares an unauthenticated session.
// httpClient may be nil; its Jar is replaced by the session's own.
func NewSession(cfg Config, httpClient *http.Client, logger *zap.SugaredLogger) (*Session, error) {
	baseURL, err := normalizeBaseURL(cfg.Credentials.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Credentials.Username == "" || cfg.Credentials.Password == "" {
		return nil, errors.New("panel username and password are required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	jar, err := newSessionJar()
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	hc := &http.Client{}
	if httpClient != nil {
		c := *httpClient
		hc = &c
	}
	hc.Jar = jar
	hc.CheckRedirect = stopAtLogin

	cfg.Credentials.BaseURL = baseURL
	return &Session{
		creds: cfg.Credentials,
		req: &requester{
			hc:        hc,
			baseURL:   baseURL,
			timeout:   cfg.RequestTimeout,
			delays:    cfg.RetryDelays,
			userAgent: cfg.UserAgent,
		},
		jar:    jar,
		ttl:    cfg.SessionTTL,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Ensure returns a handle to a valid session, logging in when there is none, when it was
// invalidated, or when it is older than the TTL and the panel no longer accepts it.
func (s *Session) Ensure(ctx context.Context) (Handle, error) {
	if h, ok := s.fresh(); ok {
		return h, nil
	}

	v, err, _ := s.loginSF.Do("login", func() (interface{}, error) {
		if h, ok := s.fresh(); ok {
			return h, nil
		}
		if h, ok := s.stale(); ok {
			if s.stillLoggedIn(ctx) {
				s.mu.Lock()
				s.checkedAt = s.now()
				s.mu.Unlock()
				s.logger.Debugw("session re-verified", "generation", h.generation)
				return h, nil
			}
			s.logger.Infow("session expired, logging in again")
		}
		return s.login(ctx)
	})
	if err != nil {
		return Handle{}, err
	}
	h, _ := v.(Handle)
	return h, nil
}

// Invalidate drops the session h was issued for. Handles from older sessions are ignored,
// so many workers reporting the same expiry cause a single new login.
func (s *Session) Invalidate(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.generation == s.generation && s.valid {
		s.valid = false
		s.logger.Debugw("session invalidated", "generation", h.generation)
	}
}

// Login forces a new login regardless of the current state.
func (s *Session) Login(ctx context.Context) error {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
	_, err := s.Ensure(ctx)
	return err
}

// Logins returns how many login exchanges were attempted.
func (s *Session) Logins() int64 { return s.logins.Load() }

func (s *Session) fresh() (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid || s.now().Sub(s.checkedAt) >= s.ttl {
		return Handle{}, false
	}
	return Handle{generation: s.generation, token: s.token}, true
}

func (s *Session) stale() (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return Handle{}, false
	}
	return Handle{generation: s.generation, token: s.token}, true
}

func (s *Session) stillLoggedIn(ctx context.Context) bool {
	resp, err := s.req.do(ctx, "verify", http.MethodGet, homePath, nil)
	if err != nil {
		s.logger.Debugw("session check failed", "error", err)
		return false
	}
	return resp.status == http.StatusOK && parser.IsAuthenticatedPage(resp.body)
}

func (s *Session) login(ctx context.Context) (Handle, error) {
	s.logins.Add(1)
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
	s.logger.Infow("logging in to panel", "url", s.creds.BaseURL, "username", s.creds.Username)

	if err := s.jar.reset(); err != nil {
		return Handle{}, &AuthError{Reason: "cookie jar", Err: err}
	}

	// The login page sets the PHP session cookie and may carry an anti-forgery token.
	var token string
	page, err := s.req.do(ctx, "login page", http.MethodGet, loginPath, nil)
	if err != nil {
		return Handle{}, &AuthError{Reason: "login page unreachable", Err: err}
	}
	if page.status == http.StatusOK {
		token = parser.LoginToken(page.body)
	}

	form := url.Values{}
	form.Set("act", "login")
	form.Set("Submit", "1")
	form.Set("username", s.creds.Username)
	form.Set("password", s.creds.Password)
	if token != "" {
		form.Set("token", token)
	}

	resp, err := s.req.do(ctx, "login", http.MethodPost, loginPath, form)
	if err != nil {
		return Handle{}, &AuthError{Reason: "login request failed", Err: err}
	}
	if resp.status < 200 || resp.status > 299 {
		return Handle{}, &AuthError{
			Reason: "login request failed",
			Err:    fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.status),
		}
	}

	lr, err := parser.ParseLoginResponse(resp.body)
	if err != nil {
		return Handle{}, &AuthError{Reason: "unreadable login response", Err: err}
	}
	if !lr.Success {
		return Handle{}, &AuthError{Reason: "login rejected", Err: ErrLoginFailed}
	}
	if lr.Status != parser.LoginOK {
		return Handle{}, &AuthError{Reason: lr.Status.String(), Err: ErrLoginFailed}
	}

	if !s.stillLoggedIn(ctx) {
		return Handle{}, &AuthError{Reason: "login succeeded but home page is not authenticated", Err: ErrLoginFailed}
	}

	s.mu.Lock()
	s.generation++
	s.valid = true
	s.token = token
	s.checkedAt = s.now()
	h := Handle{generation: s.generation, token: s.token}
	s.mu.Unlock()

	s.logger.Infow("logged in to panel", "generation", h.generation)
	return h, nil
}
