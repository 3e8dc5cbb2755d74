package panel

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/and161185/racknerd-exporter/internal/parser"
	"github.com/and161185/racknerd-exporter/model"
)

// Client reads the VM list and VM statistics through a Session.
type Client struct {
	session *Session
	logger  *zap.SugaredLogger
}

// NewClient creates a client bound to session.
func NewClient(session *Session, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{session: session, logger: logger}
}

// Session returns the session the client authenticates with.
func (c *Client) Session() *Session { return c.session }

// ListVMs returns the VMs on the account in panel order.
func (c *Client) ListVMs(ctx context.Context) ([]model.VMIdentity, error) {
	body, err := c.authorized(ctx, "list", "", func(Handle) (*response, error) {
		return c.session.req.do(ctx, "list", http.MethodGet, homePath, nil)
	}, func(b []byte) error {
		if parser.IsLoginPage(b) {
			return parser.ErrLoginRequired
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parser.ParseVMList(body)
}

// FetchVMDetail returns the raw statistics payload of one VM.
func (c *Client) FetchVMDetail(ctx context.Context, id string) ([]byte, error) {
	return c.authorized(ctx, "detail", id, func(h Handle) (*response, error) {
		form := url.Values{}
		form.Set("act", "getstatsdiskusage")
		form.Set("vi", id)
		h.decorate(form)
		resp, err := c.session.req.do(ctx, "detail", http.MethodPost, remotePath, form)
		if err != nil {
			var fe *FetchError
			if errors.As(err, &fe) {
				fe.VMID = id
			}
		}
		return resp, err
	}, parser.CheckDetail)
}

// authorized sends a request and, when the panel signals that the session is gone,
// re-authenticates once and repeats it once.
func (c *Client) authorized(
	ctx context.Context,
	op string,
	vmID string,
	send func(Handle) (*response, error),
	check func([]byte) error,
) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		h, err := c.session.Ensure(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := send(h)
		if err != nil {
			return nil, err
		}

		expired := isAuthStatus(resp.status) || resp.toLogin()
		if !expired {
			if resp.status < 200 || resp.status > 299 {
				return nil, &FetchError{Op: op, VMID: vmID, Status: resp.status, Err: ErrUnexpectedStatus}
			}
			if err := check(resp.body); err != nil {
				if !errors.Is(err, parser.ErrLoginRequired) {
					return nil, &FetchError{Op: op, VMID: vmID, Status: resp.status, Err: err}
				}
				expired = true
			}
		}
		if !expired {
			return resp.body, nil
		}

		c.session.Invalidate(h)
		if attempt > 0 {
			return nil, &AuthError{Reason: "panel rejected the session after re-authentication", Err: ErrSessionExpired}
		}
		c.logger.Infow("panel session expired, re-authenticating", "op", op, "vm_id", vmID, "status", resp.status)
	}
}
