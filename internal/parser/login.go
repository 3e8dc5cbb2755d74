package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// LoginStatus is the status code returned by the panel's login endpoint.
type LoginStatus string

const (
	LoginOK          LoginStatus = "1"
	LoginBlacklisted LoginStatus = "2"
	LoginInvalid     LoginStatus = "3"
	LoginTwoFactor   LoginStatus = "4"
)

func (s LoginStatus) String() string {
	switch s {
	case LoginOK:
		return "ok"
	case LoginBlacklisted:
		return "account blacklisted after failed attempts"
	case LoginInvalid:
		return "invalid username or password"
	case LoginTwoFactor:
		return "two-factor authentication is not supported"
	default:
		return "unknown login status " + strconv.Quote(string(s))
	}
}

// LoginResponse is the JSON answer of the login endpoint.
type LoginResponse struct {
	Success bool
	Status  LoginStatus
}

// ParseLoginResponse decodes {"success": true, "status": "1"}.
func ParseLoginResponse(raw []byte) (LoginResponse, error) {
	var payload struct {
		Success scalar `json:"success"`
		Status  scalar `json:"status"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(raw), &payload); err != nil {
		if IsLoginPage(raw) {
			return LoginResponse{}, ErrLoginRequired
		}
		return LoginResponse{}, fieldErr("login", snippet(raw), ErrBadPayload)
	}
	return LoginResponse{
		Success: payload.Success.isOne(),
		Status:  LoginStatus(payload.Status.raw),
	}, nil
}

// IsAuthenticatedPage reports whether a page was rendered for a logged-in user.
// Authenticated pages always carry a logout link.
func IsAuthenticatedPage(raw []byte) bool {
	return bytes.Contains(raw, []byte(logoutLink))
}

// IsLoginPage reports whether a page is the panel's login form: a form posting to
// login.php or a password input, on a page without a logout link. Error and
// maintenance pages are not login pages.
func IsLoginPage(raw []byte) bool {
	if IsAuthenticatedPage(raw) {
		return false
	}
	z := html.NewTokenizer(bytes.NewReader(raw))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "form":
				if strings.Contains(strings.ToLower(attr(tok.Attr, "action")), loginAction) {
					return true
				}
			case "input":
				if strings.EqualFold(attr(tok.Attr, "type"), "password") {
					return true
				}
			}
		}
	}
}

const (
	logoutLink  = "logout.php"
	loginAction = "login.php"
)

var tokenInputNames = map[string]bool{
	"token":      true,
	"csrf_token": true,
	"csrftoken":  true,
}

// LoginToken returns the anti-forgery token embedded in the login form, if any.
func LoginToken(raw []byte) string {
	z := html.NewTokenizer(bytes.NewReader(raw))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "input" && tok.Data != "meta" {
				continue
			}
			name := strings.ToLower(attr(tok.Attr, "name"))
			if !tokenInputNames[name] {
				continue
			}
			if tok.Data == "meta" {
				if v := attr(tok.Attr, "content"); v != "" {
					return v
				}
				continue
			}
			if v := attr(tok.Attr, "value"); v != "" {
				return v
			}
		}
	}
}

func attr(attrs []html.Attribute, key string) string {
	for _, a := range attrs {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxValueInError {
		s = s[:maxValueInError]
	}
	return s
}
