// Package paneltest provides an in-process fake of the RackNerd client area for tests.
package paneltest

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/racknerd-exporter/model"
)

const (
	Username = "user@example.com"
	Password = "s3cret"
	Token    = "f00dcafe"

	sessionCookie = "PHPSESSID"
)

// VM is a VM served by the fake panel. Detail is the raw detail payload; an empty Detail
// makes the panel refuse the VM with success=0.
type VM struct {
	model.VMIdentity
	Detail string
	Delay  time.Duration
}

// Server is a fake panel. Sessions are tracked by cookie like the real PHP application.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	vms          []VM
	sessions     map[string]bool
	nextID       int
	expireStatus int
	alwaysExpire bool
	rejectRemote bool
	loginStatus  string
	listStatus   int

	logins      atomic.Int32
	listCalls   atomic.Int32
	detailCalls atomic.Int32
}

// New starts a fake panel serving vms. It is closed with the test.
func New(t testing.TB, vms ...VM) *Server {
	t.Helper()
	s := &Server{
		vms:         vms,
		sessions:    make(map[string]bool),
		loginStatus: "1",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", s.handleLogin)
	mux.HandleFunc("/home.php", s.handleHome)
	mux.HandleFunc("/_vm_remote.php", s.handleRemote)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Credentials returns valid credentials for this panel.
func (s *Server) Credentials() model.Credentials {
	return model.Credentials{BaseURL: s.URL, Username: Username, Password: Password}
}

// Expire logs every session out.
func (s *Server) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]bool)
}

// SetExpireStatus makes data endpoints answer unauthenticated requests with code instead of
// the login page. Zero restores the login page.
func (s *Server) SetExpireStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireStatus = code
}

// SetAlwaysExpire makes the data endpoints reject every session, even fresh ones.
func (s *Server) SetAlwaysExpire(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alwaysExpire = v
}

// SetRejectRemote makes the statistics endpoint treat every session as logged out while
// the rest of the panel keeps accepting it.
func (s *Server) SetRejectRemote(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectRemote = v
}

// SetLoginStatus sets the status code the login endpoint answers with ("1" is success).
func (s *Server) SetLoginStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginStatus = status
}

// SetListStatus makes the home page answer with code (0 restores normal behavior).
func (s *Server) SetListStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listStatus = code
}

// SetVMs replaces the served VMs.
func (s *Server) SetVMs(vms ...VM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vms = vms
}

func (s *Server) Logins() int      { return int(s.logins.Load()) }
func (s *Server) ListCalls() int   { return int(s.listCalls.Load()) }
func (s *Server) DetailCalls() int { return int(s.detailCalls.Load()) }

func (s *Server) authenticated(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[c.Value] && !s.alwaysExpire
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		s.nextID++
		id := "sess" + strconv.Itoa(s.nextID)
		s.sessions[id] = false
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/"})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, loginPage, Token)

	case http.MethodPost:
		s.logins.Add(1)
		_ = r.ParseForm()
		c, err := r.Cookie(sessionCookie)
		w.Header().Set("Content-Type", "application/json")

		s.mu.Lock()
		status := s.loginStatus
		s.mu.Unlock()

		switch {
		case err != nil || r.PostForm.Get("token") != Token:
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
		case r.PostForm.Get("act") != "login" ||
			r.PostForm.Get("username") != Username ||
			r.PostForm.Get("password") != Password:
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "status": "3"})
		default:
			if status == "1" {
				s.mu.Lock()
				s.sessions[c.Value] = true
				s.mu.Unlock()
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "status": status})
		}

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.listCalls.Add(1)

	s.mu.Lock()
	listStatus := s.listStatus
	s.mu.Unlock()

	if !s.authenticated(r) {
		s.unauthenticated(w, r, false)
		return
	}
	if listStatus != 0 {
		w.WriteHeader(listStatus)
		return
	}

	s.mu.Lock()
	vms := append([]VM(nil), s.vms...)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homePage.Execute(w, vms); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleRemote(w http.ResponseWriter, r *http.Request) {
	s.detailCalls.Add(1)
	s.mu.Lock()
	reject := s.rejectRemote
	s.mu.Unlock()
	if reject || !s.authenticated(r) {
		s.unauthenticated(w, r, true)
		return
	}
	_ = r.ParseForm()
	if r.PostForm.Get("act") != "getstatsdiskusage" {
		http.Error(w, "unknown act", http.StatusBadRequest)
		return
	}

	id := r.PostForm.Get("vi")
	var (
		vm    VM
		found bool
	)
	s.mu.Lock()
	for _, v := range s.vms {
		if v.ID == id {
			vm, found = v, true
			break
		}
	}
	s.mu.Unlock()

	if vm.Delay > 0 {
		select {
		case <-time.After(vm.Delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !found || vm.Detail == "" {
		fmt.Fprint(w, `{"success":"0","msg":"Invalid VM"}`)
		return
	}
	fmt.Fprint(w, vm.Detail)
}

func (s *Server) unauthenticated(w http.ResponseWriter, r *http.Request, redirect bool) {
	s.mu.Lock()
	code := s.expireStatus
	s.mu.Unlock()

	switch {
	case code != 0:
		w.WriteHeader(code)
	case redirect:
		http.Redirect(w, r, "/login.php", http.StatusFound)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, loginPage, Token)
	}
}

// Detail builds a detail payload. Optional memory/vswap pairs are omitted when empty.
func Detail(state, totalBW, usedBW, totalHDD, usedHDD string, extra ...string) string {
	m := map[string]string{
		"success":  "1",
		"state":    state,
		"totalbw":  totalBW,
		"usedbw":   usedBW,
		"totalhdd": totalHDD,
		"usedhdd":  usedHDD,
	}
	for i := 0; i+1 < len(extra); i += 2 {
		m[extra[i]] = extra[i+1]
	}
	b, _ := json.Marshal(m)
	return string(b)
}

const loginPage = `<!DOCTYPE html>
<html><head><title>Client Area Login</title></head>
<body>
<form method="post" action="login.php">
<input type="hidden" name="token" value="%s">
<input type="text" name="username"><input type="password" name="password">
</form>
</body></html>`

var homePage = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html><head><title>Client Area</title></head>
<body>
<a href="logout.php">Logout</a>
<table id="vmlist">
<thead><tr><th></th><th>Hostname</th><th>IP</th><th>OS</th><th>Memory</th><th>Disk</th></tr></thead>
<tbody>
{{range .}}<tr>
<td><img src="images/{{.Kind}}.png"></td>
<td><a href="control.php?_v={{.ID}}">{{.Hostname}}</a></td>
<td>{{.IPAddress}}</td>
<td>{{.OS}}</td>
<td>1 GB</td>
<td>10 GB</td>
</tr>
{{end}}</tbody>
</table>
</body></html>`))
