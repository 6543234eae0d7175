package oauth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mcoot/provisioner/internal/dependencies/mocks"
)

// fakeAuthority serves /{tenant}/oauth2/v2.0/devicecode and /token from scripted responses
type fakeAuthority struct {
	t     *testing.T
	clock *mocks.MockClock

	mu sync.Mutex
	// deviceCode is the JSON body returned by the devicecode endpoint
	deviceCode string
	// polls are returned in order for device-code token requests; the last one repeats
	polls []scripted
	// password handles password grants; nil means unauthorized_client
	password func(form map[string]string) scripted
	// blockPolls makes device-code polls wait until the client gives up
	blockPolls bool

	pollTimes  []time.Time
	forms      []map[string]string
	active     int
	peakActive int
	pwDelay    time.Duration
}

type scripted struct {
	status int
	body   string
}

func ok(body string) scripted { return scripted{status: http.StatusOK, body: body} }
func oauthErr(code string) scripted { return scripted{status: http.StatusBadRequest, body: `{"error":"` + code + `","error_description":"` + code + ` description"}`} }
func tokenBody(refresh string) scripted { return ok(`{"access_token":"at-` + refresh + `","refresh_token":"` + refresh + `","expires_in":3600,"token_type":"Bearer"}`) }

func newFakeAuthority(t *testing.T, clk *mocks.MockClock) (*fakeAuthority, *httptest.Server) {
	f := &fakeAuthority{
		t:          t,
		clock:      clk,
		deviceCode: `{"device_code":"dev-1","user_code":"ABCD-EFGH","verification_uri":"https://microsoft.com/devicelogin","expires_in":900,"interval":5,"message":"enter ABCD-EFGH"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/consumers/oauth2/v2.0/devicecode", f.handleDeviceCode)
	mux.HandleFunc("/consumers/oauth2/v2.0/token", f.handleToken)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAuthority) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.record(r)
	f.mu.Lock()
	body := f.deviceCode
	f.mu.Unlock()
	write(w, ok(body))
}

func (f *fakeAuthority) handleToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	form := f.record(r)

	if form["grant_type"] == "password" {
		f.mu.Lock()
		f.active++
		f.peakActive = max(f.peakActive, f.active)
		handler, delay := f.password, f.pwDelay
		f.mu.Unlock()
		defer func() {
			f.mu.Lock()
			f.active--
			f.mu.Unlock()
		}()
		if delay > 0 {
			time.Sleep(delay)
		}
		if handler == nil {
			write(w, oauthErr("unauthorized_client"))
			return
		}
		write(w, handler(form))
		return
	}

	f.mu.Lock()
	f.pollTimes = append(f.pollTimes, f.clock.Now())
	block := f.blockPolls
	var resp scripted
	if len(f.polls) > 0 {
		resp = f.polls[0]
		if len(f.polls) > 1 {
			f.polls = f.polls[1:]
		}
	}
	f.mu.Unlock()

	if block {
		<-r.Context().Done()
		return
	}
	write(w, resp)
}

func (f *fakeAuthority) record(r *http.Request) map[string]string {
	form := map[string]string{"path": r.URL.Path}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	f.mu.Lock()
	f.forms = append(f.forms, form)
	f.mu.Unlock()
	return form
}

func (f *fakeAuthority) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pollTimes)
}

func (f *fakeAuthority) polled() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.pollTimes...)
}

func (f *fakeAuthority) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peakActive
}

func (f *fakeAuthority) formsFor(path string) []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]string
	for _, form := range f.forms {
		if strings.HasSuffix(form["path"], path) {
			out = append(out, form)
		}
	}
	return out
}

func write(w http.ResponseWriter, s scripted) {
	w.Header().Set("Content-Type", "application/json")
	if s.status == 0 {
		s.status = http.StatusOK
	}
	w.WriteHeader(s.status)
	_, _ = w.Write([]byte(s.body))
}
