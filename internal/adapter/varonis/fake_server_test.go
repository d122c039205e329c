package varonis

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/transport"
)

const (
	testUser  = "DOMAIN\\svc"
	testPass  = "hunter2"
	testToken = "tok-1"
)

// fakeDSP emulates the DatAdvantage endpoints used by the client. Handlers
// can be overridden per test; every request is recorded in order.
type fakeDSP struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
	handlers map[string]http.HandlerFunc
}

type recordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Body     string
}

func newFakeDSP(t *testing.T) *fakeDSP {
	t.Helper()
	f := &fakeDSP{t: t, handlers: map[string]http.HandlerFunc{}}

	f.handlers["POST /DatAdvantage/auth/win"] = func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testUser || pass != testPass {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeTestJSON(w, map[string]any{
			"access_token": testToken,
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}
	f.handlers["GET /DatAdvantage/api/entitymodel/enum/5821"] = func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, []map[string]any{
			{"ruleID": 1, "ruleName": "Suspicious"},
			{"ruleID": 7, "ruleName": "Abnormal service behavior"},
		})
	}
	f.handlers["POST /DatAdvantage/api/search/v2/search"] = func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, []map[string]any{
			{"location": "terms/123", "dataType": "terms"},
			{"location": "rows/123", "dataType": "rows"},
		})
	}

	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDSP) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	key := r.Method + " " + r.URL.Path
	f.mu.Lock()
	// Anonymous NTLM probes are not interesting to the tests.
	if r.URL.Path != "/DatAdvantage/auth/win" || r.Header.Get("Authorization") != "" {
		f.requests = append(f.requests, recordedRequest{r.Method, r.URL.Path, r.URL.RawQuery, string(body)})
	}
	h, ok := f.handlers[key]
	f.mu.Unlock()

	if !ok {
		f.t.Errorf("unexpected request %s", key)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !strings.HasSuffix(r.URL.Path, "/auth/win") && r.Header.Get("Authorization") != "bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	h(w, r)
}

func (f *fakeDSP) handle(key string, h http.HandlerFunc) {
	f.mu.Lock()
	f.handlers[key] = h
	f.mu.Unlock()
}

func (f *fakeDSP) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeDSP) count(method, path string) int {
	n := 0
	for _, r := range f.recorded() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeDSP) client(password string) *Client {
	cfg := DefaultConfig()
	cfg.URL = f.server.URL
	cfg.Username = testUser
	cfg.Password = password
	cfg.HTTP = transport.Config{Timeout: 5 * time.Second}
	cfg.RetryInterval = 5 * time.Millisecond
	return NewClient(cfg, zerolog.Nop())
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
