package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"ledvm/pkg/runner"
	"ledvm/pkg/store"
)

type fakeRunner struct {
	store *store.Store

	mu      sync.Mutex
	current string
}

func (f *fakeRunner) Switch(_ context.Context, name string) error {
	if _, err := f.store.Get(name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = name
	return nil
}

func (f *fakeRunner) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeRunner) Status() runner.Status {
	return runner.Status{Program: f.Current(), State: "running", RunID: "run-1"}
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store, *fakeRunner) {
	t.Helper()
	s := store.New(0)
	if err := s.PutLocked(store.IdleProgram, []byte{0xE4}); err != nil {
		t.Fatalf("PutLocked: %v", err)
	}
	fr := &fakeRunner{store: s, current: store.IdleProgram}
	ts := httptest.NewServer(New(s, fr).Handler())
	t.Cleanup(ts.Close)
	return ts, s, fr
}

func do(t *testing.T, method, url, contentType, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, data
}

func TestIndexAndStatus(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := do(t, "GET", ts.URL+"/", "", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"idle"`) {
		t.Errorf("GET / = %d %q", resp.StatusCode, body)
	}
	if _, err := uuid.Parse(resp.Header.Get(requestIDHeader)); err != nil {
		t.Errorf("request id %q: %v", resp.Header.Get(requestIDHeader), err)
	}

	resp, body = do(t, "GET", ts.URL+"/status", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /status = %d", resp.StatusCode)
	}
	var st statusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st.Program != store.IdleProgram || st.Programs != 1 || st.Used != 1 {
		t.Errorf("status = %+v", st)
	}

	resp, _ = do(t, "GET", ts.URL+"/nowhere", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nowhere = %d; want 404", resp.StatusCode)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts, _, _ := newTestServer(t)
	id := uuid.NewString()
	req, _ := http.NewRequest("GET", ts.URL+"/execute", nil)
	req.Header.Set(requestIDHeader, id)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(requestIDHeader); got != id {
		t.Errorf("request id = %q; want %q", got, id)
	}
}

func TestProgramLifecycle(t *testing.T) {
	ts, s, fr := newTestServer(t)
	url := ts.URL + "/programs/blink"

	resp, _ := do(t, "POST", url, "application/octet-stream", "\x11\xE4\xFA")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("upload = %d; want 204", resp.StatusCode)
	}

	resp, body := do(t, "GET", url, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download = %d", resp.StatusCode)
	}
	if diff := cmp.Diff([]byte{0x11, 0xE4, 0xFA}, body); diff != "" {
		t.Errorf("download mismatch (-want +got):\n%s", diff)
	}

	_, body = do(t, "GET", ts.URL+"/programs", "", "")
	var list map[string][]string
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if diff := cmp.Diff(map[string][]string{"programs": {"blink", "idle"}}, list); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}

	resp, body = do(t, "GET", url+"/info", "", "")
	var info store.Info
	if err := json.Unmarshal(body, &info); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("info = %d %q: %v", resp.StatusCode, body, err)
	}
	if info.Size != 3 || info.Locked {
		t.Errorf("info = %+v", info)
	}

	resp, _ = do(t, "POST", ts.URL+"/execute/blink", "", "")
	if resp.StatusCode != http.StatusNoContent || fr.Current() != "blink" {
		t.Fatalf("execute = %d, current %q", resp.StatusCode, fr.Current())
	}
	_, body = do(t, "GET", ts.URL+"/execute", "", "")
	if strings.TrimSpace(string(body)) != `"blink"` {
		t.Errorf("GET /execute = %q", body)
	}

	resp, _ = do(t, "DELETE", url, "", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d; want 204", resp.StatusCode)
	}
	if _, err := s.Get("blink"); err == nil {
		t.Error("program still stored after delete")
	}
}

func TestUploadAssembly(t *testing.T) {
	ts, s, _ := newTestServer(t)
	src := "PUSHB 5\nshow\nexit\n"

	for _, tc := range []struct {
		name, url, contentType string
	}{
		{"Query", ts.URL + "/programs/a?format=asm", ""},
		{"Content Type", ts.URL + "/programs/b", "text/x-asm; charset=utf-8"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, "POST", tc.url, tc.contentType, src)
			if resp.StatusCode != http.StatusNoContent {
				t.Fatalf("upload = %d %q", resp.StatusCode, body)
			}
		})
	}

	e, err := s.Get("b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff([]byte{0x10, 5, 0xE4, 0xFA}, e.Code); diff != "" {
		t.Errorf("code mismatch (-want +got):\n%s", diff)
	}

	resp, body := do(t, "POST", ts.URL+"/programs/c?format=asm", "", "PUSHB\n")
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "line 1") {
		t.Errorf("bad source = %d %q", resp.StatusCode, body)
	}
}

func TestErrors(t *testing.T) {
	ts, _, _ := newTestServer(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"Download Missing", "GET", "/programs/missing", "", http.StatusNotFound},
		{"Info Missing", "GET", "/programs/missing/info", "", http.StatusNotFound},
		{"Delete Missing", "DELETE", "/programs/missing", "", http.StatusNotFound},
		{"Execute Missing", "POST", "/execute/missing", "", http.StatusNotFound},
		{"Upload Locked", "POST", "/programs/idle", "\xE4", http.StatusForbidden},
		{"Delete Locked", "DELETE", "/programs/idle", "", http.StatusForbidden},
		{"Upload Empty", "POST", "/programs/empty", "", http.StatusBadRequest},
		{"Upload Bad Name", "POST", "/programs/.hidden", "\xE4", http.StatusBadRequest},
		{"Upload Too Large", "POST", "/programs/big", strings.Repeat("\xE4", store.MaxProgramBytes+1), http.StatusRequestEntityTooLarge},
		{"Wrong Method", "PUT", "/programs/x", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, tc.method, ts.URL+tc.path, "", tc.body)
			if resp.StatusCode != tc.want {
				t.Errorf("%s %s = %d %q; want %d", tc.method, tc.path, resp.StatusCode, body, tc.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[error]int{
		store.ErrQuotaExceeded: http.StatusInsufficientStorage,
		runner.ErrStopped:      http.StatusServiceUnavailable,
		context.Canceled:       http.StatusServiceUnavailable,
		io.ErrUnexpectedEOF:    http.StatusInternalServerError,
	}
	for err, want := range tests {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d; want %d", err, got, want)
		}
	}
}
