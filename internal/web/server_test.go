package web_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tmuxdeck/internal/bridge"
	"tmuxdeck/internal/containers"
	"tmuxdeck/internal/debuglog"
	"tmuxdeck/internal/logging"
	"tmuxdeck/internal/notify"
	"tmuxdeck/internal/terminal"
	"tmuxdeck/internal/tmux"
	"tmuxdeck/internal/web"
)

func newTestServer(t *testing.T, pin string) (*web.Server, *httptest.Server, *notify.Manager) {
	t.Helper()

	lm := logging.NewTestLogManager(100)
	t.Cleanup(func() { _ = lm.Close() })

	tm := tmux.New(nil, nil, "", logging.NopLogger())
	bm := bridge.NewManager(nil, logging.NopLogger())
	cm := containers.NewManager(tm, nil, bm, "", logging.NopLogger())
	broker := notify.NewBroker()
	nm := notify.NewManager(broker, nil, tm, 50*time.Millisecond, logging.NopLogger())
	proxy := terminal.NewProxy(tm, nil, bm, "", logging.NopLogger())
	ring := debuglog.NewRing(10)

	s := web.New(web.Config{Bind: "127.0.0.1", Port: 0, PIN: pin}, tm, cm, bm, proxy, nm, ring, lm)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, nm
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	_, ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestAPIOpenWithoutPIN(t *testing.T) {
	_, ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/api/v1/containers")
	if err != nil {
		t.Fatalf("GET containers: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 with no pin configured", resp.StatusCode)
	}

	var list []containers.Container
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) == 0 || list[0].ID != "local" {
		t.Errorf("containers = %+v, want the synthetic local entry", list)
	}
}

func TestPINGate(t *testing.T) {
	_, ts, _ := newTestServer(t, "1234")

	// Without a cookie the API is closed.
	resp, _ := http.Get(ts.URL + "/api/v1/containers")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("ungated status = %d, want 401", resp.StatusCode)
	}

	// Wrong PIN is rejected.
	resp = postJSON(t, http.DefaultClient, ts.URL+"/api/v1/auth/pin", map[string]string{"pin": "0000"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong pin status = %d, want 401", resp.StatusCode)
	}

	// Correct PIN mints a session cookie.
	resp = postJSON(t, http.DefaultClient, ts.URL+"/api/v1/auth/pin", map[string]string{"pin": "1234"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "session" {
			session = c
		}
	}
	if session == nil {
		t.Fatal("login did not set the session cookie")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/containers", nil)
	req.AddCookie(session)
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authed GET: %v", err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Errorf("authed status = %d, want 200", authed.StatusCode)
	}
}

func TestNotificationIngestIsPublic(t *testing.T) {
	_, ts, _ := newTestServer(t, "1234")

	resp := postJSON(t, http.DefaultClient, ts.URL+"/api/v1/notifications", notify.CreateRequest{
		Message:     "build finished",
		SessionID:   "s1",
		ContainerID: "local",
		Channels:    []string{notify.ChannelWeb},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 without auth", resp.StatusCode)
	}

	var rec notify.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID == "" || rec.Status != notify.StatusPending {
		t.Errorf("record = %+v", rec)
	}

	dismiss := postJSON(t, http.DefaultClient, ts.URL+"/api/v1/notifications/dismiss", map[string]string{
		"session_id": "s1",
	})
	defer dismiss.Body.Close()
	var out map[string]int
	if err := json.NewDecoder(dismiss.Body).Decode(&out); err != nil {
		t.Fatalf("decode dismiss: %v", err)
	}
	if out["count"] != 1 {
		t.Errorf("count = %d, want 1", out["count"])
	}
}

func TestNotificationStreamDeliversEvents(t *testing.T) {
	_, ts, nm := newTestServer(t, "")

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/notifications/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	// Wait for the subscriber to register before publishing.
	deadline := time.Now().Add(3 * time.Second)
	for nm.Broker().SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	nm.Create(notify.CreateRequest{Message: "ping", Channels: []string{notify.ChannelWeb}})

	reader := bufio.NewReader(resp.Body)
	eventCh := make(chan string, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "event: ") {
				eventCh <- strings.TrimSpace(strings.TrimPrefix(line, "event: "))
				return
			}
		}
	}()

	select {
	case name := <-eventCh:
		if name != "notification" {
			t.Errorf("event = %q, want notification", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no SSE event received")
	}
}

func TestDebugLogEndpoints(t *testing.T) {
	_, ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/api/v1/debug/log")
	if err != nil {
		t.Fatalf("GET debug log: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	clear := postJSON(t, http.DefaultClient, ts.URL+"/api/v1/debug/log/clear", map[string]string{})
	clear.Body.Close()
	if clear.StatusCode != http.StatusOK {
		t.Errorf("clear status = %d", clear.StatusCode)
	}
}

func TestUnknownSessionResolve(t *testing.T) {
	_, ts, _ := newTestServer(t, "")

	resp := postJSON(t, http.DefaultClient, ts.URL+"/api/v1/sessions/resolve", map[string]string{
		"session_id": "ffffffffffff",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown id", resp.StatusCode)
	}

	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["detail"] == "" {
		t.Error("error responses must carry a detail field")
	}
}
