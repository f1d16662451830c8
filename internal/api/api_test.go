package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ticlink-project/ticlink/internal/config"
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/netgame"
	"github.com/ticlink-project/ticlink/internal/network"
	"github.com/ticlink-project/ticlink/internal/session"
	"github.com/ticlink-project/ticlink/internal/sim"
)

const testToken = "s3cret"

type fixture struct {
	cfg  *config.Config
	bus  *events.EventBus
	host *netgame.Host
	bans *session.MemoryBans
	api  *Server
}

func newFixture(t *testing.T, tune func(*config.ApplicationData)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	app := cfg.GetApplicationData()
	app.API.Token = testToken
	app.API.RateLimitRPS = 0
	if tune != nil {
		tune(&app)
	}
	cfg.SetApplicationData(app)

	f := &fixture{cfg: cfg, bus: events.NewEventBus(), bans: session.NewMemoryBans()}
	ncfg := netgame.DefaultConfig()
	ncfg.Session.JoinDelay = 0
	ncfg.PlayerNames = []string{"Sonic"}
	f.host = netgame.NewServer(ncfg, network.NewMemoryHub().Endpoint("server:5029"),
		sim.NewReference(sim.GameTypeCoop, "MAP01", 3), f.bans, f.bus)
	for i := 0; i < 200; i++ {
		f.host.Frame(1)
		if _, ok := f.host.Status().Player(0); ok {
			break
		}
	}
	if _, ok := f.host.Status().Player(0); !ok {
		t.Fatalf("server player never joined")
	}
	f.api = NewServer(cfg, f.bus, f.host, Deps{Bans: f.bans, Lag: netgame.NewLagMonitor(f.bus, 300)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			f.host.Frame(1)
			time.Sleep(time.Millisecond)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		f.bus.Stop()
	})
	return f
}

func (f *fixture) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestPingIsPublic(t *testing.T) {
	f := newFixture(t, nil)

	w := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("ping = %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("no request id header")
	}

	w = httptest.NewRecorder()
	f.api.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", w.Code)
	}
}

func TestStatusAndPlayers(t *testing.T) {
	f := newFixture(t, nil)

	w := f.request(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if role := decode(t, w)["role"]; role != "server" {
		t.Fatalf("role = %v", role)
	}

	w = f.request(t, http.MethodGet, "/api/v1/players/0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("player 0 = %d: %s", w.Code, w.Body.String())
	}
	if name := decode(t, w)["name"]; name != "Sonic" {
		t.Fatalf("player 0 name = %v", name)
	}

	if w := f.request(t, http.MethodGet, "/api/v1/players/9", nil); w.Code != http.StatusNotFound {
		t.Fatalf("empty slot = %d", w.Code)
	}
	if w := f.request(t, http.MethodGet, "/api/v1/players/abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad slot = %d", w.Code)
	}
	if w := f.request(t, http.MethodPost, "/api/v1/players/9/kick", reasonRequest{Reason: "bye"}); w.Code != http.StatusConflict {
		t.Fatalf("kick of empty slot = %d", w.Code)
	}
}

func TestBanList(t *testing.T) {
	f := newFixture(t, nil)

	w := f.request(t, http.MethodPost, "/api/v1/bans", banRequest{Address: "10.0.0.0/8", Reason: "griefing"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add ban = %d: %s", w.Code, w.Body.String())
	}
	if w := f.request(t, http.MethodPost, "/api/v1/bans", banRequest{Address: "not-an-ip"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad address = %d", w.Code)
	}

	w = f.request(t, http.MethodGet, "/api/v1/bans", nil)
	if total := decode(t, w)["total"]; total != float64(1) {
		t.Fatalf("ban total = %v", total)
	}

	if w := f.request(t, http.MethodDelete, "/api/v1/bans?address=10.0.0.0/8", nil); w.Code != http.StatusOK {
		t.Fatalf("unban = %d: %s", w.Code, w.Body.String())
	}
	if w := f.request(t, http.MethodDelete, "/api/v1/bans?address=10.0.0.0/8", nil); w.Code != http.StatusNotFound {
		t.Fatalf("second unban = %d", w.Code)
	}
}

func TestConfigRoutes(t *testing.T) {
	f := newFixture(t, nil)
	f.cfg.SetAdminPassword("hunter2")

	w := f.request(t, http.MethodGet, "/api/v1/config", nil)
	if strings.Contains(w.Body.String(), testToken) {
		t.Fatalf("token leaked: %s", w.Body.String())
	}
	nd := decode(t, w)["net_data"].(map[string]interface{})
	if nd["admin_password_hash"] != "********" {
		t.Fatalf("hash not redacted: %v", nd["admin_password_hash"])
	}

	w = f.request(t, http.MethodPatch, "/api/v1/config/net", netFieldRequest{Field: "max_ping_ms", Value: 250})
	if w.Code != http.StatusOK {
		t.Fatalf("patch = %d: %s", w.Code, w.Body.String())
	}
	if got := f.cfg.GetNetData().MaxPing; got != 250 {
		t.Fatalf("max ping = %d", got)
	}

	if w := f.request(t, http.MethodPatch, "/api/v1/config/net", netFieldRequest{Field: "nope", Value: 1}); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d", w.Code)
	}
	if w := f.request(t, http.MethodPatch, "/api/v1/config/net", netFieldRequest{Field: "admin_password_hash", Value: "x"}); w.Code != http.StatusForbidden {
		t.Fatalf("hash field = %d", w.Code)
	}

	port := f.cfg.GetNetData().Port
	w = f.request(t, http.MethodPatch, "/api/v1/config/net", netFieldRequest{Field: "port", Value: 0})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("port 0 = %d", w.Code)
	}
	if got := f.cfg.GetNetData().Port; got != port {
		t.Fatalf("invalid port kept: %d", got)
	}
}

func TestShutdownRoute(t *testing.T) {
	f := newFixture(t, nil)

	if w := f.request(t, http.MethodPost, "/api/v1/shutdown", nil); w.Code != http.StatusAccepted {
		t.Fatalf("shutdown = %d: %s", w.Code, w.Body.String())
	}
	var stopping bool
	err := f.host.Do(context.Background(), func(h *netgame.Host) error {
		stopping = h.Stopping()
		return nil
	})
	if err != nil || !stopping {
		t.Fatalf("host not stopping (err %v)", err)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(app *config.ApplicationData) {
		app.API.RateLimitRPS = 1
		app.API.RateLimitBurst = 2
	})

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		f.api.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, nil)
	if w := f.request(t, http.MethodGet, "/api/v1/nothing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown route = %d", w.Code)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.api.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + streamPath + "?types=chat&token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.api.stream.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.bus.Emit(context.Background(), events.New(events.EventPingUpdate, "test", events.PingPayload{}))
	f.bus.Emit(context.Background(), events.New(events.EventChat, "test", events.ChatPayload{Player: 0, Name: "Sonic", Message: "hi"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type    string             `json:"type"`
		Payload events.ChatPayload `json:"payload"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != string(events.EventChat) || got.Payload.Message != "hi" {
		t.Fatalf("event = %+v", got)
	}
}

func TestStatusPage(t *testing.T) {
	f := newFixture(t, nil)
	w := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<title>ticlink</title>") {
		t.Fatalf("status page = %d", w.Code)
	}
}
