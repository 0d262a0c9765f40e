package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/auth"
	"github.com/parley-chat/parley-server/internal/config"
	"github.com/parley-chat/parley-server/internal/core"
	"github.com/parley-chat/parley-server/internal/proto"
	"github.com/parley-chat/parley-server/internal/store"
	"github.com/parley-chat/parley-server/internal/store/sqlite"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if _, err := st.CreateChannel(ctx, &store.Channel{Name: "general", Server: "general", Kind: store.ChannelText}); err != nil {
		t.Fatalf("failed to seed channel: %v", err)
	}

	logger := zerolog.Nop()
	dir := core.NewChannelDirectory(st)
	if err := dir.Refresh(ctx); err != nil {
		t.Fatalf("failed to refresh directory: %v", err)
	}
	roster := core.NewConnectionRegistry(&logger)
	dispatcher := core.NewDispatcher(st, dir, roster, &logger)
	sessions := core.NewSessionManager(st, dir, roster, "general", &logger)

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})

	cfg := config.Default()
	cfg.UploadDir = t.TempDir()

	server, err := NewServer(&cfg, ServerDeps{
		Store:       st,
		Dispatcher:  dispatcher,
		Sessions:    sessions,
		Directory:   dir,
		AuthService: authService,
		Voice:       nil,
	}, &logger)
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func registerUser(t *testing.T, ts *httptest.Server, username string) string {
	t.Helper()

	body, _ := json.Marshal(RegisterRequest{Username: username, Password: "password123"})
	resp, err := ts.Client().Post(ts.URL+"/api/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("register %s: unexpected status %d", username, resp.StatusCode)
	}

	var authResp AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return authResp.Token
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendInbound(t *testing.T, ctx context.Context, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: eventType, Data: data}); err != nil {
		t.Fatalf("write inbound: %v", err)
	}
}

type testOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// readUntil skips outbound events until the wanted one arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) testOutbound {
	t.Helper()

	for {
		var out testOutbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read outbound waiting for %q: %v", event, err)
		}
		if out.Event == event {
			return out
		}
		// Error envelopes carry no event name.
		if event == core.EventError && out.Type == proto.OutboundTypeError {
			return out
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ts := startTestServer(t)

	registerUser(t, ts, "alice")

	// Duplicate registration conflicts.
	body, _ := json.Marshal(RegisterRequest{Username: "alice", Password: "password123"})
	resp, err := ts.Client().Post(ts.URL+"/api/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	loginBody, _ := json.Marshal(LoginRequest{Username: "alice", Password: "password123"})
	resp, err = ts.Client().Post(ts.URL+"/api/login", "application/json", bytes.NewReader(loginBody))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var authResp AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if authResp.Token == "" {
		t.Fatalf("expected non-empty token")
	}
}

func TestWSRejectsInvalidToken(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/ws?token=garbage")
	if err != nil {
		t.Fatalf("ws request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestWebSocketSendAndReceive(t *testing.T) {
	ts := startTestServer(t)

	aliceToken := registerUser(t, ts, "alice")
	bobToken := registerUser(t, ts, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts, aliceToken)
	connB := dialWS(t, ctx, ts, bobToken)

	// Connecting yields the channel snapshot up front.
	out := readUntil(t, ctx, connA, core.EventLoadChannels)
	var channels []proto.ChannelInfo
	if err := json.Unmarshal(out.Data, &channels); err != nil {
		t.Fatalf("unmarshal channels: %v", err)
	}
	if len(channels) != 1 || channels[0].Name != "general" {
		t.Fatalf("unexpected channels: %+v", channels)
	}

	sendInbound(t, ctx, connA, proto.InboundJoinChannel, proto.JoinChannelData{Channel: "general"})
	sendInbound(t, ctx, connB, proto.InboundJoinChannel, proto.JoinChannelData{Channel: "general"})

	// Joining yields the channel history, empty here.
	readUntil(t, ctx, connB, core.EventLoadMessages)

	sendInbound(t, ctx, connA, proto.InboundSendMessage, proto.SendMessageData{Channel: "general", Message: "hi there"})

	out = readUntil(t, ctx, connB, core.EventReceiveMessage)
	var msg proto.MessageInfo
	if err := json.Unmarshal(out.Data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Sender != "alice" || msg.Content != "hi there" || msg.Channel != "general" || msg.ID == 0 {
		t.Fatalf("unexpected message: %+v", msg)
	}

	// Pin by the delivered id; both subscribers get the refreshed list.
	sendInbound(t, ctx, connA, proto.InboundPinMessage, proto.PinMessageData{Channel: "general", ID: msg.ID})

	out = readUntil(t, ctx, connB, core.EventLoadMessages)
	var messages []proto.MessageInfo
	if err := json.Unmarshal(out.Data, &messages); err != nil {
		t.Fatalf("unmarshal messages: %v", err)
	}
	if len(messages) != 1 || !messages[0].Pinned {
		t.Fatalf("expected pinned message, got %+v", messages)
	}
}

func TestWebSocketErrorStaysWithSender(t *testing.T) {
	ts := startTestServer(t)

	aliceToken := registerUser(t, ts, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts, aliceToken)

	sendInbound(t, ctx, connA, proto.InboundSendMessage, proto.SendMessageData{Channel: "ghost", Message: "anyone?"})

	out := readUntil(t, ctx, connA, core.EventError)
	if out.Error == nil || out.Error.Code != core.ErrCodeNotFound {
		t.Fatalf("expected not_found error, got %+v", out.Error)
	}
}

func TestInviteLifecycle(t *testing.T) {
	ts := startTestServer(t)
	token := registerUser(t, ts, "alice")

	doJSON := func(method, path string, payload any) *stdhttp.Response {
		t.Helper()
		var body []byte
		if payload != nil {
			body, _ = json.Marshal(payload)
		}
		req, err := stdhttp.NewRequest(method, ts.URL+path, bytes.NewReader(body))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		return resp
	}

	resp := doJSON(stdhttp.MethodPost, "/api/invites", CreateInviteRequest{Channel: "general"})
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("create invite: expected 201, got %d", resp.StatusCode)
	}
	var inv InviteResponse
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		t.Fatalf("decode invite: %v", err)
	}
	if inv.Code == "" || inv.Channel != "general" {
		t.Fatalf("unexpected invite: %+v", inv)
	}

	// Unknown channel is rejected.
	resp = doJSON(stdhttp.MethodPost, "/api/invites", CreateInviteRequest{Channel: "ghost"})
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp = doJSON(stdhttp.MethodPost, "/api/invites/"+inv.Code+"/accept", nil)
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("accept invite: expected 200, got %d", resp.StatusCode)
	}

	// Codes are single use.
	resp = doJSON(stdhttp.MethodPost, "/api/invites/"+inv.Code+"/accept", nil)
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusNotFound {
		t.Fatalf("second accept: expected 404, got %d", resp.StatusCode)
	}
}

func TestEmoteEndpoints(t *testing.T) {
	ts := startTestServer(t)
	token := registerUser(t, ts, "alice")

	body, _ := json.Marshal(CreateEmoteRequest{Name: "pog", Image: "pog.png"})
	req, _ := stdhttp.NewRequest(stdhttp.MethodPost, ts.URL+"/api/servers/general/emotes", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("create emote: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	req, _ = stdhttp.NewRequest(stdhttp.MethodGet, ts.URL+"/api/servers/general/emotes", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("list emotes: %v", err)
	}
	defer resp.Body.Close()

	var emotes []EmoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&emotes); err != nil {
		t.Fatalf("decode emotes: %v", err)
	}
	if len(emotes) != 1 || emotes[0].Name != "pog" {
		t.Fatalf("unexpected emotes: %+v", emotes)
	}
}

func TestVoiceTokenWithoutBackend(t *testing.T) {
	ts := startTestServer(t)
	token := registerUser(t, ts, "alice")

	req, _ := stdhttp.NewRequest(stdhttp.MethodGet, ts.URL+"/api/voice/lounge/token", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("voice token request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a voice backend, got %d", resp.StatusCode)
	}
}

func TestProfileServerAndBanEndpoints(t *testing.T) {
	ts := startTestServer(t)
	token := registerUser(t, ts, "alice")

	do := func(method, path string, payload any) *stdhttp.Response {
		t.Helper()
		var body []byte
		if payload != nil {
			body, _ = json.Marshal(payload)
		}
		req, err := stdhttp.NewRequest(method, ts.URL+path, bytes.NewReader(body))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		return resp
	}

	resp := do(stdhttp.MethodPut, "/api/profile", UpdateProfileRequest{Avatar: "a.png", Bio: "hello"})
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusNoContent {
		t.Fatalf("update profile: expected 204, got %d", resp.StatusCode)
	}

	resp = do(stdhttp.MethodPost, "/api/servers/general/roles", CreateRoleRequest{Name: "mod", Permissions: "pin,ban"})
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("create role: expected 201, got %d", resp.StatusCode)
	}

	resp = do(stdhttp.MethodGet, "/api/servers/general/roles", nil)
	var roles []RoleResponse
	if err := json.NewDecoder(resp.Body).Decode(&roles); err != nil {
		t.Fatalf("decode roles: %v", err)
	}
	resp.Body.Close()
	if len(roles) != 1 || roles[0].Name != "mod" {
		t.Fatalf("unexpected roles: %+v", roles)
	}

	resp = do(stdhttp.MethodPost, "/api/channels/general/bans", BanRequest{Username: "bob"})
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusNoContent {
		t.Fatalf("ban: expected 204, got %d", resp.StatusCode)
	}

	resp = do(stdhttp.MethodGet, "/api/channels/general/bans", nil)
	var bans []BanResponse
	if err := json.NewDecoder(resp.Body).Decode(&bans); err != nil {
		t.Fatalf("decode bans: %v", err)
	}
	resp.Body.Close()
	if len(bans) != 1 || bans[0].Username != "bob" {
		t.Fatalf("unexpected bans: %+v", bans)
	}

	resp = do(stdhttp.MethodDelete, "/api/channels/general/bans/bob", nil)
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusNoContent {
		t.Fatalf("unban: expected 204, got %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/api/invites", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatalf("unauthenticated request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
