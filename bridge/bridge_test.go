// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crosswire-im/crosswire/appservice"
	"github.com/crosswire-im/crosswire/config"
	"github.com/crosswire-im/crosswire/gateway"
	"github.com/crosswire-im/crosswire/ipc"
	"github.com/crosswire-im/crosswire/lib/testutil"
	"github.com/crosswire-im/crosswire/matrix"
	"github.com/crosswire-im/crosswire/rooms"
	"github.com/crosswire-im/crosswire/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGatewayClient is a Discord client double recording lifecycle
// calls and outbound messages. Channels it should resolve are keyed
// "guildID/channelID".
type fakeGatewayClient struct {
	mu       sync.Mutex
	opened   bool
	closed   bool
	openErr  error
	sent     []string
	channels map[string]*rooms.ChannelInfo
}

func (c *fakeGatewayClient) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.opened = true
	return nil
}

func (c *fakeGatewayClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeGatewayClient) SendMessage(ctx context.Context, channelID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, channelID+" "+content)
	return nil
}

func (c *fakeGatewayClient) ResolveChannel(ctx context.Context, guildID, channelID string) (*rooms.ChannelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[guildID+"/"+channelID], nil
}

func (c *fakeGatewayClient) sentMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeGatewayClient) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened && !c.closed
}

func (c *fakeGatewayClient) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeGatewayDialer hands out its client and captures the token and
// event handlers the bot dialed with.
type fakeGatewayDialer struct {
	client *fakeGatewayClient

	mu     sync.Mutex
	token  string
	events gateway.Events
}

func (d *fakeGatewayDialer) dial(token string, events gateway.Events) (gateway.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.token = token
	d.events = events
	return d.client, nil
}

func (d *fakeGatewayDialer) dialedToken() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.token
}

func (d *fakeGatewayDialer) fireReady(selfID string) {
	d.mu.Lock()
	ready := d.events.Ready
	d.mu.Unlock()
	ready(selfID)
}

// stateRecorder collects observed transitions and signals arrival at
// the running state.
type stateRecorder struct {
	mu      sync.Mutex
	states  []State
	running chan struct{}
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{running: make(chan struct{})}
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	if s == StateRunning {
		close(r.running)
	}
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *stateRecorder) saw(s State) bool {
	for _, got := range r.snapshot() {
		if got == s {
			return true
		}
	}
	return false
}

// testConfig returns a valid configuration with throwaway store paths
// and the listener on an ephemeral port.
func testConfig(t *testing.T, homeserverURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Bridge.Domain = "example.org"
	cfg.Bridge.HomeserverURL = homeserverURL
	cfg.Bridge.Port = 0
	cfg.Database.RoomStorePath = filepath.Join(dir, "rooms.db")
	cfg.Database.UserStorePath = filepath.Join(dir, "users.db")
	cfg.Gateway.BotToken = "fake-discord-token"
	return cfg
}

// writeRegistration generates a registration descriptor on disk and
// returns its path alongside the parsed form.
func writeRegistration(t *testing.T) (string, *appservice.Registration) {
	t.Helper()
	reg := appservice.GenerateRegistration(appservice.GenerateConfig{URL: "http://localhost:9005"})
	path := filepath.Join(t.TempDir(), "registration.yaml")
	if err := appservice.SaveRegistration(path, reg, false); err != nil {
		t.Fatalf("saving registration: %v", err)
	}
	return path, reg
}

// seedLink persists a room link into the store files before the bridge
// opens them.
func seedLink(t *testing.T, roomPath, userPath string, link store.Link) {
	t.Helper()
	stores, err := store.New(store.Config{RoomPath: roomPath, UserPath: userPath, Logger: testLogger()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	ctx := t.Context()
	if err := stores.Init(ctx); err != nil {
		t.Fatalf("initializing stores: %v", err)
	}
	if err := stores.Rooms.Save(ctx, link); err != nil {
		t.Fatalf("saving link: %v", err)
	}
	if err := stores.Close(); err != nil {
		t.Fatalf("closing stores: %v", err)
	}
}

type testBridge struct {
	bridge *Bridge
	reg    *appservice.Registration
	dialer *fakeGatewayDialer
	client *fakeGatewayClient
	states *stateRecorder

	cancel context.CancelFunc
	done   chan error
}

// bridgeHarness customizes startBridge: homeserver routes, the fake
// gateway client handed to the bot, and an option mutation applied
// before New. Zero value gives an empty homeserver and a fresh client.
type bridgeHarness struct {
	mux    *http.ServeMux
	client *fakeGatewayClient
	mutate func(*Options)
}

// startBridge runs a bridge to the running state against a stub
// homeserver and a fake gateway.
func startBridge(t *testing.T, h bridgeHarness) *testBridge {
	t.Helper()

	if h.mux == nil {
		h.mux = http.NewServeMux()
	}
	if h.client == nil {
		h.client = &fakeGatewayClient{}
	}

	homeserver := httptest.NewServer(h.mux)
	t.Cleanup(homeserver.Close)

	registrationPath, reg := writeRegistration(t)
	dialer := &fakeGatewayDialer{client: h.client}
	states := newStateRecorder()

	opts := Options{
		Config:           testConfig(t, homeserver.URL),
		RegistrationPath: registrationPath,
		Logger:           testLogger(),
		HTTPClient:       homeserver.Client(),
		DialGateway:      dialer.dial,
		OnState:          states.record,
	}
	if h.mutate != nil {
		h.mutate(&opts)
	}

	b, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		done <- b.Run(ctx)
		close(exited)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, exited, 10*time.Second, "bridge shutdown")
	})

	testutil.RequireClosed(t, states.running, 5*time.Second, "bridge startup")
	return &testBridge{
		bridge: b,
		reg:    reg,
		dialer: dialer,
		client: h.client,
		states: states,
		cancel: cancel,
		done:   done,
	}
}

// stop cancels the run context and returns Run's error.
func (tb *testBridge) stop(t *testing.T) error {
	t.Helper()
	tb.cancel()
	return testutil.RequireReceive(t, tb.done, 10*time.Second, "bridge shutdown")
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// doRequest performs an hs_token-authenticated request against the
// bridge's listener and returns the response with its body closed.
func doRequest(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	response.Body.Close()
	return response
}

func TestNewValidation(t *testing.T) {
	valid := func() Options {
		return Options{
			Config:           config.Default(),
			RegistrationPath: "registration.yaml",
		}
	}

	b, err := New(valid())
	if err != nil {
		t.Fatalf("valid options rejected: %v", err)
	}
	if got := b.State(); got != StateCreated {
		t.Errorf("fresh bridge State() = %v, want %v", got, StateCreated)
	}
	if b.ListenerAddr() != nil {
		t.Error("fresh bridge has a listener address")
	}

	cases := map[string]func(*Options){
		"nil config":              func(o *Options) { o.Config = nil },
		"empty registration path": func(o *Options) { o.RegistrationPath = "" },
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			opts := valid()
			corrupt(&opts)
			if _, err := New(opts); err == nil {
				t.Error("New accepted invalid options")
			}
		})
	}
}

func TestStartupSequence(t *testing.T) {
	tb := startBridge(t, bridgeHarness{})

	want := []State{
		StateConfigLoaded,
		StateRegistrationLoaded,
		StateClientFactoryBuilt,
		StateControllerWired,
		StateStoreInitialized,
		StateListenerStarted,
		StateRemoteClientStarted,
		StateRunning,
	}
	got := tb.states.snapshot()
	if len(got) != len(want) {
		t.Fatalf("observed states %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if got := tb.bridge.State(); got != StateRunning {
		t.Errorf("State() = %v, want %v", got, StateRunning)
	}
	if got := tb.dialer.dialedToken(); got != "fake-discord-token" {
		t.Errorf("gateway dialed with token %q", got)
	}
	if !tb.client.isOpen() {
		t.Error("gateway session not opened")
	}

	if err := tb.stop(t); err != nil {
		t.Fatalf("Run returned %v on clean shutdown", err)
	}
	if !tb.client.wasClosed() {
		t.Error("gateway session not closed during shutdown")
	}
}

func TestListenerServesHealth(t *testing.T) {
	tb := startBridge(t, bridgeHarness{})

	addr := tb.bridge.ListenerAddr()
	if addr == nil {
		t.Fatal("ListenerAddr returned nil while running")
	}
	response, err := http.Get("http://" + addr.String() + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", response.StatusCode)
	}
}

func TestInvalidConfigRejectedBeforeAnyState(t *testing.T) {
	registrationPath, _ := writeRegistration(t)
	states := newStateRecorder()

	// Default has no domain, so validation fails.
	b, err := New(Options{
		Config:           config.Default(),
		RegistrationPath: registrationPath,
		Logger:           testLogger(),
		OnState:          states.record,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = b.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded with an invalid configuration")
	}
	if !strings.Contains(err.Error(), "validating configuration") {
		t.Errorf("error = %q, want a configuration validation failure", err)
	}
	if got := states.snapshot(); len(got) != 0 {
		t.Errorf("states entered before validation passed: %v", got)
	}
	if got := b.State(); got != StateCreated {
		t.Errorf("State() = %v, want %v", got, StateCreated)
	}
}

func TestBrokenRegistrationAbortsStartup(t *testing.T) {
	cases := map[string]func(t *testing.T) string{
		"malformed yaml": func(t *testing.T) string {
			path := filepath.Join(t.TempDir(), "registration.yaml")
			if err := os.WriteFile(path, []byte("{ this is not: [yaml"), 0o600); err != nil {
				t.Fatalf("writing descriptor: %v", err)
			}
			return path
		},
		"missing file": func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "absent.yaml")
		},
	}

	for name, makePath := range cases {
		t.Run(name, func(t *testing.T) {
			states := newStateRecorder()
			cfg := testConfig(t, "http://localhost:1")

			b, err := New(Options{
				Config:           cfg,
				RegistrationPath: makePath(t),
				Logger:           testLogger(),
				OnState:          states.record,
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			if err := b.Run(context.Background()); err == nil {
				t.Fatal("Run succeeded with a broken registration")
			}

			// Everything past configuration must stay untouched.
			got := states.snapshot()
			if len(got) != 1 || got[0] != StateConfigLoaded {
				t.Fatalf("observed states %v, want only %v", got, StateConfigLoaded)
			}
			if _, err := os.Stat(cfg.Database.RoomStorePath); !os.IsNotExist(err) {
				t.Errorf("room store created despite aborted startup: %v", err)
			}
		})
	}
}

func TestMissingTokenFileAbortsWiring(t *testing.T) {
	registrationPath, _ := writeRegistration(t)
	states := newStateRecorder()

	// The token file path survives validation; reading it is wiring
	// work, so the failure must land there.
	cfg := testConfig(t, "http://localhost:1")
	cfg.Gateway.BotToken = ""
	cfg.Gateway.BotTokenFile = filepath.Join(t.TempDir(), "absent.token")

	b, err := New(Options{
		Config:           cfg,
		RegistrationPath: registrationPath,
		Logger:           testLogger(),
		OnState:          states.record,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := b.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with an unreadable gateway token")
	}

	got := states.snapshot()
	if len(got) == 0 || got[len(got)-1] != StateClientFactoryBuilt {
		t.Fatalf("observed states %v, want the last to be %v", got, StateClientFactoryBuilt)
	}
	if states.saw(StateControllerWired) || states.saw(StateListenerStarted) {
		t.Errorf("states past the failed wiring were entered: %v", got)
	}
	if _, err := os.Stat(cfg.Database.RoomStorePath); !os.IsNotExist(err) {
		t.Errorf("room store created despite aborted wiring: %v", err)
	}
}

func TestGatewayFailureReleasesListener(t *testing.T) {
	homeserver := httptest.NewServer(http.NewServeMux())
	defer homeserver.Close()

	registrationPath, _ := writeRegistration(t)
	client := &fakeGatewayClient{openErr: errors.New("gateway refused")}
	dialer := &fakeGatewayDialer{client: client}
	states := newStateRecorder()

	// The listener address is only observable while the bridge holds
	// the socket, so capture it from the transition callback.
	var b *Bridge
	var listenerAddr string
	opts := Options{
		Config:           testConfig(t, homeserver.URL),
		RegistrationPath: registrationPath,
		Logger:           testLogger(),
		HTTPClient:       homeserver.Client(),
		DialGateway:      dialer.dial,
		OnState: func(s State) {
			states.record(s)
			if s == StateListenerStarted {
				listenerAddr = b.ListenerAddr().String()
			}
		},
	}
	b, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = b.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "gateway refused") {
		t.Fatalf("Run error = %v, want the gateway open failure", err)
	}

	got := states.snapshot()
	if len(got) == 0 || got[len(got)-1] != StateListenerStarted {
		t.Fatalf("observed states %v, want the last to be %v", got, StateListenerStarted)
	}
	if states.saw(StateRemoteClientStarted) || states.saw(StateRunning) {
		t.Errorf("states past the failed transition were entered: %v", got)
	}
	if !client.wasClosed() {
		t.Error("dialed gateway session not closed by the aborted startup")
	}

	if listenerAddr == "" {
		t.Fatal("listener address never captured")
	}
	if _, err := http.Get("http://" + listenerAddr + "/health"); err == nil {
		t.Error("listener still accepting connections after aborted startup")
	}
}

func TestTransactionRelaysToDiscord(t *testing.T) {
	dir := t.TempDir()
	roomPath := filepath.Join(dir, "rooms.db")
	userPath := filepath.Join(dir, "users.db")
	seedLink(t, roomPath, userPath, store.Link{
		RoomID:    matrix.MustParseRoomID("!linked:example.org"),
		Alias:     matrix.MustParseRoomAlias("#_discord_100_200:example.org"),
		GuildID:   "100",
		ChannelID: "200",
	})

	tb := startBridge(t, bridgeHarness{mutate: func(o *Options) {
		o.Config.Database.RoomStorePath = roomPath
		o.Config.Database.UserStorePath = userPath
	}})

	txn := struct {
		Events []appservice.Event `json:"events"`
	}{Events: []appservice.Event{{
		ID:      "$evt1",
		Type:    "m.room.message",
		RoomID:  "!linked:example.org",
		Sender:  "@alice:example.org",
		Content: json.RawMessage(`{"msgtype":"m.text","body":"hello from matrix"}`),
	}}}
	base := "http://" + tb.bridge.ListenerAddr().String()
	response := doRequest(t, http.MethodPut, base+"/_matrix/app/v1/transactions/txn1", tb.reg.HSToken, txn)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("transaction status = %d, want 200", response.StatusCode)
	}

	waitFor(t, "message relayed to discord", func() bool {
		return len(tb.client.sentMessages()) == 1
	})
	if got, want := tb.client.sentMessages()[0], "200 hello from matrix"; got != want {
		t.Errorf("relayed %q, want %q", got, want)
	}
}

func TestAliasProvisioningLoop(t *testing.T) {
	var (
		createMu sync.Mutex
		created  []matrix.CreateRoomRequest
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_matrix/client/v3/createRoom", func(w http.ResponseWriter, r *http.Request) {
		var request matrix.CreateRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		createMu.Lock()
		created = append(created, request)
		createMu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"room_id":"!created:example.org"}`)
	})

	client := &fakeGatewayClient{channels: map[string]*rooms.ChannelInfo{
		"300/400": {GuildName: "Test Guild", ChannelName: "general", Topic: "chatter"},
	}}
	tb := startBridge(t, bridgeHarness{mux: mux, client: client})
	base := "http://" + tb.bridge.ListenerAddr().String()

	// A channel the gateway cannot resolve is not served.
	response := doRequest(t, http.MethodGet,
		base+"/_matrix/app/v1/rooms/%23_discord_999_888:example.org", tb.reg.HSToken, nil)
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown channel alias status = %d, want 404", response.StatusCode)
	}

	// A resolvable one provisions a room through the homeserver.
	response = doRequest(t, http.MethodGet,
		base+"/_matrix/app/v1/rooms/%23_discord_300_400:example.org", tb.reg.HSToken, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("alias status = %d, want 200", response.StatusCode)
	}

	createMu.Lock()
	if len(created) != 1 {
		createMu.Unlock()
		t.Fatalf("rooms created = %d, want 1", len(created))
	}
	request := created[0]
	createMu.Unlock()
	if request.AliasLocalpart != "_discord_300_400" {
		t.Errorf("alias localpart = %q, want %q", request.AliasLocalpart, "_discord_300_400")
	}

	// The confirmed link relays without restarting anything.
	txn := struct {
		Events []appservice.Event `json:"events"`
	}{Events: []appservice.Event{{
		ID:      "$evt2",
		Type:    "m.room.message",
		RoomID:  "!created:example.org",
		Sender:  "@alice:example.org",
		Content: json.RawMessage(`{"msgtype":"m.text","body":"hello general"}`),
	}}}
	response = doRequest(t, http.MethodPut, base+"/_matrix/app/v1/transactions/txn2", tb.reg.HSToken, txn)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("transaction status = %d, want 200", response.StatusCode)
	}
	waitFor(t, "message relayed to the new channel", func() bool {
		return len(tb.client.sentMessages()) == 1
	})
	if got, want := tb.client.sentMessages()[0], "400 hello general"; got != want {
		t.Errorf("relayed %q, want %q", got, want)
	}
}

func TestAdminSocketStatus(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "admin.sock")
	tb := startBridge(t, bridgeHarness{mutate: func(o *Options) {
		o.Config.Admin.SocketPath = socketPath
	}})
	tb.dialer.fireReady("my-discord-id")

	// The admin socket starts concurrently with the later transitions.
	waitFor(t, "admin socket", func() bool {
		info, err := os.Stat(socketPath)
		return err == nil && info.Mode()&os.ModeSocket != 0
	})

	ctx := t.Context()
	var ping ipc.PingReply
	if err := ipc.Call(ctx, socketPath, ipc.ActionPing, &ping); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !ping.Pong {
		t.Error("ping reply missing pong")
	}

	var status ipc.StatusReply
	if err := ipc.Call(ctx, socketPath, ipc.ActionStatus, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != "running" {
		t.Errorf("state = %q, want %q", status.State, "running")
	}
	if status.RegistrationFingerprint != tb.reg.Fingerprint() {
		t.Errorf("fingerprint = %q, want %q", status.RegistrationFingerprint, tb.reg.Fingerprint())
	}
	if want := matrix.MustParseUserID("@_discord_bot:example.org"); status.BotUserID != want {
		t.Errorf("bot user = %v, want %v", status.BotUserID, want)
	}
	if !status.GatewayConnected {
		t.Error("gateway reported disconnected after ready")
	}
	if status.LinkedRooms != 0 || status.GhostUsers != 0 {
		t.Errorf("counts = %d links, %d ghosts on a fresh store", status.LinkedRooms, status.GhostUsers)
	}
	if len(status.Hooks) != 5 {
		t.Errorf("hook stats count = %d, want 5", len(status.Hooks))
	}

	if err := tb.stop(t); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("admin socket not removed at shutdown: %v", err)
	}
}
