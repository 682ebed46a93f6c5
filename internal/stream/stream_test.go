package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/domain/nav"
)

type fakeSource struct {
	mu      sync.Mutex
	states  chan domainauth.State
	nav     *nav.Navigator
	current domainauth.State
	touches atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		states:  make(chan domainauth.State, 4),
		nav:     nav.NewNavigator(nav.ScreenHome),
		current: domainauth.State{Initialized: true},
	}
}

func (f *fakeSource) DeviceID() string { return "dev-1" }
func (f *fakeSource) Touch()           { f.touches.Add(1) }

func (f *fakeSource) Watch(ctx context.Context) <-chan domainauth.State {
	out := make(chan domainauth.State)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-f.states:
				if !ok {
					return
				}
				f.mu.Lock()
				f.current = s
				f.mu.Unlock()
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (f *fakeSource) Navigate(location nav.Screen) nav.Decision {
	f.mu.Lock()
	in := nav.Input{State: f.current, Location: location}
	f.mu.Unlock()
	d, changed := f.nav.Observe(in)
	if !changed {
		d = nav.Evaluate(in)
	}
	return d
}

func (f *fakeSource) Location() nav.Screen { return f.nav.Location() }

type streamFixture struct {
	hub    *Hub
	source *fakeSource
	conn   *websocket.Conn
}

func newStreamFixture(t *testing.T) streamFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	source := newFakeSource()
	upgrader := Upgrader(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, upgrader, source, logger, w, r)
	}))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return streamFixture{hub: hub, source: source, conn: conn}
}

func readMessage(t *testing.T, conn *websocket.Conn) (Message, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var envelope struct {
		Message
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	return envelope.Message, envelope.Data
}

func TestStream_PushesStateWithDecision(t *testing.T) {
	f := newStreamFixture(t)

	f.source.states <- domainauth.State{Initialized: true}
	msg, data := readMessage(t, f.conn)
	assert.Equal(t, MessageTypeAuthState, msg.Type)
	assert.NotEmpty(t, msg.ID)

	var payload AuthStateData
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.True(t, payload.State.Initialized)
	assert.Nil(t, payload.State.User)
	assert.True(t, payload.Decision.Redirect)
	assert.Equal(t, nav.ScreenWelcome, payload.Decision.Target)
	assert.Equal(t, nav.ScreenWelcome, payload.Location)
}

func TestStream_PingAndNavigate(t *testing.T) {
	f := newStreamFixture(t)

	require.NoError(t, f.conn.WriteJSON(ClientMessage{Type: MessageTypePing}))
	msg, _ := readMessage(t, f.conn)
	assert.Equal(t, MessageTypePong, msg.Type)

	require.NoError(t, f.conn.WriteJSON(ClientMessage{Type: MessageTypeNavigate, Location: "profile"}))
	msg, data := readMessage(t, f.conn)
	assert.Equal(t, MessageTypeNavigation, msg.Type)
	var d nav.Decision
	require.NoError(t, json.Unmarshal(data, &d))
	assert.True(t, d.Redirect)

	require.NoError(t, f.conn.WriteJSON(ClientMessage{Type: MessageTypeNavigate, Location: "nowhere"}))
	msg, _ = readMessage(t, f.conn)
	assert.Equal(t, MessageTypeError, msg.Type)
}

func TestStream_PongKeepsDeviceActive(t *testing.T) {
	f := newStreamFixture(t)
	require.Eventually(t, func() bool { return f.hub.Connections("dev-1") == 1 }, 2*time.Second, 10*time.Millisecond)
	before := f.source.touches.Load()

	require.NoError(t, f.conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second)))

	assert.Eventually(t, func() bool { return f.source.touches.Load() > before }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_DisconnectDevice(t *testing.T) {
	f := newStreamFixture(t)
	require.Eventually(t, func() bool { return f.hub.Connections("dev-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	f.hub.Disconnect("dev-1")

	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := f.conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Eventually(t, func() bool { return f.hub.TotalConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	u := Upgrader([]string{"https://app.kerdos.test"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, u.CheckOrigin(req))

	req.Header.Set("Origin", "https://app.kerdos.test")
	assert.True(t, u.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.test")
	assert.False(t, u.CheckOrigin(req))
}

func TestUpgrader_RegistrableDomain(t *testing.T) {
	u := Upgrader([]string{"kerdos.co.uk"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.Header.Set("Origin", "https://web.kerdos.co.uk")
	assert.True(t, u.CheckOrigin(req))

	req.Header.Set("Origin", "https://kerdos.co.uk:8443")
	assert.True(t, u.CheckOrigin(req))

	// Another site under the same public suffix is a different registrable domain.
	req.Header.Set("Origin", "https://notkerdos.co.uk")
	assert.False(t, u.CheckOrigin(req))

	req.Header.Set("Origin", "not a url")
	assert.False(t, u.CheckOrigin(req))
}
