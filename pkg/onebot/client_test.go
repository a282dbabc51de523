package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const waitTimeout = 2 * time.Second

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock records AfterFunc registrations; tests fire them by duration.
// Callbacks never run inside AfterFunc itself.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) active(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *fakeClock) fire(d time.Duration) int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

type fakeGateway struct {
	server  *httptest.Server
	conns   chan *websocket.Conn
	headers chan http.Header
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		conns:   make(chan *websocket.Conn, 8),
		headers: make(chan http.Header, 8),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.headers <- r.Header.Clone()
		g.conns <- conn
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) URL() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *fakeGateway) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-g.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitTimeout):
		t.Fatalf("gateway did not receive a connection")
		return nil
	}
}

func readRequest(t *testing.T, conn *websocket.Conn) Request {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	var req Request
	if err := conn.ReadJSON(&req); err != nil {
		t.Fatalf("gateway read: %v", err)
	}
	return req
}

func writeFrame(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("gateway write: %v", err)
	}
}

func okResponse(echo string, data interface{}) map[string]interface{} {
	return map[string]interface{}{"status": "ok", "retcode": 0, "data": data, "echo": echo}
}

// answerLogin consumes the get_login_info call every new connection issues.
func answerLogin(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	req := readRequest(t, conn)
	if req.Action != "get_login_info" {
		t.Fatalf("first action = %q, want get_login_info", req.Action)
	}
	writeFrame(t, conn, okResponse(req.Echo, map[string]interface{}{"user_id": 10000, "nickname": "bot"}))
}

func newTestClient(t *testing.T, url string) (*Client, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	c := NewClient(Options{Name: "test", URL: url, AccessToken: "tok"})
	c.afterFunc = clock.AfterFunc
	t.Cleanup(c.Close)
	return c, clock
}

func connectClient(t *testing.T) (*Client, *fakeClock, *fakeGateway, *websocket.Conn) {
	t.Helper()
	g := newFakeGateway(t)
	c, clock := newTestClient(t, g.URL())
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := g.accept(t)
	answerLogin(t, conn)
	return c, clock, g, conn
}

func collectEvents(c *Client) chan *Event {
	ch := make(chan *Event, 16)
	c.OnEvent(func(evt *Event) { ch <- evt })
	return ch
}

func TestConnect_SendsBearerAndPublishesLogin(t *testing.T) {
	g := newFakeGateway(t)
	c, _ := newTestClient(t, g.URL())

	logins := make(chan LoginInfo, 1)
	c.OnLogin(func(info LoginInfo) { logins <- info })
	connected := make(chan struct{}, 1)
	c.OnConnect(func() { connected <- struct{}{} })

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := g.accept(t)

	header := <-g.headers
	if got := header.Get("Authorization"); got != "Bearer tok" {
		t.Fatalf("Authorization = %q", got)
	}
	select {
	case <-connected:
	case <-time.After(waitTimeout):
		t.Fatalf("connect signal not emitted")
	}

	answerLogin(t, conn)
	select {
	case info := <-logins:
		if info.SelfID != 10000 || info.Nickname != "bot" {
			t.Fatalf("login info = %+v", info)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("login signal not emitted")
	}
	if c.SelfID() != 10000 || c.Nickname() != "bot" {
		t.Fatalf("self id = %d nickname = %q", c.SelfID(), c.Nickname())
	}
	if !c.Connected() || !c.Alive() {
		t.Fatalf("client should be connected and alive")
	}
}

func TestCall_ResolvesWithData(t *testing.T) {
	c, _, _, conn := connectClient(t)

	type result struct {
		data json.RawMessage
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := c.Call(context.Background(), "get_status", nil)
		done <- result{data, err}
	}()

	req := readRequest(t, conn)
	if req.Action != "get_status" || !strings.HasPrefix(req.Echo, "req_") {
		t.Fatalf("unexpected request: %+v", req)
	}
	writeFrame(t, conn, okResponse(req.Echo, map[string]interface{}{"online": true, "good": true}))

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Call: %v", res.err)
		}
		var st Status
		if err := json.Unmarshal(res.data, &st); err != nil || !st.Online {
			t.Fatalf("data = %s (%v)", res.data, err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("call did not resolve")
	}
	if n := c.pendingCount(); n != 0 {
		t.Fatalf("pending = %d after resolution", n)
	}
}

func TestCall_ConcurrentResponsesOutOfOrder(t *testing.T) {
	c, _, _, conn := connectClient(t)

	results := make(map[string]chan string)
	for _, action := range []string{"first", "second"} {
		ch := make(chan string, 1)
		results[action] = ch
		go func(action string, ch chan string) {
			data, err := c.Call(context.Background(), action, nil)
			if err != nil {
				ch <- "error: " + err.Error()
				return
			}
			var s string
			_ = json.Unmarshal(data, &s)
			ch <- s
		}(action, ch)
	}

	reqs := []Request{readRequest(t, conn), readRequest(t, conn)}
	if reqs[0].Echo == reqs[1].Echo {
		t.Fatalf("echo tokens collide: %q", reqs[0].Echo)
	}
	for i := len(reqs) - 1; i >= 0; i-- {
		writeFrame(t, conn, okResponse(reqs[i].Echo, "reply-"+reqs[i].Action))
	}

	for action, ch := range results {
		select {
		case got := <-ch:
			if got != "reply-"+action {
				t.Fatalf("%s resolved with %q", action, got)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("%s did not resolve", action)
		}
	}
}

func TestCall_GatewayRejected(t *testing.T) {
	c, _, _, conn := connectClient(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "set_group_kick", map[string]interface{}{"group_id": 1})
		errCh <- err
	}()

	req := readRequest(t, conn)
	writeFrame(t, conn, map[string]interface{}{
		"status": "failed", "retcode": 102, "message": "no permission", "echo": req.Echo,
	})

	select {
	case err := <-errCh:
		var gwErr *GatewayError
		if !errors.As(err, &gwErr) {
			t.Fatalf("error = %v, want *GatewayError", err)
		}
		if gwErr.Action != "set_group_kick" || gwErr.RetCode != 102 || gwErr.Message != "no permission" {
			t.Fatalf("gateway error = %+v", gwErr)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("call did not resolve")
	}
}

func TestCall_NotConnected(t *testing.T) {
	c, _ := newTestClient(t, "ws://127.0.0.1:1")
	if _, err := c.Call(context.Background(), "get_status", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("error = %v, want ErrNotConnected", err)
	}
}

func TestCall_TimeoutResolvesExactlyOnce(t *testing.T) {
	c, clock, _, conn := connectClient(t)
	events := collectEvents(c)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "get_group_list", nil)
		errCh <- err
	}()
	req := readRequest(t, conn)

	if n := clock.fire(c.callTimeout); n == 0 {
		t.Fatalf("no call timer registered")
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("error = %v, want ErrTimeout", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timeout did not release the call")
	}

	// A late response for the expired echo must be dropped silently.
	writeFrame(t, conn, okResponse(req.Echo, []int{}))
	writeFrame(t, conn, map[string]interface{}{"post_type": "notice", "notice_type": "group_upload", "group_id": 5})

	select {
	case evt := <-events:
		if evt.NoticeType != NoticeGroupUpload {
			t.Fatalf("late response leaked as event: %s", evt.Raw)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("push event not delivered")
	}
	if n := c.pendingCount(); n != 0 {
		t.Fatalf("pending = %d", n)
	}
}

func TestCall_ContextCancelRemovesPending(t *testing.T) {
	c, _, _, conn := connectClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, "get_friend_list", nil)
		errCh <- err
	}()
	readRequest(t, conn)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("cancel did not release the call")
	}
	if n := c.pendingCount(); n != 0 {
		t.Fatalf("pending = %d", n)
	}
}

func TestFrames_UnknownEchoHeartbeatAndMalformedAreNotEmitted(t *testing.T) {
	c, _, _, conn := connectClient(t)
	events := collectEvents(c)

	writeFrame(t, conn, okResponse("req_999_0", nil))
	writeFrame(t, conn, map[string]interface{}{
		"post_type": "meta_event", "meta_event_type": "heartbeat",
		"status": map[string]interface{}{"online": true, "good": true},
	})
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeFrame(t, conn, map[string]interface{}{
		"post_type": "message", "message_type": "private", "message_id": 1, "user_id": 42, "raw_message": "one",
	})
	writeFrame(t, conn, map[string]interface{}{
		"post_type": "message", "message_type": "private", "message_id": "2", "user_id": "42", "raw_message": "two",
	})

	for _, want := range []string{"1", "2"} {
		select {
		case evt := <-events:
			if evt.MessageID.String() != want || evt.UserID != 42 {
				t.Fatalf("event = %+v, want message %s", evt, want)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("message %s not delivered", want)
		}
	}
	select {
	case evt := <-events:
		t.Fatalf("unexpected extra event: %s", evt.Raw)
	default:
	}
	if c.LastHeartbeat().IsZero() {
		t.Fatalf("heartbeat did not update liveness")
	}
}

func TestOnEvent_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	c, _, _, conn := connectClient(t)
	c.OnEvent(func(*Event) { panic("boom") })
	events := collectEvents(c)

	writeFrame(t, conn, map[string]interface{}{"post_type": "request", "request_type": "friend", "flag": "f1"})
	writeFrame(t, conn, map[string]interface{}{"post_type": "request", "request_type": "friend", "flag": "f2"})

	for _, want := range []string{"f1", "f2"} {
		select {
		case evt := <-events:
			if evt.Flag != want {
				t.Fatalf("flag = %q, want %q", evt.Flag, want)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("event %s not delivered", want)
		}
	}
}

func TestOnEvent_HandlerMayCallClient(t *testing.T) {
	c, _, _, conn := connectClient(t)

	replies := make(chan error, 1)
	c.OnEvent(func(evt *Event) {
		_, err := c.Call(context.Background(), "send_private_msg", map[string]interface{}{"user_id": evt.UserID})
		replies <- err
	})

	writeFrame(t, conn, map[string]interface{}{"post_type": "message", "message_type": "private", "user_id": 7})
	req := readRequest(t, conn)
	if req.Action != "send_private_msg" {
		t.Fatalf("action = %q", req.Action)
	}
	writeFrame(t, conn, okResponse(req.Echo, map[string]interface{}{"message_id": 3}))

	select {
	case err := <-replies:
		if err != nil {
			t.Fatalf("call from handler: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("handler call did not resolve")
	}
}

func TestReconnect_AfterGatewayClose(t *testing.T) {
	c, clock, g, conn := connectClient(t)

	disconnected := make(chan struct{}, 1)
	c.OnDisconnect(func() { disconnected <- struct{}{} })

	conn.Close()
	select {
	case <-disconnected:
	case <-time.After(waitTimeout):
		t.Fatalf("disconnect signal not emitted")
	}
	if c.Connected() {
		t.Fatalf("client still reports connected")
	}
	if n := clock.active(c.reconnectDelay); n != 1 {
		t.Fatalf("reconnect timers = %d, want 1", n)
	}

	clock.fire(c.reconnectDelay)
	conn2 := g.accept(t)
	answerLogin(t, conn2)
	if !c.Connected() {
		t.Fatalf("client did not reconnect")
	}
}

func TestReconnect_DialFailureSchedulesSingleRetry(t *testing.T) {
	c, clock := newTestClient(t, "ws://gateway.invalid")
	dials := 0
	var mu sync.Mutex
	c.dial = func(string, http.Header) (*websocket.Conn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, errors.New("dns failure")
	}

	if err := c.Connect(); err == nil {
		t.Fatalf("expected dial error")
	}
	c.scheduleReconnect()
	if n := clock.active(c.reconnectDelay); n != 1 {
		t.Fatalf("reconnect timers = %d, want 1", n)
	}

	clock.fire(c.reconnectDelay)
	if n := clock.active(c.reconnectDelay); n != 1 {
		t.Fatalf("failed retry should schedule exactly one more, got %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if dials != 2 {
		t.Fatalf("dials = %d, want 2", dials)
	}
}

func TestDisconnect_CancelsReconnectAndAllowsConnect(t *testing.T) {
	g := newFakeGateway(t)
	c, clock := newTestClient(t, g.URL())
	realDial := c.dial
	c.dial = func(string, http.Header) (*websocket.Conn, error) {
		return nil, errors.New("refused")
	}
	_ = c.Connect()
	if clock.active(c.reconnectDelay) != 1 {
		t.Fatalf("expected a pending reconnect")
	}

	c.Disconnect()
	if n := clock.active(c.reconnectDelay); n != 0 {
		t.Fatalf("reconnect timer survived Disconnect: %d", n)
	}

	c.dial = realDial
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect after Disconnect: %v", err)
	}
	conn := g.accept(t)
	answerLogin(t, conn)

	c.Disconnect()
	if c.Connected() {
		t.Fatalf("still connected after Disconnect")
	}
	if n := clock.active(c.reconnectDelay); n != 0 {
		t.Fatalf("manual disconnect scheduled a reconnect")
	}
}

func TestClose_RejectsConnect(t *testing.T) {
	c, _ := newTestClient(t, "ws://127.0.0.1:1")
	c.Close()
	if err := c.Connect(); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("error = %v, want ErrClientClosed", err)
	}
}
