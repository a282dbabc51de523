// Package onebot implements a OneBot v11 forward-WebSocket client.
//
// A Client multiplexes concurrent calls over one connection, matching each
// response to its call by echo token, and delivers push events to
// subscribers in arrival order. Lost connections are retried forever with a
// fixed delay.
package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclaw-qq/qqbridge/pkg/logger"
)

const (
	DefaultCallTimeout    = 30 * time.Second
	DefaultReconnectDelay = 5 * time.Second

	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Caller issues a OneBot action and waits for its matched response data.
type Caller interface {
	Call(ctx context.Context, action string, params interface{}) (json.RawMessage, error)
}

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

type dialFunc func(url string, header http.Header) (*websocket.Conn, error)

func defaultDial(url string, header http.Header) (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout
	conn, _, err := dialer.Dial(url, header)
	return conn, err
}

type Options struct {
	// Name labels log lines when several clients run side by side.
	Name           string
	URL            string
	AccessToken    string
	CallTimeout    time.Duration
	ReconnectDelay time.Duration
}

// connState is everything that changes when the socket comes and goes.
type connState struct {
	conn           *websocket.Conn
	reconnectTimer timer
	reconnectSeq   uint64
	connected      bool
	closed         bool
}

type callResult struct {
	data json.RawMessage
	err  error
}

// pendingCall is removed from the map by exactly one of: matching response,
// timeout, context cancellation or write failure. Whoever removes it delivers
// the result.
type pendingCall struct {
	action string
	result chan callResult
	timer  timer
}

type Client struct {
	name           string
	url            string
	token          string
	callTimeout    time.Duration
	reconnectDelay time.Duration

	dial      dialFunc
	afterFunc afterFunc
	now       func() time.Time

	mu          sync.Mutex
	state       connState
	pending     map[string]*pendingCall
	echoCounter uint64

	writeMu sync.Mutex

	subMu          sync.RWMutex
	eventSubs      []func(*Event)
	connectSubs    []func()
	disconnectSubs []func()
	loginSubs      []func(LoginInfo)

	queue        *eventQueue
	dispatchOnce sync.Once
	closeOnce    sync.Once
	done         chan struct{}

	selfID        atomic.Int64
	nickname      atomic.Value
	alive         atomic.Bool
	lastHeartbeat atomic.Int64
}

func NewClient(opts Options) *Client {
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	reconnectDelay := opts.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	name := opts.Name
	if name == "" {
		name = "onebot"
	}

	c := &Client{
		name:           name,
		url:            opts.URL,
		token:          opts.AccessToken,
		callTimeout:    callTimeout,
		reconnectDelay: reconnectDelay,
		dial:           defaultDial,
		afterFunc:      realAfterFunc,
		now:            time.Now,
		pending:        make(map[string]*pendingCall),
		queue:          newEventQueue(),
		done:           make(chan struct{}),
	}
	c.nickname.Store("")
	return c
}

func (c *Client) Name() string { return c.name }

// OnEvent registers a push event subscriber. Subscribers run one event at a
// time in arrival order; a panicking subscriber does not affect the others.
func (c *Client) OnEvent(fn func(*Event)) {
	c.subMu.Lock()
	c.eventSubs = append(c.eventSubs, fn)
	c.subMu.Unlock()
}

func (c *Client) OnConnect(fn func()) {
	c.subMu.Lock()
	c.connectSubs = append(c.connectSubs, fn)
	c.subMu.Unlock()
}

func (c *Client) OnDisconnect(fn func()) {
	c.subMu.Lock()
	c.disconnectSubs = append(c.disconnectSubs, fn)
	c.subMu.Unlock()
}

// OnLogin fires after get_login_info succeeds on a fresh connection.
func (c *Client) OnLogin(fn func(LoginInfo)) {
	c.subMu.Lock()
	c.loginSubs = append(c.loginSubs, fn)
	c.subMu.Unlock()
}

// Connect dials the gateway. A failed dial schedules a retry and returns the
// error; calling Connect while already connected is a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.dispatchOnce.Do(func() { go c.dispatchLoop() })

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, err := c.dial(c.url, header)
	if err != nil {
		logger.WarnCF("onebot", "WebSocket connect failed", map[string]interface{}{
			"account": c.name,
			"url":     c.url,
			"error":   err.Error(),
		})
		c.scheduleReconnect()
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.state.closed || c.state.conn != nil {
		c.mu.Unlock()
		conn.Close()
		if c.isClosed() {
			return ErrClientClosed
		}
		return nil
	}
	c.state.conn = conn
	c.state.connected = true
	if c.state.reconnectTimer != nil {
		c.state.reconnectTimer.Stop()
		c.state.reconnectTimer = nil
	}
	c.mu.Unlock()

	c.alive.Store(true)
	logger.InfoCF("onebot", "WebSocket connected", map[string]interface{}{
		"account": c.name,
		"url":     c.url,
	})

	go c.readLoop(conn)
	c.emitConnect()
	go c.fetchLoginInfo()
	return nil
}

// Disconnect cancels any pending reconnect and closes the socket. In-flight
// calls are left to time out. Connect may be called again afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state.reconnectTimer != nil {
		c.state.reconnectTimer.Stop()
		c.state.reconnectTimer = nil
	}
	conn := c.state.conn
	c.state.conn = nil
	c.state.connected = false
	c.mu.Unlock()

	if conn == nil {
		return
	}
	c.alive.Store(false)
	conn.Close()
	logger.InfoCF("onebot", "WebSocket disconnected", map[string]interface{}{
		"account": c.name,
	})
	c.emitDisconnect()
}

// Close disconnects for good and stops event dispatch.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state.closed = true
		c.mu.Unlock()
		c.Disconnect()
		close(c.done)
	})
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.closed
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.connected
}

// Alive is true while connected and refreshed by heartbeats.
func (c *Client) Alive() bool { return c.alive.Load() }

// SelfID is the gateway account id learned from get_login_info, or 0.
func (c *Client) SelfID() int64 { return c.selfID.Load() }

func (c *Client) Nickname() string {
	s, _ := c.nickname.Load().(string)
	return s
}

// LastHeartbeat returns the receipt time of the latest heartbeat.
func (c *Client) LastHeartbeat() time.Time {
	ms := c.lastHeartbeat.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.closed || c.state.reconnectTimer != nil {
		return
	}
	c.state.reconnectSeq++
	seq := c.state.reconnectSeq
	c.state.reconnectTimer = c.afterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		if c.state.reconnectSeq != seq || c.state.reconnectTimer == nil {
			c.mu.Unlock()
			return
		}
		c.state.reconnectTimer = nil
		c.mu.Unlock()

		logger.InfoCF("onebot", "Attempting to reconnect...", map[string]interface{}{
			"account": c.name,
		})
		_ = c.Connect()
	})
	logger.DebugCF("onebot", "Reconnect scheduled", map[string]interface{}{
		"account": c.name,
		"delay":   c.reconnectDelay.String(),
	})
}

func (c *Client) nextEcho() string {
	c.echoCounter++
	return fmt.Sprintf("req_%d_%d", c.echoCounter, c.now().UnixMilli())
}

// Call sends an action and waits for the matching response. It returns
// ErrNotConnected when no socket is open, ErrTimeout when no response
// arrives within the call timeout and *GatewayError for non-ok responses.
func (c *Client) Call(ctx context.Context, action string, params interface{}) (json.RawMessage, error) {
	if params == nil {
		params = map[string]interface{}{}
	}

	c.mu.Lock()
	conn := c.state.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	echo := c.nextEcho()
	pc := &pendingCall{
		action: action,
		result: make(chan callResult, 1),
	}
	c.pending[echo] = pc
	pc.timer = c.afterFunc(c.callTimeout, func() {
		c.resolve(echo, callResult{err: fmt.Errorf("%s: %w", action, ErrTimeout)})
	})
	c.mu.Unlock()

	payload, err := json.Marshal(Request{Action: action, Params: params, Echo: echo})
	if err != nil {
		c.resolve(echo, callResult{err: fmt.Errorf("marshal %s request: %w", action, err)})
		return c.await(pc)
	}

	logger.DebugCF("onebot", "API call", map[string]interface{}{
		"account": c.name,
		"action":  action,
		"echo":    echo,
	})

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.resolve(echo, callResult{err: fmt.Errorf("write %s request: %w", action, err)})
		return c.await(pc)
	}

	if ctx == nil {
		return c.await(pc)
	}
	select {
	case res := <-pc.result:
		return res.data, res.err
	case <-ctx.Done():
		c.resolve(echo, callResult{err: ctx.Err()})
		return c.await(pc)
	}
}

func (c *Client) await(pc *pendingCall) (json.RawMessage, error) {
	res := <-pc.result
	return res.data, res.err
}

// resolve delivers res to the call registered under echo. Only the first
// resolve for an echo wins; later ones report false.
func (c *Client) resolve(echo string, res callResult) bool {
	c.mu.Lock()
	pc, ok := c.pending[echo]
	if ok {
		delete(c.pending, echo)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if pc.timer != nil {
		pc.timer.Stop()
	}
	pc.result <- res
	return true
}

func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(conn, err)
			return
		}
		c.handleFrame(message)
	}
}

func (c *Client) handleClosed(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.state.conn != conn {
		// Disconnect already tore this connection down.
		c.mu.Unlock()
		return
	}
	c.state.conn = nil
	c.state.connected = false
	c.mu.Unlock()

	c.alive.Store(false)
	conn.Close()
	logger.WarnCF("onebot", "WebSocket closed", map[string]interface{}{
		"account": c.name,
		"error":   cause.Error(),
	})
	c.emitDisconnect()
	c.scheduleReconnect()
}

func (c *Client) handleFrame(message []byte) {
	logger.DebugCF("onebot", "Raw WebSocket message received", map[string]interface{}{
		"account": c.name,
		"length":  len(message),
		"payload": string(message),
	})

	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		logger.WarnCF("onebot", "Dropping malformed frame", map[string]interface{}{
			"account": c.name,
			"error":   err.Error(),
			"payload": string(message),
		})
		return
	}

	if echo := f.echo(); echo != "" {
		c.handleResponse(echo, message)
		return
	}

	evt, err := ParseEvent(message)
	if err != nil {
		logger.WarnCF("onebot", "Dropping malformed event", map[string]interface{}{
			"account": c.name,
			"error":   err.Error(),
			"payload": string(message),
		})
		return
	}

	if evt.IsHeartbeat() {
		c.alive.Store(true)
		c.lastHeartbeat.Store(c.now().UnixMilli())
		return
	}

	c.queue.push(evt)
}

func (c *Client) handleResponse(echo string, message []byte) {
	var resp Response
	res := callResult{}
	if err := json.Unmarshal(message, &resp); err != nil {
		res.err = fmt.Errorf("decode response: %w", err)
	} else if !strings.EqualFold(resp.Status, "ok") {
		c.mu.Lock()
		action := ""
		if pc, ok := c.pending[echo]; ok {
			action = pc.action
		}
		c.mu.Unlock()
		msg := resp.Message
		if msg == "" {
			msg = resp.Wording
		}
		res.err = &GatewayError{
			Action:  action,
			Status:  resp.Status,
			RetCode: resp.RetCode.Int64(),
			Message: msg,
		}
	} else {
		res.data = resp.Data
	}

	if !c.resolve(echo, res) {
		logger.DebugCF("onebot", "Response for unknown echo ignored", map[string]interface{}{
			"account": c.name,
			"echo":    echo,
		})
	}
}

func (c *Client) fetchLoginInfo() {
	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()

	data, err := c.Call(ctx, "get_login_info", nil)
	if err != nil {
		logger.WarnCF("onebot", "get_login_info failed", map[string]interface{}{
			"account": c.name,
			"error":   err.Error(),
		})
		return
	}
	var info LoginInfo
	if err := json.Unmarshal(data, &info); err != nil {
		logger.WarnCF("onebot", "Unexpected get_login_info payload", map[string]interface{}{
			"account": c.name,
			"error":   err.Error(),
		})
		return
	}
	if info.SelfID > 0 {
		c.selfID.Store(info.SelfID.Int64())
	}
	c.nickname.Store(info.Nickname)

	logger.InfoCF("onebot", "Logged in", map[string]interface{}{
		"account":  c.name,
		"self_id":  info.SelfID.Int64(),
		"nickname": info.Nickname,
	})
	c.emitLogin(info)
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.queue.signal:
		}
		for {
			evt, ok := c.queue.pop()
			if !ok {
				break
			}
			c.emitEvent(evt)
		}
	}
}

func (c *Client) emitEvent(evt *Event) {
	c.subMu.RLock()
	subs := append(([]func(*Event))(nil), c.eventSubs...)
	c.subMu.RUnlock()
	for _, fn := range subs {
		c.safeInvoke("event", func() { fn(evt) })
	}
}

func (c *Client) emitConnect() {
	c.subMu.RLock()
	subs := append(([]func())(nil), c.connectSubs...)
	c.subMu.RUnlock()
	for _, fn := range subs {
		c.safeInvoke("connect", fn)
	}
}

func (c *Client) emitDisconnect() {
	c.subMu.RLock()
	subs := append(([]func())(nil), c.disconnectSubs...)
	c.subMu.RUnlock()
	for _, fn := range subs {
		c.safeInvoke("disconnect", fn)
	}
}

func (c *Client) emitLogin(info LoginInfo) {
	c.subMu.RLock()
	subs := append(([]func(LoginInfo))(nil), c.loginSubs...)
	c.subMu.RUnlock()
	for _, fn := range subs {
		c.safeInvoke("login", func() { fn(info) })
	}
}

func (c *Client) safeInvoke(signal string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("onebot", "Subscriber panicked", map[string]interface{}{
				"account": c.name,
				"signal":  signal,
				"panic":   fmt.Sprintf("%v", r),
			})
		}
	}()
	fn()
}

// eventQueue is an unbounded FIFO between the read loop and the dispatcher,
// so a subscriber waiting on Call never blocks frame reading.
type eventQueue struct {
	mu     sync.Mutex
	items  []*Event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(evt *Event) {
	q.mu.Lock()
	q.items = append(q.items, evt)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	evt := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return evt, true
}
