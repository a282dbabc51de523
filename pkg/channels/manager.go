package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/openclaw-qq/qqbridge/pkg/bus"
	"github.com/openclaw-qq/qqbridge/pkg/cache"
	"github.com/openclaw-qq/qqbridge/pkg/config"
	"github.com/openclaw-qq/qqbridge/pkg/eventlog"
	"github.com/openclaw-qq/qqbridge/pkg/logger"
	"github.com/openclaw-qq/qqbridge/pkg/onebot"
	"github.com/openclaw-qq/qqbridge/pkg/requests"
	"github.com/openclaw-qq/qqbridge/pkg/router"
)

// Manager owns one client, router and channel per enabled account. The
// message cache, pending request store and event log are shared so owner
// commands can resolve a request whichever account saw it.
type Manager struct {
	channels     map[string]Channel
	bus          *bus.MessageBus
	config       *config.Config
	cache        *cache.MessageCache
	pending      *requests.Store
	events       *eventlog.Log
	dispatchTask *asyncTask
	mu           sync.RWMutex
}

type asyncTask struct {
	cancel context.CancelFunc
}

func NewManager(cfg *config.Config, messageBus *bus.MessageBus, events *eventlog.Log) (*Manager, error) {
	if events == nil {
		events = eventlog.New(eventlog.DefaultMaxEntries)
	}
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      messageBus,
		config:   cfg,
		cache:    cache.New(cache.DefaultCapacity),
		pending:  requests.NewStore(requests.DefaultTTL),
		events:   events,
	}

	if err := m.initChannels(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initChannels() error {
	logger.InfoC("channels", "Initializing channel manager")

	for _, acc := range m.config.EnabledAccounts() {
		if _, exists := m.channels[acc.Name]; exists {
			return fmt.Errorf("duplicate account name %q", acc.Name)
		}
		m.channels[acc.Name] = m.newAccountChannel(acc)
		logger.InfoCF("channels", "Account channel enabled", map[string]interface{}{
			"account":  acc.Name,
			"platform": acc.Platform,
		})
	}

	logger.InfoCF("channels", "Channel initialization completed", map[string]interface{}{
		"enabled_channels": len(m.channels),
	})
	return nil
}

func (m *Manager) newAccountChannel(acc config.AccountConfig) *OneBotChannel {
	client := onebot.NewClient(onebot.Options{
		Name:           acc.Name,
		URL:            acc.WSUrl,
		AccessToken:    acc.AccessToken,
		CallTimeout:    acc.CallTimeoutDuration(),
		ReconnectDelay: acc.ReconnectDelay(),
	})
	policy := m.config.PolicySource(acc.Name)

	rt := router.New(router.Options{
		Name:     acc.Name,
		Client:   client,
		Policy:   policy,
		Cache:    m.cache,
		Pending:  m.pending,
		SelfID:   client.SelfID,
		// Owner commands may arrive on any account; route them to the one
		// that received the request.
		Resolver: m.Resolve,
		Events:   m.events,
	})

	name := acc.Name
	client.OnConnect(func() {
		m.events.AddSystem(name+" 已连接", acc.WSUrl)
	})
	client.OnDisconnect(func() {
		m.events.AddSystem(name+" 连接断开", "")
	})
	client.OnLogin(func(info onebot.LoginInfo) {
		m.events.AddSystem(fmt.Sprintf("%s 登录账号 %d (%s)", name, info.SelfID, info.Nickname), "")
	})

	return NewOneBotChannel(acc, client, rt, policy, m.bus, m.events)
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) == 0 {
		logger.WarnC("channels", "No channels enabled")
		return nil
	}

	logger.InfoC("channels", "Starting all channels")

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.dispatchTask = &asyncTask{cancel: cancel}
	go m.dispatchOutbound(dispatchCtx)

	for name, channel := range m.channels {
		if err := channel.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}

	logger.InfoC("channels", "All channels started")
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger.InfoC("channels", "Stopping all channels")

	if m.dispatchTask != nil {
		m.dispatchTask.cancel()
		m.dispatchTask = nil
	}

	for name, channel := range m.channels {
		if err := channel.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}

	logger.InfoC("channels", "All channels stopped")
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	logger.InfoC("channels", "Outbound dispatcher started")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			logger.InfoC("channels", "Outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		channel, exists := m.channels[msg.Channel]
		m.mu.RUnlock()

		if !exists {
			logger.WarnCF("channels", "Unknown channel for outbound message", map[string]interface{}{
				"channel": msg.Channel,
			})
			continue
		}

		if err := channel.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Error sending message to channel", map[string]interface{}{
				"channel": msg.Channel,
				"error":   err.Error(),
			})
		}
	}
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// GetEnabledChannels returns channel names in sorted order.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) GetStatus() []ChannelStatus {
	var out []ChannelStatus
	for _, name := range m.GetEnabledChannels() {
		ch, _ := m.GetChannel(name)
		if ob, ok := ch.(*OneBotChannel); ok {
			out = append(out, ob.Status())
			continue
		}
		out = append(out, ChannelStatus{Name: name, Running: ch.IsRunning()})
	}
	return out
}

func (m *Manager) SendToChannel(ctx context.Context, channelName, chatID, content string) error {
	channel, exists := m.GetChannel(channelName)
	if !exists {
		return fmt.Errorf("channel %s not found", channelName)
	}
	return channel.Send(ctx, bus.OutboundMessage{
		Channel: channelName,
		ChatID:  chatID,
		Content: content,
	})
}

func (m *Manager) Pending() *requests.Store { return m.pending }

func (m *Manager) Cache() *cache.MessageCache { return m.cache }

func (m *Manager) Events() *eventlog.Log { return m.events }

// Resolve applies an owner decision through the router of the account that
// received the request.
func (m *Manager) Resolve(ctx context.Context, d requests.Decision) (requests.Request, error) {
	req, ok := m.pending.Get(d.Flag)
	if !ok {
		return requests.Request{}, router.ErrRequestNotFound
	}
	ch, ok := m.GetChannel(req.Account)
	if !ok {
		return req, fmt.Errorf("account %s for request %s is not running", req.Account, d.Flag)
	}
	ob, ok := ch.(*OneBotChannel)
	if !ok {
		return req, fmt.Errorf("account %s cannot resolve requests", req.Account)
	}
	return ob.Router().Resolve(ctx, d)
}

// Call issues a raw gateway action on the named account.
func (m *Manager) Call(ctx context.Context, account, action string, params interface{}) (json.RawMessage, error) {
	ch, ok := m.GetChannel(account)
	if !ok {
		return nil, fmt.Errorf("channel %s not found", account)
	}
	ob, ok := ch.(*OneBotChannel)
	if !ok {
		return nil, fmt.Errorf("channel %s does not support raw calls", account)
	}
	return ob.Call(ctx, action, params)
}

// SweepPending drops expired pending requests and reports how many went.
func (m *Manager) SweepPending() int {
	n := m.pending.Purge()
	if n > 0 {
		logger.InfoCF("channels", "Expired pending requests removed", map[string]interface{}{
			"count": n,
		})
	}
	return n
}
