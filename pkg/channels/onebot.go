package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/openclaw-qq/qqbridge/pkg/bus"
	"github.com/openclaw-qq/qqbridge/pkg/config"
	"github.com/openclaw-qq/qqbridge/pkg/eventlog"
	"github.com/openclaw-qq/qqbridge/pkg/logger"
	"github.com/openclaw-qq/qqbridge/pkg/onebot"
	"github.com/openclaw-qq/qqbridge/pkg/router"
	"github.com/openclaw-qq/qqbridge/pkg/utils"
)

const dedupSize = 1024

// gatewayClient is the part of *onebot.Client a channel drives.
type gatewayClient interface {
	onebot.Caller
	Connect() error
	Close()
	Connected() bool
	SelfID() int64
	OnEvent(fn func(*onebot.Event))
}

// OneBotChannel adapts one gateway account to the bus. Every push event goes
// through the router first; chat messages are then forwarded to the agent
// unless they are owner approval commands.
type OneBotChannel struct {
	*BaseChannel
	account config.AccountConfig
	client  gatewayClient
	api     *onebot.API
	router  *router.Router
	policy  router.PolicySource
	events  *eventlog.Log

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	dedup      map[string]struct{}
	dedupRing  []string
	dedupIdx   int
	lastActive string
}

type ChannelStatus struct {
	Name       string `json:"name"`
	Platform   string `json:"platform"`
	Running    bool   `json:"running"`
	Connected  bool   `json:"connected"`
	SelfID     int64  `json:"self_id"`
	LastActive string `json:"last_active,omitempty"`
}

func NewOneBotChannel(account config.AccountConfig, client gatewayClient, rt *router.Router,
	policy router.PolicySource, messageBus *bus.MessageBus, events *eventlog.Log) *OneBotChannel {
	c := &OneBotChannel{
		BaseChannel: NewBaseChannel(account.Name, messageBus, account.AllowFrom),
		account:     account,
		client:      client,
		api:         onebot.NewAPI(client),
		router:      rt,
		policy:      policy,
		events:      events,
		ctx:         context.Background(),
		dedup:       make(map[string]struct{}, dedupSize),
		dedupRing:   make([]string, dedupSize),
	}
	client.OnEvent(c.handleEvent)
	return c
}

func (c *OneBotChannel) Router() *router.Router { return c.router }

func (c *OneBotChannel) Start(ctx context.Context) error {
	if c.account.WSUrl == "" {
		return fmt.Errorf("%s: ws_url not configured", c.Name())
	}

	logger.InfoCF("channels", "Starting OneBot channel", map[string]interface{}{
		"account":  c.Name(),
		"platform": c.account.Platform,
		"ws_url":   c.account.WSUrl,
	})

	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if err := c.client.Connect(); err != nil {
		logger.WarnCF("channels", "Initial connection failed, will retry in background", map[string]interface{}{
			"account": c.Name(),
			"error":   err.Error(),
		})
	}

	c.setRunning(true)
	return nil
}

func (c *OneBotChannel) Stop(ctx context.Context) error {
	logger.InfoCF("channels", "Stopping OneBot channel", map[string]interface{}{
		"account": c.Name(),
	})
	c.setRunning(false)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.client.Close()
	return nil
}

func (c *OneBotChannel) Status() ChannelStatus {
	c.mu.Lock()
	lastActive := c.lastActive
	c.mu.Unlock()
	return ChannelStatus{
		Name:       c.Name(),
		Platform:   c.account.Platform,
		Running:    c.IsRunning(),
		Connected:  c.client.Connected(),
		SelfID:     c.client.SelfID(),
		LastActive: lastActive,
	}
}

// Call issues a raw gateway action on this account.
func (c *OneBotChannel) Call(ctx context.Context, action string, params interface{}) (json.RawMessage, error) {
	return c.client.Call(ctx, action, params)
}

func (c *OneBotChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("%s channel not running", c.Name())
	}

	chatID, err := c.resolveTarget(msg.ChatID)
	if err != nil {
		return err
	}
	message := buildOutboundMessage(msg.Content, msg.ReplyTo, msg.Media)

	var action string
	if groupID, ok := parseChatID(chatID, "group:"); ok {
		action = "send_group_msg"
		_, err = c.api.SendGroupMsg(ctx, groupID, message)
	} else if userID, ok := parseChatID(chatID, "private:"); ok {
		action = "send_private_msg"
		_, err = c.api.SendPrivateMsg(ctx, userID, message)
	} else {
		return fmt.Errorf("invalid chat id for %s: %s", c.Name(), msg.ChatID)
	}
	if err != nil {
		logger.ErrorCF("channels", "Failed to send message", map[string]interface{}{
			"account": c.Name(),
			"chat_id": chatID,
			"error":   err.Error(),
		})
		return err
	}

	if c.events != nil {
		c.events.AddOutbound(c.Name(), action, fmt.Sprintf("→ %s: %s", chatID, utils.Truncate(msg.Content, 80)))
	}
	return nil
}

// resolveTarget normalises an agent-supplied chat id to "group:<id>" or
// "private:<id>". A platform prefix ("qq:") is dropped, a bare number is a
// private chat and "bot" means the chat that last talked to us.
func (c *OneBotChannel) resolveTarget(chatID string) (string, error) {
	target := strings.TrimSpace(chatID)
	for _, prefix := range []string{c.Name() + ":", c.account.Platform + ":"} {
		if len(prefix) > 1 && len(target) > len(prefix) && strings.EqualFold(target[:len(prefix)], prefix) {
			target = target[len(prefix):]
			break
		}
	}

	if target == "bot" {
		c.mu.Lock()
		target = c.lastActive
		c.mu.Unlock()
		if target == "" {
			return "", fmt.Errorf("%s: no recent chat to reply to", c.Name())
		}
		return target, nil
	}
	if strings.HasPrefix(target, "group:") || strings.HasPrefix(target, "private:") {
		return target, nil
	}
	if _, err := strconv.ParseInt(target, 10, 64); err == nil {
		return "private:" + target, nil
	}
	return "", fmt.Errorf("invalid chat id for %s: %s", c.Name(), chatID)
}

func parseChatID(chatID, prefix string) (int64, bool) {
	if !strings.HasPrefix(chatID, prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(chatID[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (c *OneBotChannel) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *OneBotChannel) handleEvent(evt *onebot.Event) {
	ctx := c.context()
	c.router.Handle(ctx, evt)
	if evt.PostType == onebot.PostMessage {
		c.handleMessage(ctx, evt)
	}
}

func (c *OneBotChannel) selfID(evt *onebot.Event) int64 {
	if id := c.client.SelfID(); id != 0 {
		return id
	}
	return evt.SelfID.Int64()
}

func (c *OneBotChannel) handleMessage(ctx context.Context, evt *onebot.Event) {
	messageID := evt.MessageID.String()
	if c.isDuplicate(messageID) {
		logger.DebugCF("channels", "Duplicate message, skipping", map[string]interface{}{
			"account":    c.Name(),
			"message_id": messageID,
		})
		return
	}

	parsed := parseMessageContent(evt.Message, evt.RawMessage, c.selfID(evt))
	content := parsed.Text
	if content == "" {
		content = mediaPlaceholder(parsed.Segments)
	}
	if content == "" {
		logger.DebugCF("channels", "Received empty message, ignoring", map[string]interface{}{
			"account":    c.Name(),
			"message_id": messageID,
		})
		return
	}

	userID := evt.UserID.Int64()
	senderID := strconv.FormatInt(userID, 10)

	if evt.MessageType == "private" {
		if owner := c.policy.Policy().OwnerID; owner != 0 && userID == owner && c.router.HandleOwnerCommand(ctx, content) {
			logger.InfoCF("channels", "Owner approval command handled", map[string]interface{}{
				"account": c.Name(),
				"content": utils.Truncate(content, 100),
			})
			return
		}
	}

	if !c.IsAllowed(senderID) {
		logger.DebugCF("channels", "Message ignored (sender not allowed)", map[string]interface{}{
			"account":    c.Name(),
			"sender":     senderID,
			"message_id": messageID,
		})
		return
	}

	metadata := map[string]string{
		"message_id": messageID,
		"account":    c.Name(),
		"platform":   c.account.Platform,
	}
	if name := evt.Sender.DisplayName(); name != "" {
		metadata["sender_name"] = name
	}
	if evt.Sender.Nickname != "" {
		metadata["nickname"] = evt.Sender.Nickname
	}
	if replyIDs := extractReplyIDs(parsed.Segments); len(replyIDs) > 0 {
		metadata["reply_ids"] = strings.Join(replyIDs, ",")
	}

	var chatID string
	switch evt.MessageType {
	case "private":
		chatID = "private:" + senderID
		logger.InfoCF("channels", "Received private message", map[string]interface{}{
			"account":    c.Name(),
			"sender":     senderID,
			"message_id": messageID,
			"content":    utils.Truncate(content, 100),
		})

	case "group":
		groupIDStr := strconv.FormatInt(evt.GroupID.Int64(), 10)
		if !c.isGroupAllowed(groupIDStr) {
			logger.DebugCF("channels", "Group message ignored (group not allowed)", map[string]interface{}{
				"account": c.Name(),
				"sender":  senderID,
				"group":   groupIDStr,
			})
			return
		}

		triggered, stripped := c.checkGroupTrigger(content, parsed.IsBotMentioned)
		if !triggered {
			logger.DebugCF("channels", "Group message ignored (no trigger)", map[string]interface{}{
				"account": c.Name(),
				"sender":  senderID,
				"group":   groupIDStr,
				"content": utils.Truncate(content, 100),
			})
			return
		}
		if stripped == "" {
			stripped = mediaPlaceholder(parsed.Segments)
		}
		if stripped == "" {
			return
		}
		content = stripped
		chatID = "group:" + groupIDStr
		metadata["group_id"] = groupIDStr
		logger.InfoCF("channels", "Received group message", map[string]interface{}{
			"account":      c.Name(),
			"sender":       senderID,
			"group":        groupIDStr,
			"message_id":   messageID,
			"is_mentioned": parsed.IsBotMentioned,
			"content":      utils.Truncate(content, 100),
		})

	default:
		logger.WarnCF("channels", "Unknown message type, cannot route", map[string]interface{}{
			"account":    c.Name(),
			"type":       evt.MessageType,
			"message_id": messageID,
		})
		return
	}

	c.mu.Lock()
	c.lastActive = chatID
	c.mu.Unlock()

	c.HandleMessage(senderID, chatID, content, parsed.MediaURLs, metadata)
}

func (c *OneBotChannel) isDuplicate(messageID string) bool {
	if messageID == "" || messageID == "0" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.dedup[messageID]; exists {
		return true
	}
	if old := c.dedupRing[c.dedupIdx]; old != "" {
		delete(c.dedup, old)
	}
	c.dedupRing[c.dedupIdx] = messageID
	c.dedup[messageID] = struct{}{}
	c.dedupIdx = (c.dedupIdx + 1) % len(c.dedupRing)
	return false
}

// checkGroupTrigger accepts group messages that mention the bot or start
// with a configured prefix. With no prefixes configured only mentions count.
func (c *OneBotChannel) checkGroupTrigger(content string, isBotMentioned bool) (bool, string) {
	if isBotMentioned {
		return true, strings.TrimSpace(content)
	}
	for _, prefix := range c.account.GroupTriggerPrefix {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(content, prefix) {
			return true, strings.TrimSpace(strings.TrimPrefix(content, prefix))
		}
	}
	return false, content
}

func (c *OneBotChannel) isGroupAllowed(groupID string) bool {
	if len(c.account.AllowGroups) == 0 {
		return true
	}
	for _, allowed := range c.account.AllowGroups {
		if strings.TrimSpace(strings.TrimPrefix(allowed, "group:")) == groupID {
			return true
		}
	}
	return false
}
